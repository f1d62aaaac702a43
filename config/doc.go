// Package config loads ntscope configuration from JSON, YAML or TOML files.
//
// The file format follows the extension (.json, .yaml/.yml, .toml). Files are
// decoded on top of Default, so a file only needs the settings it changes;
// unknown keys are rejected. Durations are written as strings such as
// "500ms" or "2s" in every format.
//
//	cfg, err := config.Load("ntscope.yaml")
//	if err != nil {
//		return err
//	}
//	if err := cfg.ApplyEnv("NTSCOPE"); err != nil {
//		return err
//	}
//	sess := session.New(cfg.Session())
//
// An example YAML file:
//
//	live:
//	  connect: true
//	  host: 10.12.34.2
//	  reconnect_delay: 500ms
//	store:
//	  nested: true
//	  flat: false
//	gateway:
//	  addr: ":8080"
//	log:
//	  level: debug
//	  format: json
//
// Sections map onto the packages they configure through NT4, Session and
// GatewayConfig.
package config
