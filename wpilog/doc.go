// Package wpilog reads WPILib data log files into a fieldstore.
//
// A log starts with the "WPILOG" magic, a little-endian version (1.0) and an
// extra header string. Each record begins with one length byte whose bit
// groups give the widths of the entry id (1-4 bytes), payload size (1-4)
// and timestamp (1-8). Entry 0 is the control channel carrying Start,
// Finish and SetMetadata records.
//
// Decode turns a whole log into a fieldstore.Snapshot. Struct schemas
// logged under /.schema/ feed the store's decoder, so struct entries
// resolve even when the schema record comes after the data. A log cut off
// mid-record keeps everything before the damaged record.
//
// Importer runs Decode on a worker pool and hands results back as CBOR
// snapshot bytes. Invalidate discards every import still in flight:
//
//	imp := wpilog.NewImporter(wpilog.DefaultImporterConfig(), func(r wpilog.Result) {
//	    snap, err := fieldstore.DecodeSnapshot(r.Snapshot)
//	    ...
//	})
//	if err := imp.Start(ctx); err != nil {
//	    return err
//	}
//	defer imp.Stop(5 * time.Second)
//	_, _, err := imp.Submit("match.wpilog", data)
package wpilog
