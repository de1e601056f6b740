// Package jobstore persists classifyd batch jobs in SQLite.
//
// Each row holds the job's run status and its latest status snapshot, encoded
// exactly as the file store would write it, so the HTTP job endpoint can serve
// the row verbatim. The schema is embedded and applied through numbered
// migrations tracked in SQLite's user_version; a database written by a newer
// build is rejected with ErrSchemaMismatch.
//
// Writes retry briefly on SQLITE_BUSY because the service writes snapshots
// from job goroutines while request handlers read.
package jobstore
