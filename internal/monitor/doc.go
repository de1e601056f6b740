// Package monitor waits for a producer to finish a job by polling its status
// store.
//
// Reader wraps a statusstore.Store so a torn, empty or absent snapshot is just
// "no update this cycle". WaitForCompletion drives the poll loop: it waits for
// the store to appear, reads it every poll interval, reports de-duplicated
// progress to an observer and returns the first snapshot marked done. Start
// runs the same loop on its own goroutine and hands the outcome back on a
// single-use channel.
//
// The loop never fails because of a bad read. It ends early only when the
// caller's deadline passes (ErrTimeout), when a watched producer process exits
// without finishing or the store reports statusstore.ErrJobFailed
// (ErrJobAborted), or when the store itself gives up
// (statusstore.ErrUnavailable).
package monitor
