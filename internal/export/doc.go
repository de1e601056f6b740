// Package export runs paged tag-and-export workflows against a case: tag all
// items page by page, export one tagged page at a time, and remove the export
// tags afterwards.
package export
