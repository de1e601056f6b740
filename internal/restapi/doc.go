// Package restapi is a client for the case-management REST service used by
// export runs: session login, case lookup, item search and tagging, native
// exports and asynchronous function polling.
//
// Requests are paced by a token-bucket limiter. AsyncStore adapts an
// asynchronous function to statusstore.Store so exports are awaited with the
// same monitor that watches classification jobs.
package restapi
