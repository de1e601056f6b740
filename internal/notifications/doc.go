// Package notifications delivers job and export events via ntfy.
//
// The default implementation publishes to the topic URL configured under
// [notifications] and degrades to a no-op when no topic is set, so callers
// notify unconditionally and log delivery errors without failing the job.
package notifications
