// Package statusstore holds the shared status snapshot a producer writes and
// a consumer polls.
//
// A Store is the read-only consumer view: Exists reports whether any snapshot
// has been written yet, and Read returns the last complete snapshot or a
// *ParseError when the bytes are absent, empty or torn. Writers replace the
// whole snapshot on every call. FileWriter renames a temporary sibling into
// place so readers normally never observe a partial file, but consumers keep
// treating parse failures as "try again" because in-place writers and remote
// producers make no such promise.
//
// Three stores ship with the package: FileStore for the JSON file a local
// producer maintains, HTTPStore for a status resource served over HTTP, and
// the FileWriter producer side with a single-writer lock.
package statusstore
