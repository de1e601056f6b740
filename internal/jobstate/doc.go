// Package jobstate defines the progress snapshot exchanged between a batch
// producer and the processes that monitor it.
//
// A Report pairs a Status (total, current item, percent, done flag, unit
// errors) with the ordered per-unit outcomes recorded so far. Reports are
// values: every update returns a new Report and never mutates the receiver,
// so a snapshot handed to a writer cannot change underneath it.
//
// # Wire format
//
// Encode and Decode speak the JSON layout shared by the file-based and the
// HTTP status resources:
//
//	{
//	  "status":  {"done": false, "progress": 33, "current_item": 1, "total": 3, "errors": []},
//	  "results": {"unit1": [{"cat": "0.91"}]}
//	}
//
// Result keys keep their insertion order on both sides. A failed unit is
// written as a single {"ERROR": "<message>"} entry. Decode validates the
// document against an embedded JSON schema and reports anything it cannot
// accept as ErrMalformed, which readers treat as "try again".
package jobstate
