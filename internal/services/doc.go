// Package services defines the error markers shared by casewatch components.
//
// Components wrap failures with Wrap and one of the sentinel markers so the
// command layer can map them to exit codes without knowing which package
// produced them. Errors may also implement ErrorClassifier to declare their
// kind directly; the monitor timeout and abort errors do this.
package services
