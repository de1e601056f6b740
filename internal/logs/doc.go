// Package logs reads the log files written under <state_dir>/logs, for
// printing recent lines and following new ones filtered by job or case.
package logs
