// Package tools provides host process helpers.
//
// Ownership boundary:
// - one-shot command execution
// - long-running child process start and terminate
package tools
