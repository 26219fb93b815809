// Package tools provides small host helpers shared by the bootstrapper.
//
// Ownership boundary:
// - one-shot command execution with captured output
//
// Long-lived child processes are owned by the supervisor package, not here.
package tools
