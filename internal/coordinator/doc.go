// Package coordinator drives a single create-vps request through authorization,
// command construction, remote execution and reporting.
//
// Every request ends in one terminal State and produces exactly one message in the
// room it came from. Build and execution are serialized so two requests never run
// against the host at the same time.
package coordinator
