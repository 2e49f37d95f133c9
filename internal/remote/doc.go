// Package remote runs provisioning commands on the hypervisor host over SSH.
//
// Each call to Executor.Execute dials, authenticates, verifies the host key,
// runs exactly one command and closes the connection, whether the command
// succeeds, fails, or outlives its context. Infrastructure faults surface as
// *ConnectionError (matching ErrConnection) and deadline overruns as
// ErrTimeout; a command that runs and exits non-zero is a normal Result.
package remote
