// Package provision turns a create-vps request into a Proxmox container creation command.
//
// # Overview
//
// A Request carries the requester and the four user-supplied parameters (memory in MB,
// cores, disk size, customer hostname). Builder validates it, reserves a guest id from
// the shared Allocator, generates a password and renders a Command:
//
//	pct create <id> <image> --memory <mb> --cores <n> --rootfs <storage>:<disk>
//	    --net0 name=<iface>,bridge=<bridge>,firewall=1 --hostname <customer>
//	    --password <secret> --start 1
//
// # Validation
//
// Every user field is matched against an allow-list; nothing is escaped and passed
// through:
//
//   - memory: 1 .. MaxMemoryMB
//   - cores: 1 .. MaxCores
//   - disk: a number with an optional K/M/G/T suffix, e.g. 20 or 20G
//   - customer: a single RFC 1123 hostname label
//
// Failures are *ValidationError values matching ErrValidation.
//
// # Commands
//
// Command keeps the argument vector. String renders it shell-quoted for the remote
// exec request; Redacted masks the password for logs. ParseCommand reads a rendered
// command back.
//
// # Guest ids
//
// Allocator is a mutex-guarded counter. It can be advanced at startup with the
// output of NextIDCommand so ids continue above what already exists on the host,
// and past the highest id in the request ledger.
package provision
