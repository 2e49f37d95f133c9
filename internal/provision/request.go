// ABOUTME: Provisioning request model, chat argument parsing and field validation
// ABOUTME: Allow-lists every user-supplied field before it can reach a remote command

package provision

import (
	"regexp"
	"strconv"
)

const (
	// MaxMemoryMB caps a single guest at 1 TiB.
	MaxMemoryMB = 1 << 20
	// MaxCores caps a single guest's vCPU count.
	MaxCores = 512
)

var (
	diskPattern     = regexp.MustCompile(`^[1-9][0-9]{0,5}(\.[0-9]{1,3})?[KMGT]?$`)
	hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// Request is one create-vps invocation. It is built once per command and never mutated.
type Request struct {
	RequesterID   string
	RequesterName string
	Roles         []string

	MemoryMB int
	Cores    int
	Disk     string
	Customer string
}

// Usage is the argument synopsis shown when a create-vps command is malformed.
const Usage = "create-vps <memoryMB> <cores> <disk> <customer>"

// ParseArgs converts raw chat arguments into the sizing fields of a Request.
// Requester fields are left for the caller to fill in.
func ParseArgs(args []string) (Request, error) {
	if len(args) != 4 {
		return Request{}, invalid("arguments", "expected 4 arguments (%s), got %d", Usage, len(args))
	}

	memory, err := strconv.Atoi(args[0])
	if err != nil {
		return Request{}, invalid("memory", "%q is not an integer", args[0])
	}
	cores, err := strconv.Atoi(args[1])
	if err != nil {
		return Request{}, invalid("cores", "%q is not an integer", args[1])
	}

	return Request{
		MemoryMB: memory,
		Cores:    cores,
		Disk:     args[2],
		Customer: args[3],
	}, nil
}

// Validate checks every sizing field against its allow-list.
func (r Request) Validate() error {
	if r.MemoryMB <= 0 {
		return invalid("memory", "must be a positive number of MB")
	}
	if r.MemoryMB > MaxMemoryMB {
		return invalid("memory", "must not exceed %d MB", MaxMemoryMB)
	}
	if r.Cores <= 0 {
		return invalid("cores", "must be positive")
	}
	if r.Cores > MaxCores {
		return invalid("cores", "must not exceed %d", MaxCores)
	}
	if r.Disk == "" {
		return invalid("disk", "is required")
	}
	if !diskPattern.MatchString(r.Disk) {
		return invalid("disk", "%q is not a size like 20 or 20G", truncate(r.Disk, 32))
	}
	if r.Customer == "" {
		return invalid("customer", "is required")
	}
	if !hostnamePattern.MatchString(r.Customer) {
		return invalid("customer", "must be a hostname label (letters, digits and inner hyphens, max 63)")
	}
	return nil
}

// ValidHostname reports whether s is usable as a guest hostname.
func ValidHostname(s string) bool {
	return hostnamePattern.MatchString(s)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
