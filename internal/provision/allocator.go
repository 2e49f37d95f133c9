// ABOUTME: Monotonic guest id allocation shared by every provisioning request
// ABOUTME: Optionally seeded once at startup from the host's next free id

package provision

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const (
	// MinGuestID is the lowest id Proxmox accepts for a guest.
	MinGuestID = 100
	// MaxGuestID is the highest id Proxmox accepts for a guest.
	MaxGuestID = 999999999
)

// Allocator hands out strictly increasing guest ids. Two requests never receive the
// same id from one Allocator.
type Allocator struct {
	mu   sync.Mutex
	next int
}

// NewAllocator returns an allocator whose first id is first, clamped to MinGuestID.
func NewAllocator(first int) *Allocator {
	if first < MinGuestID {
		first = MinGuestID
	}
	return &Allocator{next: first}
}

// Next returns a fresh id.
func (a *Allocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.next
	a.next++
	return id
}

// Advance raises the next id to at least floor. Lower values are ignored so ids
// never move backwards.
func (a *Allocator) Advance(floor int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if floor > a.next {
		a.next = floor
	}
}

// Peek returns the id the next call to Next will hand out.
func (a *Allocator) Peek() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// NextIDCommand asks the Proxmox cluster for its next free guest id.
func NextIDCommand() Command {
	return NewCommand("pvesh", "get", "/cluster/nextid")
}

// ParseNextID parses the output of NextIDCommand. pvesh prints the id either bare or
// as a JSON string depending on the output format.
func ParseNextID(out string) (int, error) {
	s := strings.Trim(strings.TrimSpace(out), `"`)
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing next id %q: %w", truncate(out, 32), err)
	}
	if id < MinGuestID || id > MaxGuestID {
		return 0, fmt.Errorf("next id %d out of range", id)
	}
	return id, nil
}
