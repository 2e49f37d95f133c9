// ABOUTME: Provisioning ledger types
// ABOUTME: One Request row per create-vps invocation that reached the coordinator

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Request is the persisted record of one provisioning request. It never holds
// the guest password or remote output.
type Request struct {
	ID          string
	Room        string
	RequesterID string
	Customer    string
	GuestID     int // 0 when the request ended before an id was allocated
	MemoryMB    int
	Cores       int
	Disk        string
	State       string
	ExitStatus  *int // set only when the remote command ran to completion
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// RequestFilter narrows ListRequests.
type RequestFilter struct {
	RequesterID *string
	State       *string
	Limit       int // default 50, max 500
}
