// ABOUTME: Delivery targets for provisioning outcomes: chat messenger and audit sink
// ABOUTME: Defines the narrow interfaces the reporter consumes plus the delivery error type

package notify

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotificationDelivery is matched by every *NotificationDeliveryError.
var ErrNotificationDelivery = errors.New("notification delivery failed")

// Target names one of the three delivery destinations.
type Target string

const (
	TargetOrigin    Target = "origin"
	TargetRequester Target = "requester"
	TargetAudit     Target = "audit"
)

// NotificationDeliveryError records a failed delivery to one target.
type NotificationDeliveryError struct {
	Target Target
	Err    error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("delivering to %s: %v", e.Target, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }

// Is reports whether target is ErrNotificationDelivery.
func (e *NotificationDeliveryError) Is(target error) bool { return target == ErrNotificationDelivery }

// Origin identifies where a command was issued.
type Origin struct {
	Room    string
	EventID string // message being replied to; may be empty
}

// Requester identifies who issued a command.
type Requester struct {
	ID   string
	Name string
}

// Messenger delivers chat messages.
type Messenger interface {
	// Reply posts text in the room the command came from.
	Reply(ctx context.Context, origin Origin, text string) error
	// DirectMessage sends text privately to the requester.
	DirectMessage(ctx context.Context, to Requester, text string) error
}

// AuditSink records one human-readable line per provisioning outcome.
type AuditSink interface {
	Record(ctx context.Context, line string) error
}

// DiscardAudit is an AuditSink that drops every record.
type DiscardAudit struct{}

// Record implements AuditSink.
func (DiscardAudit) Record(context.Context, string) error { return nil }
