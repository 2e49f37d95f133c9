// ABOUTME: Fans provisioning outcomes out to origin room, requester DM and audit sink
// ABOUTME: Each delivery is independent; failures are logged and returned, never raised

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/vpsbot/internal/provision"
	"github.com/2389/vpsbot/internal/remote"
)

// maxDetailLen bounds remote output quoted back into a room.
const maxDetailLen = 1500

const scrubbed = "********"

// Outcome is everything the reporter needs about one finished request.
// Exactly one of Result and Err is set.
type Outcome struct {
	Origin    Origin
	Requester Requester
	Spec      *provision.Spec

	// Result is the remote command's output when a session was established.
	Result *remote.Result
	// Err is an infrastructure fault: connection failure or timeout.
	Err error
}

// Kind classifies an Outcome.
type Kind int

const (
	KindSuccess Kind = iota
	KindRemoteFailure
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRemoteFailure:
		return "remote_failure"
	case KindFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Kind reports how the outcome is delivered. A non-zero exit status or any
// stderr output is a remote failure.
func (o Outcome) Kind() Kind {
	switch {
	case o.Err != nil || o.Result == nil:
		return KindFault
	case o.Result.Failed():
		return KindRemoteFailure
	default:
		return KindSuccess
	}
}

// DeliveryHook observes every delivery attempt. err is nil on success.
type DeliveryHook func(target Target, err error)

// Options configures a Reporter.
type Options struct {
	// RecordFailures posts an audit line for remote command failures. The line
	// never includes remote output.
	RecordFailures bool
	// Hook, if set, is called after every delivery attempt.
	Hook DeliveryHook
}

// Reporter delivers outcomes. It is safe for concurrent use.
type Reporter struct {
	messenger Messenger
	audit     AuditSink
	opts      Options
	logger    *slog.Logger
}

// NewReporter creates a reporter. A nil audit sink discards audit records.
func NewReporter(m Messenger, audit AuditSink, opts Options, logger *slog.Logger) *Reporter {
	if audit == nil {
		audit = DiscardAudit{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		messenger: m,
		audit:     audit,
		opts:      opts,
		logger:    logger.With("component", "notify"),
	}
}

// Notify posts a single message to the origin room. It is used for terminal
// states that never reach execution, such as rejections and validation failures.
func (r *Reporter) Notify(ctx context.Context, origin Origin, text string) error {
	return r.deliver(TargetOrigin, func() error { return r.messenger.Reply(ctx, origin, text) })
}

// Report delivers o to every target its kind calls for and returns the delivery
// failures, if any. The origin room always receives exactly one message.
func (r *Reporter) Report(ctx context.Context, o Outcome) []error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	secret := ""
	if o.Spec != nil {
		secret = o.Spec.Password
	}

	switch o.Kind() {
	case KindSuccess:
		collect(r.deliver(TargetOrigin, func() error {
			return r.messenger.Reply(ctx, o.Origin, successSummary(o.Spec, o.Result, secret))
		}))
		collect(r.deliver(TargetRequester, func() error {
			return r.messenger.DirectMessage(ctx, o.Requester, credentialsMessage(o.Requester, o.Spec))
		}))
		collect(r.deliver(TargetAudit, func() error {
			return r.audit.Record(ctx, fmt.Sprintf("VPS created for %s by %s", hostname(o.Spec), displayName(o.Requester)))
		}))

	case KindRemoteFailure:
		collect(r.deliver(TargetOrigin, func() error {
			return r.messenger.Reply(ctx, o.Origin, failureSummary(o.Result, secret))
		}))
		if r.opts.RecordFailures {
			collect(r.deliver(TargetAudit, func() error {
				return r.audit.Record(ctx, fmt.Sprintf("VPS creation failed for %s by %s (%s)",
					hostname(o.Spec), displayName(o.Requester), failureStatus(o.Result)))
			}))
		}

	case KindFault:
		collect(r.deliver(TargetOrigin, func() error {
			return r.messenger.Reply(ctx, o.Origin, faultSummary(o.Err, secret))
		}))
	}

	return errs
}

// deliver runs send, converting errors and panics into a *NotificationDeliveryError.
func (r *Reporter) deliver(target Target, send func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		if err != nil {
			err = &NotificationDeliveryError{Target: target, Err: err}
			r.logger.Warn("notification delivery failed", "target", target, "error", err)
		}
		if r.opts.Hook != nil {
			r.opts.Hook(target, err)
		}
	}()
	return send()
}

func successSummary(spec *provision.Spec, res *remote.Result, secret string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "VPS created successfully: **%s** (guest %d)", hostname(spec), guestID(spec))
	if out := strings.TrimSpace(scrub(res.Stdout, secret)); out != "" {
		fmt.Fprintf(&b, "\n\n```\n%s\n```", clip(out))
	}
	return b.String()
}

func credentialsMessage(to Requester, spec *provision.Spec) string {
	return fmt.Sprintf("Hello %s, your VPS has been created.\n"+
		"Hostname: %s\nGuest ID: %d\nMemory: %d MB\nCores: %d\nDisk: %s\nPassword: %s",
		displayName(to), spec.Hostname, spec.GuestID, spec.MemoryMB, spec.Cores, spec.Disk, spec.Password)
}

func failureSummary(res *remote.Result, secret string) string {
	detail := strings.TrimSpace(scrub(res.Stderr, secret))
	if detail == "" {
		detail = fmt.Sprintf("command exited with status %d", res.ExitStatus)
	}
	return "Error creating VPS: " + clip(detail)
}

func failureStatus(res *remote.Result) string {
	if res.ExitSucceeded {
		return "errors on stderr"
	}
	return fmt.Sprintf("exit status %d", res.ExitStatus)
}

func faultSummary(err error, secret string) string {
	if err == nil {
		return "An error occurred while creating the VPS."
	}
	return "An error occurred while creating the VPS: " + clip(scrub(err.Error(), secret))
}

// scrub masks every occurrence of secret in s.
func scrub(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, scrubbed)
}

func clip(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	return s[:maxDetailLen] + "…"
}

func displayName(r Requester) string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

func hostname(spec *provision.Spec) string {
	if spec == nil {
		return "(unknown)"
	}
	return spec.Hostname
}

func guestID(spec *provision.Spec) int {
	if spec == nil {
		return 0
	}
	return spec.GuestID
}
