// ABOUTME: Orchestrates one create-vps request: authorize, build, execute, report
// ABOUTME: Serializes build and execution and always ends with exactly one origin message

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/vpsbot/internal/auth"
	"github.com/2389/vpsbot/internal/notify"
	"github.com/2389/vpsbot/internal/provision"
	"github.com/2389/vpsbot/internal/remote"
	"github.com/2389/vpsbot/internal/store"
)

const (
	defaultCommandTimeout = 5 * time.Minute
	reportTimeout         = 30 * time.Second
)

// User-visible messages for states that end before execution.
const (
	msgUnauthorized = "You are not authorized to use this command."
	msgInternal     = "An internal error occurred while preparing the VPS. Nothing was created."
)

// Executor runs a command on the provisioning host.
type Executor interface {
	Execute(ctx context.Context, cmd provision.Command) (*remote.Result, error)
}

// Recorder receives per-request measurements. The metrics package implements it.
type Recorder interface {
	RequestCompleted(state string, elapsed time.Duration)
	RemoteCommandCompleted(outcome string, elapsed time.Duration)
}

// Ledger persists the terminal state of each request. *store.SQLiteStore
// implements it.
type Ledger interface {
	RecordRequest(ctx context.Context, r *store.Request) error
}

// TypingFunc shows or clears an activity indicator in the origin room.
type TypingFunc func(ctx context.Context, origin notify.Origin, typing bool)

// Config holds the coordinator's static settings.
type Config struct {
	AuthorizedRoles []string
	// CommandTimeout bounds connecting plus running the remote command.
	CommandTimeout time.Duration
}

// Invocation is one inbound create-vps command.
type Invocation struct {
	Origin    notify.Origin
	Requester notify.Requester
	Roles     []string
	Args      []string
}

// Outcome is what Handle returns: the terminal state and, for every state other than
// a successful Reported, the error that ended the request.
type Outcome struct {
	RequestID string
	State     State
	Err       error
}

// Coordinator runs provisioning requests.
type Coordinator struct {
	cfg      Config
	builder  *provision.Builder
	exec     Executor
	reporter *notify.Reporter
	logger   *slog.Logger

	recorder Recorder
	typing   TypingFunc
	ledger   Ledger

	// mu serializes build and execution so requests never race on the host.
	mu sync.Mutex
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithTyping shows a typing indicator while the remote command runs.
func WithTyping(f TypingFunc) Option {
	return func(c *Coordinator) { c.typing = f }
}

// WithLedger records every finished request.
func WithLedger(l Ledger) Option {
	return func(c *Coordinator) { c.ledger = l }
}

// New creates a Coordinator.
func New(cfg Config, builder *provision.Builder, exec Executor, reporter *notify.Reporter, logger *slog.Logger, opts ...Option) *Coordinator {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		cfg:      cfg,
		builder:  builder,
		exec:     exec,
		reporter: reporter,
		logger:   logger.With("component", "coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle processes inv to a terminal state. It never panics and never returns
// before the origin room has been sent its one message (or delivery has failed).
func (c *Coordinator) Handle(ctx context.Context, inv Invocation) Outcome {
	start := time.Now()
	out := Outcome{RequestID: uuid.NewString(), State: Received}
	logger := c.logger.With("request_id", out.RequestID, "room", inv.Origin.Room, "sender", inv.Requester.ID)

	var spec *executed
	defer func() {
		logger.Info("request finished", "state", out.State, "elapsed", time.Since(start), "error", out.Err)
		if c.recorder != nil {
			c.recorder.RequestCompleted(out.State.String(), time.Since(start))
		}
		c.record(ctx, logger, inv, out, spec, start)
	}()

	// Deliveries must still happen if ctx is cancelled mid-request.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	// Received -> Authorized | Rejected
	var decision auth.Decision
	if err := safely(func() error {
		decision = auth.Check(inv.Roles, c.cfg.AuthorizedRoles)
		return nil
	}); err != nil {
		decision = auth.Decision{Reason: err.Error()}
	}
	if !decision.Allowed {
		logger.Warn("request rejected", "reason", decision.Reason)
		out.State, out.Err = Rejected, decision.Err()
		c.notify(reportCtx, logger, inv.Origin, msgUnauthorized)
		return out
	}
	out.State = Authorized
	logger.Debug("request authorized", "matched_roles", decision.Matched)

	c.mu.Lock()
	spec, state, err := c.buildAndExecute(ctx, logger, inv)
	c.mu.Unlock()

	out.State, out.Err = state, err
	switch state {
	case BuildFailed:
		c.notify(reportCtx, logger, inv.Origin, buildFailureMessage(err))
		return out
	case ConnectionFaulted, TimedOut:
		c.report(reportCtx, logger, notify.Outcome{Origin: inv.Origin, Requester: inv.Requester, Spec: spec.Spec, Err: err})
		return out
	}

	// Executed -> Reported
	res := spec.result
	if res.Failed() {
		out.Err = &RemoteCommandError{ExitStatus: res.ExitStatus, Stderr: res.Stderr}
	}
	c.report(reportCtx, logger, notify.Outcome{
		Origin:    inv.Origin,
		Requester: inv.Requester,
		Spec:      spec.Spec,
		Result:    res,
	})
	out.State = Reported
	return out
}

type executed struct {
	*provision.Spec
	result *remote.Result
}

// buildAndExecute walks Authorized -> Built -> Executed. On BuildFailed the returned
// spec is nil; on ConnectionFaulted and TimedOut it carries only the build.
func (c *Coordinator) buildAndExecute(ctx context.Context, logger *slog.Logger, inv Invocation) (*executed, State, error) {
	// Authorized -> Built | BuildFailed
	var spec *provision.Spec
	err := safely(func() error {
		req, err := provision.ParseArgs(inv.Args)
		if err != nil {
			return err
		}
		req.RequesterID = inv.Requester.ID
		req.RequesterName = inv.Requester.Name
		req.Roles = inv.Roles
		spec, err = c.builder.Build(req)
		return err
	})
	if err != nil {
		logger.Warn("request could not be built", "error", err)
		return nil, BuildFailed, err
	}
	logger.Info("provisioning guest",
		"guest_id", spec.GuestID,
		"hostname", spec.Hostname,
		"memory_mb", spec.MemoryMB,
		"cores", spec.Cores,
		"disk", spec.Disk,
	)

	// Built -> Executed | ConnectionFaulted | TimedOut
	execCtx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	if c.typing != nil {
		c.typing(execCtx, inv.Origin, true)
		defer c.typing(context.WithoutCancel(ctx), inv.Origin, false)
	}

	started := time.Now()
	var res *remote.Result
	err = safely(func() error {
		var err error
		res, err = c.exec.Execute(execCtx, spec.Command)
		if err == nil && res == nil {
			err = fmt.Errorf("%w: executor returned no result", ErrInternal)
		}
		return err
	})
	elapsed := time.Since(started)

	switch {
	case errors.Is(err, remote.ErrTimeout):
		c.observeRemote("timeout", elapsed)
		logger.Error("remote command timed out", "guest_id", spec.GuestID, "error", err)
		return &executed{Spec: spec}, TimedOut, err
	case err != nil:
		c.observeRemote("connection_error", elapsed)
		logger.Error("remote session failed", "guest_id", spec.GuestID, "error", err)
		return &executed{Spec: spec}, ConnectionFaulted, err
	case res.Failed():
		c.observeRemote("remote_error", elapsed)
		logger.Warn("remote command failed", "guest_id", spec.GuestID, "exit_status", res.ExitStatus)
	default:
		c.observeRemote("success", elapsed)
		logger.Info("remote command succeeded", "guest_id", spec.GuestID, "duration", res.Duration)
	}
	return &executed{Spec: spec, result: res}, Executed, nil
}

func (c *Coordinator) report(ctx context.Context, logger *slog.Logger, o notify.Outcome) {
	for _, err := range c.reporter.Report(ctx, o) {
		logger.Warn("outcome not fully delivered", "error", err)
	}
}

func (c *Coordinator) notify(ctx context.Context, logger *slog.Logger, origin notify.Origin, text string) {
	if err := c.reporter.Notify(ctx, origin, text); err != nil {
		logger.Warn("reply not delivered", "error", err)
	}
}

// record writes the request to the ledger. Remote output and the guest password
// are never stored.
func (c *Coordinator) record(ctx context.Context, logger *slog.Logger, inv Invocation, out Outcome, spec *executed, start time.Time) {
	if c.ledger == nil {
		return
	}
	r := &store.Request{
		ID:          out.RequestID,
		Room:        inv.Origin.Room,
		RequesterID: inv.Requester.ID,
		State:       out.State.String(),
		CreatedAt:   start,
		CompletedAt: time.Now(),
	}
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	if spec != nil && spec.Spec != nil {
		r.Customer = spec.Hostname
		r.GuestID = spec.GuestID
		r.MemoryMB = spec.MemoryMB
		r.Cores = spec.Cores
		r.Disk = spec.Disk
	}
	if spec != nil && spec.result != nil {
		status := spec.result.ExitStatus
		r.ExitStatus = &status
	}

	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := safely(func() error { return c.ledger.RecordRequest(ledgerCtx, r) }); err != nil {
		logger.Warn("request not recorded", "error", err)
	}
}

func (c *Coordinator) observeRemote(outcome string, elapsed time.Duration) {
	if c.recorder != nil {
		c.recorder.RemoteCommandCompleted(outcome, elapsed)
	}
}

func buildFailureMessage(err error) string {
	if errors.Is(err, provision.ErrValidation) {
		return fmt.Sprintf("Invalid request: %v\nUsage: %s", err, provision.Usage)
	}
	return msgInternal
}

// safely runs f, converting a panic into ErrInternal.
func safely(f func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("recovered panic", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrInternal, p)
		}
	}()
	return f()
}
