// ABOUTME: Test doubles for the coordinator: scripted executor, chat and audit sinks
// ABOUTME: Record every call so tests can assert what did and did not happen

package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/2389/vpsbot/internal/notify"
	"github.com/2389/vpsbot/internal/provision"
	"github.com/2389/vpsbot/internal/remote"
	"github.com/2389/vpsbot/internal/store"
)

type fakeExecutor struct {
	mu       sync.Mutex
	commands []provision.Command
	run      func(ctx context.Context, cmd provision.Command) (*remote.Result, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd provision.Command) (*remote.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	run := f.run
	f.mu.Unlock()
	if run == nil {
		return &remote.Result{ExitSucceeded: true}, nil
	}
	return run(ctx, cmd)
}

func (f *fakeExecutor) calls() []provision.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provision.Command(nil), f.commands...)
}

type fakeMessenger struct {
	mu      sync.Mutex
	replies []string
	dms     []string
	dmErr   error
}

func (f *fakeMessenger) Reply(_ context.Context, _ notify.Origin, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeMessenger) DirectMessage(_ context.Context, _ notify.Requester, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dmErr != nil {
		return f.dmErr
	}
	f.dms = append(f.dms, text)
	return nil
}

type fakeAudit struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeAudit) Record(_ context.Context, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []string
	remotes  []string
}

func (f *fakeRecorder) RequestCompleted(state string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, state)
}

func (f *fakeRecorder) RemoteCommandCompleted(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remotes = append(f.remotes, outcome)
}

type fakeLedger struct {
	mu      sync.Mutex
	records []store.Request
	highest int
	err     error
}

func (f *fakeLedger) RecordRequest(_ context.Context, r *store.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *r)
	return nil
}

func (f *fakeLedger) HighestGuestID(context.Context) (int, error) {
	return f.highest, f.err
}

var errAuthRejected = errors.New("ssh: unable to authenticate, attempted methods [none password], no supported methods remain")
