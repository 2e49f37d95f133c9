// ABOUTME: Recording fakes for Messenger and AuditSink used by reporter tests
// ABOUTME: Each fake can be told to fail so independent delivery can be asserted

package notify

import (
	"context"
	"errors"
	"sync"
)

type sentMessage struct {
	Room string
	To   string
	Text string
}

type fakeMessenger struct {
	mu       sync.Mutex
	replies  []sentMessage
	dms      []sentMessage
	replyErr error
	dmErr    error
	dmPanic  bool
}

func (f *fakeMessenger) Reply(_ context.Context, origin Origin, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.replies = append(f.replies, sentMessage{Room: origin.Room, Text: text})
	return nil
}

func (f *fakeMessenger) DirectMessage(_ context.Context, to Requester, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dmPanic {
		panic("dm client exploded")
	}
	if f.dmErr != nil {
		return f.dmErr
	}
	f.dms = append(f.dms, sentMessage{To: to.ID, Text: text})
	return nil
}

type fakeAudit struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (f *fakeAudit) Record(_ context.Context, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.lines = append(f.lines, line)
	return nil
}

var errDMsDisabled = errors.New("user does not accept direct messages")
