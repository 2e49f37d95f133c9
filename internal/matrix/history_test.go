// ABOUTME: Tests for the request history chat commands
// ABOUTME: Runs against a real SQLite ledger and checks the role gate and filters

package matrix

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/vpsbot/internal/config"
	"github.com/2389/vpsbot/internal/store"
)

func newHistoryFixture(t *testing.T, h RequestHistory) *bridgeFixture {
	t.Helper()
	api := newFakeAPI()
	p := &fakeProvisioner{}
	rec := &fakeCommandRecorder{}
	roles := NewRoleResolver(config.AuthorizationConfig{
		Members: map[string][]string{"provisioner": {"@alice:example.org"}},
	})
	cfg := config.MatrixConfig{Homeserver: "https://matrix.example.org", CommandPrefix: "!"}
	b := NewBridge(cfg, botID, api, NewMessenger(api, nil), roles, p, nil,
		WithCommandRecorder(rec),
		WithHistory(h, []string{"provisioner"}),
	)
	return &bridgeFixture{bridge: b, api: api, provisioner: p, recorder: rec}
}

func seededLedger(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "vpsbot.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exit0 := 0
	rows := []store.Request{
		{ID: "req-a", RequesterID: "@alice:example.org", Customer: "acme01", GuestID: 104, MemoryMB: 2048, Cores: 2, Disk: "20", State: "reported", ExitStatus: &exit0, CreatedAt: base, CompletedAt: base.Add(42 * time.Second)},
		{ID: "req-b", RequesterID: "@bob:example.org", State: "rejected", Error: "authorization denied", CreatedAt: base.Add(time.Minute)},
		{ID: "req-c", RequesterID: "@alice:example.org", Customer: "beta", GuestID: 105, State: "timed_out", CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range rows {
		rows[i].Room = testRoom.String()
		if rows[i].CompletedAt.IsZero() {
			rows[i].CompletedAt = rows[i].CreatedAt
		}
		require.NoError(t, s.RecordRequest(context.Background(), &rows[i]))
	}
	return s
}

func lastReply(t *testing.T, f *bridgeFixture) string {
	t.Helper()
	sent := f.api.messages()
	require.Len(t, sent, 1)
	return sent[0].Content.Body
}

func TestRequests_ListsNewestFirst(t *testing.T) {
	f := newHistoryFixture(t, seededLedger(t))
	f.send(textEvent("$r", "@alice:example.org", "!requests"))

	text := lastReply(t, f)
	assert.Contains(t, text, "**Recent requests**")
	c := strings.Index(text, "req-c")
	b := strings.Index(text, "req-b")
	a := strings.Index(text, "req-a")
	assert.True(t, c >= 0 && c < b && b < a, "newest first: %s", text)
	assert.Contains(t, text, "- `req-a` 2026-03-01 12:00 UTC @alice:example.org: **acme01** (guest 104), reported")
	assert.Contains(t, text, "- `req-b` 2026-03-01 12:01 UTC @bob:example.org: no guest, rejected")
	assert.Equal(t, []string{CommandRequests}, f.recorder.commands)
	assert.Empty(t, f.provisioner.invocations())
}

func TestRequests_FiltersByUserAndState(t *testing.T) {
	f := newHistoryFixture(t, seededLedger(t))
	f.send(textEvent("$r", "@alice:example.org", "!requests timed_out @alice:example.org"))

	text := lastReply(t, f)
	assert.Contains(t, text, "req-c")
	assert.NotContains(t, text, "req-a")
	assert.NotContains(t, text, "req-b")
}

func TestRequests_NoMatches(t *testing.T) {
	f := newHistoryFixture(t, seededLedger(t))
	f.send(textEvent("$r", "@alice:example.org", "!requests @carol:example.org"))
	assert.Equal(t, "No matching requests.", lastReply(t, f))
}

func TestRequests_BadArgumentShowsUsage(t *testing.T) {
	f := newHistoryFixture(t, seededLedger(t))
	f.send(textEvent("$r", "@alice:example.org", "!requests yesterday"))

	text := lastReply(t, f)
	assert.Contains(t, text, `unexpected argument "yesterday"`)
	assert.Contains(t, text, "Usage: !requests [@user] [state] or !request <request-id>")
}

func TestRequests_UnauthorizedSenderIsRefused(t *testing.T) {
	f := newHistoryFixture(t, seededLedger(t))
	f.send(textEvent("$r", "@mallory:example.org", "!requests"))

	text := lastReply(t, f)
	assert.Equal(t, msgHistoryDenied, text)
	assert.NotContains(t, text, "req-a")
}

func TestRequest_ShowsDetail(t *testing.T) {
	f := newHistoryFixture(t, seededLedger(t))
	f.send(textEvent("$r", "@alice:example.org", "!request req-a"))

	text := lastReply(t, f)
	for _, want := range []string{
		"**Request** `req-a`",
		"- Requester: @alice:example.org",
		"- State: reported",
		"- Guest: **acme01** (guest 104), 2048 MB, 2 cores, disk 20",
		"- Exit status: 0",
		"- Created: 2026-03-01 12:00 UTC",
		"- Duration: 42s",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "Error:")
}

func TestRequest_ShowsRejectionReason(t *testing.T) {
	f := newHistoryFixture(t, seededLedger(t))
	f.send(textEvent("$r", "@alice:example.org", "!request req-b"))

	text := lastReply(t, f)
	assert.Contains(t, text, "- Error: authorization denied")
	assert.NotContains(t, text, "Guest:")
	assert.NotContains(t, text, "Exit status")
}

func TestRequest_UnknownID(t *testing.T) {
	f := newHistoryFixture(t, seededLedger(t))
	f.send(textEvent("$r", "@alice:example.org", "!request nope"))
	assert.Equal(t, "No request with id `nope`.", lastReply(t, f))
}

func TestRequest_MissingIDShowsUsage(t *testing.T) {
	f := newHistoryFixture(t, seededLedger(t))
	f.send(textEvent("$r", "@alice:example.org", "!request"))
	assert.Contains(t, lastReply(t, f), "expected one request id")
}

type failingHistory struct{}

func (failingHistory) ListRequests(context.Context, store.RequestFilter) ([]store.Request, error) {
	return nil, errors.New("database is locked")
}

func (failingHistory) GetRequest(context.Context, string) (*store.Request, error) {
	return nil, errors.New("database is locked")
}

func TestRequests_LedgerErrorIsNotLeaked(t *testing.T) {
	f := newHistoryFixture(t, failingHistory{})
	f.send(textEvent("$r", "@alice:example.org", "!requests"))
	assert.Equal(t, msgHistoryFailed, lastReply(t, f))
}

func TestRequests_DisabledWithoutLedger(t *testing.T) {
	f := newBridgeFixture(t, nil)
	f.send(textEvent("$r", "@alice:example.org", "!requests"))
	assert.Equal(t, msgHistoryDisabled, lastReply(t, f))
}

func TestParseHistoryFilter(t *testing.T) {
	f, err := parseHistoryFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, f.RequesterID)
	assert.Nil(t, f.State)
	assert.Equal(t, historyLimit, f.Limit)

	f, err = parseHistoryFilter([]string{"@bob:example.org", "build_failed"})
	require.NoError(t, err)
	require.NotNil(t, f.RequesterID)
	assert.Equal(t, "@bob:example.org", *f.RequesterID)
	require.NotNil(t, f.State)
	assert.Equal(t, "build_failed", *f.State)

	for _, args := range [][]string{
		{"authorized"},
		{"@a:x", "@b:x"},
		{"reported", "rejected"},
	} {
		_, err := parseHistoryFilter(args)
		assert.True(t, errors.Is(err, errHistoryUsage), "args %v", args)
	}
}
