package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/meshcall/internal/call"
	"github.com/mossy-p/meshcall/internal/callerr"
	"github.com/mossy-p/meshcall/internal/peer"
)

type fakeSession struct {
	mu     sync.Mutex
	calls  []string
	status call.Status
	errs   map[string]error
}

func (f *fakeSession) record(name string) (call.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return call.Snapshot{Status: f.status}, f.errs[name]
}

func (f *fakeSession) InitializeMediaAndSignaling(context.Context) (call.Snapshot, error) {
	return f.record("start")
}
func (f *fakeSession) Invite(context.Context) (call.Snapshot, error)  { return f.record("invite") }
func (f *fakeSession) Accept(context.Context) (call.Snapshot, error)  { return f.record("accept") }
func (f *fakeSession) Decline(context.Context) (call.Snapshot, error) { return f.record("decline") }
func (f *fakeSession) Cleanup(context.Context) (call.Snapshot, error) { return f.record("hangup") }
func (f *fakeSession) StartPreview(context.Context) (call.Snapshot, error) {
	return f.record("preview")
}
func (f *fakeSession) StopPreview(context.Context) (call.Snapshot, error) {
	return f.record("unpreview")
}
func (f *fakeSession) Snapshot(context.Context) (call.Snapshot, error) { return f.record("status") }

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func run(t *testing.T, f *fakeSession, input string) string {
	t.Helper()
	var out bytes.Buffer
	r := &REPL{Room: "lobby", LocalID: "alice", Session: f, Console: NewConsole(&out)}
	require.NoError(t, r.Run(context.Background(), strings.NewReader(input)))
	return out.String()
}

func TestREPL_DispatchesCommands(t *testing.T) {
	f := &fakeSession{}
	run(t, f, "start\npreview\nunpreview\ninvite\naccept\ndecline\nhangup\n")
	assert.Equal(t, []string{"start", "preview", "unpreview", "invite", "accept", "decline", "hangup"}, f.Calls())
}

func TestREPL_AliasesAndCase(t *testing.T) {
	f := &fakeSession{}
	run(t, f, "I\n  a  \nleave\n")
	assert.Equal(t, []string{"invite", "accept", "hangup"}, f.Calls())
}

func TestREPL_QuitStopsReading(t *testing.T) {
	f := &fakeSession{}
	run(t, f, "invite\nquit\naccept\n")
	assert.Equal(t, []string{"invite"}, f.Calls())
}

func TestREPL_UnknownCommand(t *testing.T) {
	f := &fakeSession{}
	out := run(t, f, "dance\n\n")
	assert.Empty(t, f.Calls())
	assert.Contains(t, out, `unknown command "dance"`)
}

func TestREPL_Help(t *testing.T) {
	out := run(t, &fakeSession{}, "help\n")
	for _, c := range commands {
		assert.Contains(t, out, c.name)
	}
	assert.Contains(t, out, "quit")
}

func TestREPL_ReportsErrors(t *testing.T) {
	f := &fakeSession{
		status: call.StatusConnected,
		errs: map[string]error{
			"invite": fmt.Errorf("%w: invite while connected", call.ErrInvalidState),
			"accept": call.ErrNotReady,
			"hangup": errors.New("boom"),
		},
	}
	out := run(t, f, "invite\naccept\nhangup\n")
	assert.Contains(t, out, "cannot invite while connected")
	assert.Contains(t, out, "try 'start'")
	assert.Contains(t, out, "boom")
}

func TestREPL_ClosedSessionEnds(t *testing.T) {
	f := &fakeSession{errs: map[string]error{"status": call.ErrClosed}}
	run(t, f, "status\ninvite\n")
	assert.Equal(t, []string{"status"}, f.Calls())
}

func TestREPL_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	r := &REPL{Room: "lobby", LocalID: "alice", Session: &fakeSession{}, Console: NewConsole(&out)}
	// A reader that never returns data would block; a cancelled context
	// must still return.
	pr := blockingReader{}
	assert.NoError(t, r.Run(ctx, pr))
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) { select {} }

func TestFormatSnapshot(t *testing.T) {
	out := FormatSnapshot("lobby", "alice", call.Snapshot{
		Status:  call.StatusConnected,
		Inviter: "bob",
		Ready:   true,
		Queued:  2,
		Peers: []peer.PeerInfo{
			{ID: "bob", State: webrtc.PeerConnectionStateConnected},
			{ID: "carol", State: webrtc.PeerConnectionStateConnecting, Initiator: true},
		},
		Err: callerr.ForPeer(callerr.PeerNegotiationFailed, "dave", nil),
	})
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "inviter: bob")
	assert.Contains(t, out, "queued:  2")
	assert.Contains(t, out, "carol connecting (initiator)")
	assert.Contains(t, out, "bob connected (answerer)")
	assert.Contains(t, out, "PEER_NEGOTIATION_FAILED (peer dave)")
}

func TestConsole_Observer(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)

	c.StatusChanged(call.StatusIdle)
	assert.Empty(t, out.String())

	c.StatusChanged(call.StatusRinging)
	c.InviterChanged("bob")
	c.InviterChanged("")
	c.StatusChanged(call.StatusConnected)
	c.StatusChanged(call.StatusEnded)
	c.ErrorRaised(callerr.New(callerr.PermissionDenied, nil))
	c.ReadyChanged(true)
	c.ReadyChanged(false)

	got := out.String()
	assert.Contains(t, got, "Calling…")
	assert.Contains(t, got, "bob is calling")
	assert.Contains(t, got, "You are live!")
	assert.Contains(t, got, "Call Ended")
	assert.Contains(t, got, "PERMISSION_DENIED")
	assert.Contains(t, got, "allow camera and microphone access")
	assert.Equal(t, 1, strings.Count(got, "media and signaling ready"))
}
