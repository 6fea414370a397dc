package lobby

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/openrally/lobby-backend/internal/arbiter"
	"github.com/openrally/lobby-backend/internal/protocol"
	"github.com/openrally/lobby-backend/internal/session"
)

// helper: receive one envelope with a timeout so tests never hang
func recvEnvelope(t *testing.T, ch <-chan protocol.Envelope, within time.Duration) protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return env
	case <-time.After(within):
		t.Fatalf("timed out waiting for envelope")
		return protocol.Envelope{} // unreachable
	}
}

func recvNoEnvelope(t *testing.T, ch <-chan protocol.Envelope, within time.Duration) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("expected no envelope within %v, but got: %+v", within, env)
	case <-time.After(within):
		// good: nothing arrived
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

type launchSpy struct{ calls chan []protocol.GridEntry }

func newLaunchSpy() *launchSpy {
	return &launchSpy{calls: make(chan []protocol.GridEntry, 1)}
}

func (s *launchSpy) Launch(_ protocol.Car, grid []protocol.GridEntry) { s.calls <- grid }

var _ session.Launcher = (*launchSpy)(nil)

func newTestLobby(t *testing.T) (*Lobby, *launchSpy) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	spy := newLaunchSpy()
	return NewLobby(ctx, "host", nil, spy, zap.NewNop()), spy
}

func TestLobby_ClaimBroadcastsSelectionAndConfirms(t *testing.T) {
	l, _ := newTestLobby(t)

	hostOut := make(chan protocol.Envelope, 4)
	guestOut := make(chan protocol.Envelope, 4)
	l.Inbox() <- Join{Peer: "host", Outbox: hostOut}
	l.Inbox() <- Join{Peer: "guest", Outbox: guestOut}

	l.Inbox() <- FromClient{Peer: "guest", Env: protocol.Envelope{Type: protocol.MsgClaimRequest, Car: "themis"}}

	// requester: directed confirm, then the public notice
	first := recvEnvelope(t, guestOut, 100*time.Millisecond)
	if first.Type != protocol.MsgClaimConfirm || first.Car != "themis" {
		t.Fatalf("want claim_confirm(themis) first, got %+v", first)
	}
	second := recvEnvelope(t, guestOut, 100*time.Millisecond)
	if second.Type != protocol.MsgSelection || second.Peer != "guest" {
		t.Fatalf("want selection(themis, guest), got %+v", second)
	}

	// everyone else: only the public notice
	note := recvEnvelope(t, hostOut, 100*time.Millisecond)
	if note.Type != protocol.MsgSelection || note.Car != "themis" {
		t.Fatalf("want selection(themis) for host, got %+v", note)
	}
	recvNoEnvelope(t, hostOut, 50*time.Millisecond)
}

func TestLobby_DenyGoesToRequesterOnly(t *testing.T) {
	l, _ := newTestLobby(t)

	hostOut := make(chan protocol.Envelope, 4)
	guestOut := make(chan protocol.Envelope, 4)
	l.Inbox() <- Join{Peer: "host", Outbox: hostOut}
	l.Inbox() <- Join{Peer: "guest", Outbox: guestOut}

	l.Inbox() <- FromClient{Peer: "host", Env: protocol.Envelope{Type: protocol.MsgClaimRequest, Car: "kronos"}}
	_ = recvEnvelope(t, hostOut, 100*time.Millisecond)  // confirm
	_ = recvEnvelope(t, hostOut, 100*time.Millisecond)  // selection
	_ = recvEnvelope(t, guestOut, 100*time.Millisecond) // selection

	l.Inbox() <- FromClient{Peer: "guest", Env: protocol.Envelope{Type: protocol.MsgClaimRequest, Car: "kronos"}}
	deny := recvEnvelope(t, guestOut, 100*time.Millisecond)
	if deny.Type != protocol.MsgClaimDeny {
		t.Fatalf("want claim_deny, got %+v", deny)
	}
	recvNoEnvelope(t, hostOut, 50*time.Millisecond)
}

func TestLobby_LateJoinerSeesExistingClaims(t *testing.T) {
	l, _ := newTestLobby(t)

	hostOut := make(chan protocol.Envelope, 4)
	l.Inbox() <- Join{Peer: "host", Outbox: hostOut}
	l.Inbox() <- FromClient{Peer: "host", Env: protocol.Envelope{Type: protocol.MsgClaimRequest, Car: "kronos"}}
	_ = recvEnvelope(t, hostOut, 100*time.Millisecond)
	_ = recvEnvelope(t, hostOut, 100*time.Millisecond)

	lateOut := make(chan protocol.Envelope, 4)
	l.Inbox() <- Join{Peer: "late", Outbox: lateOut}

	sync := recvEnvelope(t, lateOut, 100*time.Millisecond)
	if sync.Type != protocol.MsgSelection || sync.Car != "kronos" || sync.Peer != "host" {
		t.Fatalf("want selection(kronos, host) replay, got %+v", sync)
	}
}

func TestLobby_LeaveBroadcastsDeselectionAndShrinksBarrier(t *testing.T) {
	l, spy := newTestLobby(t)

	hostOut := make(chan protocol.Envelope, 8)
	guestOut := make(chan protocol.Envelope, 8)
	l.Inbox() <- Join{Peer: "host", Outbox: hostOut}
	l.Inbox() <- Join{Peer: "guest", Outbox: guestOut}

	l.Inbox() <- FromClient{Peer: "guest", Env: protocol.Envelope{Type: protocol.MsgClaimRequest, Car: "themis"}}
	_ = recvEnvelope(t, hostOut, 100*time.Millisecond) // selection(themis, guest)

	l.Inbox() <- Leave{Peer: "guest"}
	desel := recvEnvelope(t, hostOut, 100*time.Millisecond)
	if desel.Type != protocol.MsgDeselection || desel.Car != "themis" {
		t.Fatalf("want deselection(themis), got %+v", desel)
	}

	// barrier now only requires the host
	l.Inbox() <- FromClient{Peer: "host", Env: protocol.Envelope{Type: protocol.MsgClaimRequest, Car: "kronos"}}
	sawStart := false
	for i := 0; i < 3 && !sawStart; i++ {
		env := recvEnvelope(t, hostOut, 100*time.Millisecond)
		sawStart = env.Type == protocol.MsgStart
	}
	if !sawStart {
		t.Fatalf("want start broadcast after barrier shrank")
	}

	select {
	case grid := <-spy.calls:
		if len(grid) != 1 || grid[0].Peer != "host" {
			t.Fatalf("want grid [host], got %+v", grid)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("launcher was not invoked")
	}
}

func TestLobby_JoinWithFullOutboxDoesNotBlockLoop(t *testing.T) {
	l, _ := newTestLobby(t)

	hostOut := make(chan protocol.Envelope, 8)
	l.Inbox() <- Join{Peer: "host", Outbox: hostOut}
	l.Inbox() <- FromClient{Peer: "host", Env: protocol.Envelope{Type: protocol.MsgClaimRequest, Car: "kronos"}}
	_ = recvEnvelope(t, hostOut, 100*time.Millisecond)
	_ = recvEnvelope(t, hostOut, 100*time.Millisecond)

	// a joiner whose outbox is already full must not stall the replay
	fullOut := make(chan protocol.Envelope)
	l.Inbox() <- Join{Peer: "stuck", Outbox: fullOut}

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 500*time.Millisecond)

	if view.NumClients != 1 {
		t.Fatalf("expected the stuck joiner to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestLobby_DropSlowClient(t *testing.T) {
	l, _ := newTestLobby(t)

	hostOut := make(chan protocol.Envelope, 8)
	slowOut := make(chan protocol.Envelope) // unbuffered: first broadcast drops it
	l.Inbox() <- Join{Peer: "host", Outbox: hostOut}
	l.Inbox() <- Join{Peer: "slow", Outbox: slowOut}

	l.Inbox() <- FromClient{Peer: "host", Env: protocol.Envelope{Type: protocol.MsgClaimRequest, Car: "kronos"}}
	_ = recvEnvelope(t, hostOut, 100*time.Millisecond)
	_ = recvEnvelope(t, hostOut, 100*time.Millisecond)

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)

	if view.NumClients != 1 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
	if view.Claims["kronos"] != "host" {
		t.Fatalf("claims view: got %+v", view.Claims)
	}
	if view.Phase != arbiter.PhaseOpen {
		t.Fatalf("slow participant still counts toward the barrier; phase=%v", view.Phase)
	}
}
