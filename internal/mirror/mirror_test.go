package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openrally/lobby-backend/internal/protocol"
)

// viewRecorder captures UI affordance changes in order.
type viewRecorder struct {
	claimed []protocol.Car
	freed   []protocol.Car
	denied  []protocol.Car
}

func (v *viewRecorder) SetClaimed(car protocol.Car)  { v.claimed = append(v.claimed, car) }
func (v *viewRecorder) SetFree(car protocol.Car)     { v.freed = append(v.freed, car) }
func (v *viewRecorder) ClaimDenied(car protocol.Car) { v.denied = append(v.denied, car) }

type launchSpy struct {
	calls    int
	localCar protocol.Car
	grid     []protocol.GridEntry
}

func (s *launchSpy) Launch(localCar protocol.Car, grid []protocol.GridEntry) {
	s.calls++
	s.localCar = localCar
	s.grid = grid
}

func newMirror() (*Mirror, *viewRecorder, *launchSpy) {
	view := &viewRecorder{}
	spy := &launchSpy{}
	return New(nil, view, spy, zap.NewNop()), view, spy
}

func TestConfirm_MarksOwnCarClaimed(t *testing.T) {
	m, view, _ := newMirror()

	m.Apply(protocol.Envelope{Type: protocol.MsgClaimConfirm, Car: "kronos"})

	car, ok := m.OwnCar()
	require.True(t, ok)
	assert.Equal(t, protocol.Car("kronos"), car)
	assert.Equal(t, []protocol.Car{"kronos"}, view.claimed)
}

func TestSelectionEcho_AppliedOnce(t *testing.T) {
	m, view, _ := newMirror()

	m.Apply(protocol.Envelope{Type: protocol.MsgClaimConfirm, Car: "kronos"})
	// the public echo of our own claim follows the directed confirm
	m.Apply(protocol.Envelope{Type: protocol.MsgSelection, Car: "kronos", Peer: "peer-1"})

	assert.Equal(t, []protocol.Car{"kronos"}, view.claimed, "echo must not re-render the claim")
}

func TestDeny_SurfacesFailureWithoutStateChange(t *testing.T) {
	m, view, _ := newMirror()

	m.Apply(protocol.Envelope{Type: protocol.MsgClaimDeny, Car: "kronos"})

	_, ok := m.OwnCar()
	assert.False(t, ok)
	assert.Equal(t, []protocol.Car{"kronos"}, view.denied)
	assert.Empty(t, view.claimed)
}

func TestPeerSelectionAndDeselection(t *testing.T) {
	m, view, _ := newMirror()

	m.Apply(protocol.Envelope{Type: protocol.MsgSelection, Car: "themis", Peer: "peer-2"})
	owner, ok := m.OwnerOf("themis")
	require.True(t, ok)
	assert.Equal(t, protocol.PeerID("peer-2"), owner)
	assert.Equal(t, []protocol.Car{"themis"}, view.claimed)

	m.Apply(protocol.Envelope{Type: protocol.MsgDeselection, Car: "themis", Peer: "peer-2"})
	_, ok = m.OwnerOf("themis")
	assert.False(t, ok)
	assert.Equal(t, []protocol.Car{"themis"}, view.freed)
}

func TestTradeIn_DeselectionThenConfirm(t *testing.T) {
	m, view, _ := newMirror()
	m.Apply(protocol.Envelope{Type: protocol.MsgClaimConfirm, Car: "kronos"})

	// server broadcasts the old car's deselection before confirming the new
	m.Apply(protocol.Envelope{Type: protocol.MsgDeselection, Car: "kronos", Peer: "peer-1"})
	m.Apply(protocol.Envelope{Type: protocol.MsgClaimConfirm, Car: "themis"})
	m.Apply(protocol.Envelope{Type: protocol.MsgSelection, Car: "themis", Peer: "peer-1"})

	car, ok := m.OwnCar()
	require.True(t, ok)
	assert.Equal(t, protocol.Car("themis"), car)
	assert.Equal(t, []protocol.Car{"kronos"}, view.freed)
	assert.Equal(t, []protocol.Car{"kronos", "themis"}, view.claimed)
}

func TestStart_LaunchesExactlyOnce(t *testing.T) {
	m, _, spy := newMirror()
	m.Apply(protocol.Envelope{Type: protocol.MsgClaimConfirm, Car: "diones"})

	grid := []protocol.GridEntry{{Peer: "host", Car: "kronos"}, {Peer: "peer-1", Car: "diones"}}
	m.Apply(protocol.Envelope{Type: protocol.MsgStart, Grid: grid})
	m.Apply(protocol.Envelope{Type: protocol.MsgStart, Grid: grid})

	require.Equal(t, 1, spy.calls, "duplicate start must be dropped")
	assert.Equal(t, protocol.Car("diones"), spy.localCar)
	assert.Equal(t, grid, spy.grid)
}
