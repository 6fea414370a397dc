package arbiter

import (
	"go.uber.org/zap"

	"github.com/openrally/lobby-backend/internal/garage"
	"github.com/openrally/lobby-backend/internal/protocol"
	"github.com/openrally/lobby-backend/internal/session"
)

type Phase string

const (
	PhaseOpen       Phase = "open"
	PhaseFinalizing Phase = "finalizing"
	PhaseClosed     Phase = "closed"
)

// Delivery is one outbound message plus its audience. An empty To means
// broadcast to every participant.
type Delivery struct {
	To  protocol.PeerID
	Msg protocol.Envelope
}

func broadcast(msg protocol.Envelope) Delivery { return Delivery{Msg: msg} }

func directed(to protocol.PeerID, msg protocol.Envelope) Delivery {
	return Delivery{To: to, Msg: msg}
}

// Arbitrator is the single authority over car claims for one hosted room.
// It runs only on the server role. All methods are called from the lobby
// actor's goroutine, so no locking here: every decision is applied to the
// registry and turned into deliveries before the next message is handled.
type Arbitrator struct {
	self         protocol.PeerID
	reg          *garage.Registry
	participants map[protocol.PeerID]bool
	phase        Phase
	launcher     session.Launcher
	log          *zap.Logger
}

func New(self protocol.PeerID, reg *garage.Registry, launcher session.Launcher, log *zap.Logger) *Arbitrator {
	return &Arbitrator{
		self:         self,
		reg:          reg,
		participants: map[protocol.PeerID]bool{self: true},
		phase:        PhaseOpen,
		launcher:     launcher,
		log:          log,
	}
}

func (a *Arbitrator) Phase() Phase { return a.phase }

// AddParticipant grows the set the start barrier waits on.
func (a *Arbitrator) AddParticipant(peer protocol.PeerID) {
	a.participants[peer] = true
}

// RequestClaim arbitrates one claim. The requester gets a directed confirm
// or deny; on success every participant (requester included) also sees the
// public selection notice. A requester that already holds a car trades it
// in: the old car's deselection is broadcast before the new selection.
func (a *Arbitrator) RequestClaim(car protocol.Car, requester protocol.PeerID) []Delivery {
	if a.phase != PhaseOpen {
		a.log.Warn("claim after close", zap.String("car", string(car)), zap.String("peer", string(requester)))
		return []Delivery{directed(requester, protocol.Envelope{Type: protocol.MsgClaimDeny, Car: car})}
	}

	if owner, taken := a.reg.OwnerOf(car); taken && owner != requester {
		a.log.Info("car already selected", zap.String("car", string(car)), zap.String("peer", string(requester)))
		return []Delivery{directed(requester, protocol.Envelope{Type: protocol.MsgClaimDeny, Car: car})}
	}

	var out []Delivery
	if prev, ok := a.reg.ClaimOf(requester); ok && prev != car {
		a.log.Info("car deselected", zap.String("car", string(prev)), zap.String("peer", string(requester)))
		out = append(out, broadcast(protocol.Envelope{Type: protocol.MsgDeselection, Car: prev, Peer: requester}))
	}

	if err := a.reg.Claim(car, requester); err != nil {
		// OwnerOf was consulted above, so only an unknown car lands here.
		a.log.Warn("claim rejected", zap.String("car", string(car)), zap.String("peer", string(requester)), zap.Error(err))
		return []Delivery{directed(requester, protocol.Envelope{Type: protocol.MsgClaimDeny, Car: car})}
	}

	a.log.Info("car selected", zap.String("car", string(car)), zap.String("peer", string(requester)))
	out = append(out,
		directed(requester, protocol.Envelope{Type: protocol.MsgClaimConfirm, Car: car}),
		broadcast(protocol.Envelope{Type: protocol.MsgSelection, Car: car, Peer: requester}),
	)
	return append(out, a.evaluateStartBarrier()...)
}

// Disconnect removes a participant mid-negotiation: its claim (if any) is
// freed with a public deselection, and the barrier is re-evaluated against
// the shrunken participant set.
func (a *Arbitrator) Disconnect(peer protocol.PeerID) []Delivery {
	delete(a.participants, peer)
	if a.phase != PhaseOpen {
		return nil
	}

	var out []Delivery
	if car, err := a.reg.Release(peer); err == nil {
		a.log.Info("car deselected on disconnect", zap.String("car", string(car)), zap.String("peer", string(peer)))
		out = append(out, broadcast(protocol.Envelope{Type: protocol.MsgDeselection, Car: car, Peer: peer}))
	}
	return append(out, a.evaluateStartBarrier()...)
}

// evaluateStartBarrier fires the start broadcast once every participant
// holds a claim, then hands the snapshot to the launcher. Finalizing is
// visible only within this call; the single-threaded loop means nothing
// can interleave before Closed.
func (a *Arbitrator) evaluateStartBarrier() []Delivery {
	if a.phase != PhaseOpen {
		return nil
	}
	for peer := range a.participants {
		if _, ok := a.reg.ClaimOf(peer); !ok {
			return nil
		}
	}

	a.phase = PhaseFinalizing
	grid := a.snapshot()
	a.log.Info("start barrier satisfied", zap.Int("participants", len(grid)))

	localCar, _ := a.reg.ClaimOf(a.self)
	a.launcher.Launch(localCar, grid)
	a.phase = PhaseClosed

	return []Delivery{broadcast(protocol.Envelope{Type: protocol.MsgStart, Grid: grid})}
}

// snapshot orders the grid with the local player first and the remaining
// claimants sorted, so the same registry state always yields the same grid.
func (a *Arbitrator) snapshot() []protocol.GridEntry {
	grid := make([]protocol.GridEntry, 0, len(a.participants))
	if car, ok := a.reg.ClaimOf(a.self); ok {
		grid = append(grid, protocol.GridEntry{Peer: a.self, Car: car})
	}
	for _, peer := range a.reg.Claimants() {
		if peer == a.self {
			continue
		}
		if !a.participants[peer] {
			continue
		}
		car, _ := a.reg.ClaimOf(peer)
		grid = append(grid, protocol.GridEntry{Peer: peer, Car: car})
	}
	return grid
}
