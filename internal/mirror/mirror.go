package mirror

import (
	"go.uber.org/zap"

	"github.com/openrally/lobby-backend/internal/garage"
	"github.com/openrally/lobby-backend/internal/protocol"
	"github.com/openrally/lobby-backend/internal/session"
)

// CarView is the slice of the UI the mirror drives: one affordance per
// catalog car, indexed directly by car id instead of scanning widgets.
type CarView interface {
	SetClaimed(car protocol.Car)
	SetFree(car protocol.Car)
	ClaimDenied(car protocol.Car)
}

// Mirror is the client-role replica of the arbitration state. It only ever
// applies notices broadcast by the server; it never decides a claim outcome
// and never originates selection traffic itself.
type Mirror struct {
	reg      *garage.Registry
	view     CarView
	launcher session.Launcher
	own      protocol.Car
	hasOwn   bool
	started  bool
	log      *zap.Logger
}

func New(catalog []protocol.Car, view CarView, launcher session.Launcher, log *zap.Logger) *Mirror {
	return &Mirror{
		reg:      garage.NewRegistry(catalog),
		view:     view,
		launcher: launcher,
		log:      log,
	}
}

// OwnCar reports the car the server confirmed for this client, if any.
func (m *Mirror) OwnCar() (protocol.Car, bool) { return m.own, m.hasOwn }

// OwnerOf exposes the mirrored claim state for rendering.
func (m *Mirror) OwnerOf(car protocol.Car) (protocol.PeerID, bool) { return m.reg.OwnerOf(car) }

// Apply folds one server notice into the replica. Unknown message types are
// ignored so protocol growth doesn't break older clients.
func (m *Mirror) Apply(env protocol.Envelope) {
	switch env.Type {
	case protocol.MsgClaimConfirm:
		m.log.Info("car confirmed", zap.String("car", string(env.Car)))
		if m.hasOwn && m.own != env.Car {
			// trade-in: the server broadcasts the matching deselection
			// separately, but our own slot updates right away
			_, _ = m.reg.Release(protocol.SelfPeer)
			m.view.SetFree(m.own)
		}
		m.own, m.hasOwn = env.Car, true
		_ = m.reg.Claim(env.Car, protocol.SelfPeer)
		m.view.SetClaimed(env.Car)

	case protocol.MsgClaimDeny:
		m.log.Info("car denied", zap.String("car", string(env.Car)))
		m.view.ClaimDenied(env.Car)

	case protocol.MsgSelection:
		m.log.Info("car selection", zap.String("car", string(env.Car)), zap.String("peer", string(env.Peer)))
		if m.hasOwn && env.Car == m.own {
			// the public echo of our own confirmed claim
			return
		}
		if err := m.reg.Claim(env.Car, env.Peer); err != nil {
			m.log.Warn("selection not applicable", zap.String("car", string(env.Car)), zap.Error(err))
			return
		}
		m.view.SetClaimed(env.Car)

	case protocol.MsgDeselection:
		m.log.Info("car deselection", zap.String("car", string(env.Car)), zap.String("peer", string(env.Peer)))
		if m.hasOwn && env.Car == m.own {
			// our previous car being traded in; the confirm for the
			// replacement follows right behind
			m.own, m.hasOwn = "", false
			_, _ = m.reg.Release(protocol.SelfPeer)
			m.view.SetFree(env.Car)
			return
		}
		if owner, ok := m.reg.OwnerOf(env.Car); ok {
			_, _ = m.reg.Release(owner)
		}
		m.view.SetFree(env.Car)

	case protocol.MsgStart:
		if m.started {
			m.log.Warn("duplicate start notice dropped")
			return
		}
		m.started = true
		m.log.Info("start race", zap.Int("grid", len(env.Grid)))
		m.launcher.Launch(m.own, env.Grid)
	}
}
