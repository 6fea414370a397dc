package lobby

import (
	"context"

	"go.uber.org/zap"

	"github.com/openrally/lobby-backend/internal/arbiter"
	"github.com/openrally/lobby-backend/internal/garage"
	"github.com/openrally/lobby-backend/internal/protocol"
	"github.com/openrally/lobby-backend/internal/session"
)

type Msg interface{ isLobbyMsg() }

// Join registers a participant in the negotiation and where to send its
// notices.
type Join struct {
	Peer   protocol.PeerID
	Outbox chan protocol.Envelope
}

func (Join) isLobbyMsg() {}

// Leave removes a participant; its claim is released and broadcast as a
// deselection.
type Leave struct{ Peer protocol.PeerID }

func (Leave) isLobbyMsg() {}

// FromClient carries one inbound envelope from a participant. Only
// claim_request is meaningful here; presence traffic is handled upstream.
type FromClient struct {
	Peer protocol.PeerID
	Env  protocol.Envelope
}

func (FromClient) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// View reflects internal state for tests without data races.
type View struct {
	Version    int
	NumClients int
	Phase      arbiter.Phase
	Claims     map[protocol.Car]protocol.PeerID
}

// Lobby is the negotiation actor for one hosted room: a single goroutine
// owning the registry and the arbitrator, so every claim decision and its
// broadcasts are applied before the next message is read.
type Lobby struct {
	inbox   chan Msg
	reg     *garage.Registry
	arb     *arbiter.Arbitrator
	version int
	clients map[protocol.PeerID]chan protocol.Envelope
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
}

func NewLobby(parent context.Context, host protocol.PeerID, catalog []protocol.Car, launcher session.Launcher, log *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	reg := garage.NewRegistry(catalog)

	l := &Lobby{
		inbox:   make(chan Msg, 64), // Small buffer
		reg:     reg,
		arb:     arbiter.New(host, reg, launcher, log),
		clients: make(map[protocol.PeerID]chan protocol.Envelope),
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}

	go l.loop()
	return l
}

// Expose the inbox so tests or the hub can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.clients[msg.Peer] = msg.Outbox
				l.arb.AddParticipant(msg.Peer)
				// catch the newcomer up on claims made before it joined
				for _, owner := range l.reg.Claimants() {
					if _, ok := l.clients[msg.Peer]; !ok {
						break
					}
					car, _ := l.reg.ClaimOf(owner)
					l.trySend(msg.Peer, msg.Outbox, protocol.Envelope{Type: protocol.MsgSelection, Car: car, Peer: owner})
				}

			case Leave:
				delete(l.clients, msg.Peer)
				l.dispatch(l.arb.Disconnect(msg.Peer))

			case FromClient:
				if msg.Env.Type != protocol.MsgClaimRequest {
					l.log.Warn("unexpected lobby message",
						zap.String("type", string(msg.Env.Type)),
						zap.String("peer", string(msg.Peer)))
					break
				}
				l.dispatch(l.arb.RequestClaim(msg.Env.Car, msg.Peer))

			case GetState:
				claims := make(map[protocol.Car]protocol.PeerID)
				for _, owner := range l.reg.Claimants() {
					car, _ := l.reg.ClaimOf(owner)
					claims[car] = owner
				}
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					Phase:      l.arb.Phase(),
					Claims:     claims,
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

// dispatch delivers the arbitrator's output: directed envelopes to one
// outbox, broadcasts to every registered client.
func (l *Lobby) dispatch(deliveries []arbiter.Delivery) {
	if len(deliveries) > 0 {
		l.version++
	}
	for _, d := range deliveries {
		if d.To != "" {
			if ch, ok := l.clients[d.To]; ok {
				l.trySend(d.To, ch, d.Msg)
			}
			continue
		}
		for peer, ch := range l.clients {
			l.trySend(peer, ch, d.Msg)
		}
	}
}

func (l *Lobby) trySend(peer protocol.PeerID, ch chan protocol.Envelope, env protocol.Envelope) {
	select {
	case ch <- env:
		// ok
	default:
		// Client is slow/full - drop them. The channel belongs to the
		// connection layer, so it is never closed here.
		l.log.Warn("dropping slow client", zap.String("peer", string(peer)))
		delete(l.clients, peer)
	}
}

func (l *Lobby) shutdown() {
	clear(l.clients)
	l.cancel()
}
