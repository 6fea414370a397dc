package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/openrally/lobby-backend/internal/lobby"
	"github.com/openrally/lobby-backend/internal/protocol"
	"github.com/openrally/lobby-backend/internal/room"
	"github.com/openrally/lobby-backend/internal/session"
)

type Msg interface{ isHubMsg() }

// Connect registers a freshly connected peer and its outbox.
type Connect struct {
	Peer   protocol.PeerID
	Nick   string
	Outbox chan protocol.Envelope
}

// Disconnect unwinds whatever the peer was doing: hosting tears the room
// down, membership releases its claim, a pending invite is dropped.
type Disconnect struct{ Peer protocol.PeerID }

// FromPeer carries one inbound envelope off a peer's connection.
type FromPeer struct {
	Peer protocol.PeerID
	Env  protocol.Envelope
}

type GetRoster struct {
	Reply chan []protocol.RosterEntry
}

type ShutdownHub struct{}

func (Connect) isHubMsg()     {}
func (Disconnect) isHubMsg()  {}
func (FromPeer) isHubMsg()    {}
func (GetRoster) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type peer struct {
	id     protocol.PeerID
	nick   string
	outbox chan protocol.Envelope
}

// activeRoom is the single room this server instance will host at a time.
type activeRoom struct {
	code    string
	host    protocol.PeerID
	life    *room.Lifecycle
	lobby   *lobby.Lobby
	members map[protocol.PeerID]bool // accepted members, host excluded
}

// Hub is the presence channel made concrete: an actor tracking connected
// peers, routing invitations between them and owning the one active room.
// It plays the role XMPP played for the original game client.
type Hub struct {
	inbox    chan Msg
	peers    map[protocol.PeerID]*peer
	room     *activeRoom
	catalog  []protocol.Car
	launcher session.Launcher
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
}

func NewHub(parent context.Context, catalog []protocol.Car, launcher session.Launcher, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan Msg, 64),
		peers:    make(map[protocol.PeerID]*peer),
		catalog:  catalog,
		launcher: launcher,
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Connect:
				h.peers[msg.Peer] = &peer{id: msg.Peer, nick: msg.Nick, outbox: msg.Outbox}
				h.log.Info("peer connected", zap.String("peer", string(msg.Peer)), zap.String("nick", msg.Nick))
				h.broadcastRoster()

			case Disconnect:
				h.handleDisconnect(msg.Peer)

			case FromPeer:
				h.handleEnvelope(msg.Peer, msg.Env)

			case GetRoster:
				msg.Reply <- h.roster()

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) handleEnvelope(from protocol.PeerID, env protocol.Envelope) {
	switch env.Type {
	case protocol.MsgCreateRoom:
		h.createRoom(from, env.Room)

	case protocol.MsgInvite:
		if h.room == nil || h.room.host != from {
			h.log.Warn("invite outside hosting", zap.String("peer", string(from)))
			h.sendError(from, "not hosting a room")
			return
		}
		if _, online := h.peers[env.Peer]; !online {
			h.sendError(from, "peer not connected")
			return
		}
		if err := h.room.life.Invite(env.Peer); err != nil {
			h.sendError(from, err.Error())
		}

	case protocol.MsgAccept:
		h.acceptInvite(from)

	case protocol.MsgDecline:
		if h.room == nil {
			return
		}
		if err := h.room.life.PeerDeclined(from); err != nil {
			h.log.Warn("stray decline", zap.String("peer", string(from)), zap.Error(err))
			return
		}
		h.sendTo(h.room.host, protocol.Envelope{Type: protocol.MsgDecline, Peer: from, Room: h.room.code})

	case protocol.MsgLeaveRoom:
		h.leaveRoom(from)

	case protocol.MsgClaimRequest:
		if h.room == nil || !h.inRoom(from) {
			h.log.Warn("claim outside room", zap.String("peer", string(from)))
			h.sendError(from, room.ErrNotInRoom.Error())
			return
		}
		h.room.lobby.Inbox() <- lobby.FromClient{Peer: from, Env: env}

	case protocol.MsgRoster:
		h.sendTo(from, protocol.Envelope{Type: protocol.MsgRoster, Roster: h.roster()})

	default:
		h.log.Warn("unknown envelope", zap.String("type", string(env.Type)), zap.String("peer", string(from)))
		h.sendError(from, "unknown message type")
	}
}

// createRoom opens the single hosted room. Only one negotiation can be
// active per server instance; a second host is refused.
func (h *Hub) createRoom(host protocol.PeerID, code string) {
	if h.room != nil {
		h.sendError(host, "a room is already active")
		return
	}
	if code == "" {
		h.sendError(host, "missing room code")
		return
	}
	p, ok := h.peers[host]
	if !ok {
		return
	}

	life := room.NewLifecycle(&hostPresence{hub: h, host: host}, nil, h.log)
	if err := life.Host(code); err != nil {
		h.sendError(host, err.Error())
		return
	}

	lb := lobby.NewLobby(h.ctx, host, h.catalog, h.launcher, h.log)
	lb.Inbox() <- lobby.Join{Peer: host, Outbox: p.outbox}

	h.room = &activeRoom{
		code:    code,
		host:    host,
		life:    life,
		lobby:   lb,
		members: make(map[protocol.PeerID]bool),
	}
	h.sendTo(host, protocol.Envelope{Type: protocol.MsgCreateRoom, Room: code})
	h.broadcastRoster()
}

func (h *Hub) acceptInvite(from protocol.PeerID) {
	if h.room == nil {
		h.sendTo(from, protocol.Envelope{Type: protocol.MsgRoomUnavailable})
		return
	}
	if err := h.room.life.PeerAccepted(from); err != nil {
		h.log.Warn("stray accept", zap.String("peer", string(from)), zap.Error(err))
		h.sendError(from, err.Error())
		return
	}
	p := h.peers[from]
	if p == nil {
		return
	}
	h.room.members[from] = true
	h.room.lobby.Inbox() <- lobby.Join{Peer: from, Outbox: p.outbox}
	// both ends agree on the room identity
	h.sendTo(h.room.host, protocol.Envelope{Type: protocol.MsgAccept, Peer: from, Room: h.room.code})
	h.sendTo(from, protocol.Envelope{Type: protocol.MsgCreateRoom, Room: h.room.code, Peer: h.room.host})
	h.broadcastRoster()
}

func (h *Hub) leaveRoom(from protocol.PeerID) {
	if h.room == nil {
		return
	}
	if h.room.host == from {
		h.teardownRoom()
		return
	}
	if h.room.members[from] {
		delete(h.room.members, from)
		h.room.lobby.Inbox() <- lobby.Leave{Peer: from}
		_ = h.room.life.MemberLeft(from)
		h.broadcastRoster()
	}
}

// teardownRoom unwinds a hosted room: pending invitees get their
// cancellation, members learn the room is gone, the negotiation actor
// stops. No claim state survives.
func (h *Hub) teardownRoom() {
	r := h.room
	_ = r.life.Leave() // sends cancel_invite to every pending invitee
	for member := range r.members {
		h.sendTo(member, protocol.Envelope{Type: protocol.MsgRoomUnavailable, Room: r.code, Peer: r.host})
	}
	r.lobby.Inbox() <- lobby.Shutdown{}
	h.room = nil
	h.log.Info("room torn down", zap.String("room", r.code))
	h.broadcastRoster()
}

func (h *Hub) handleDisconnect(id protocol.PeerID) {
	delete(h.peers, id)
	h.log.Info("peer disconnected", zap.String("peer", string(id)))

	if h.room != nil {
		switch {
		case h.room.host == id:
			h.teardownRoom()
		case h.room.members[id]:
			delete(h.room.members, id)
			h.room.lobby.Inbox() <- lobby.Leave{Peer: id}
			_ = h.room.life.MemberLeft(id)
		default:
			// a pending invitee going offline counts as a decline
			if err := h.room.life.PeerDeclined(id); err == nil {
				h.sendTo(h.room.host, protocol.Envelope{Type: protocol.MsgDecline, Peer: id, Room: h.room.code})
			}
		}
	}
	h.broadcastRoster()
}

func (h *Hub) inRoom(id protocol.PeerID) bool {
	return h.room != nil && (h.room.host == id || h.room.members[id])
}

func (h *Hub) roster() []protocol.RosterEntry {
	out := make([]protocol.RosterEntry, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, protocol.RosterEntry{Peer: p.id, Nick: p.nick, InRoom: h.inRoom(p.id)})
	}
	return out
}

func (h *Hub) broadcastRoster() {
	env := protocol.Envelope{Type: protocol.MsgRoster, Roster: h.roster()}
	for id := range h.peers {
		h.sendTo(id, env)
	}
}

func (h *Hub) sendTo(id protocol.PeerID, env protocol.Envelope) {
	p, ok := h.peers[id]
	if !ok {
		return
	}
	select {
	case p.outbox <- env:
	default:
		h.log.Warn("peer outbox full, dropping message", zap.String("peer", string(id)), zap.String("type", string(env.Type)))
	}
}

func (h *Hub) sendError(id protocol.PeerID, text string) {
	h.sendTo(id, protocol.Envelope{Type: protocol.MsgError, Error: text})
}

func (h *Hub) shutdown() {
	if h.room != nil {
		h.teardownRoom()
	}
	clear(h.peers)
	h.cancel()
}

// hostPresence adapts the hub into the room.Presence the hosting
// lifecycle speaks: outbound presence messages become directed envelopes.
type hostPresence struct {
	hub  *Hub
	host protocol.PeerID
}

func (p *hostPresence) SendInvite(to protocol.PeerID, roomID string) {
	p.hub.sendTo(to, protocol.Envelope{Type: protocol.MsgInvite, Peer: p.host, Room: roomID})
}

func (p *hostPresence) SendAccept(host protocol.PeerID, roomID string) {
	p.hub.sendTo(host, protocol.Envelope{Type: protocol.MsgAccept, Peer: p.host, Room: roomID})
}

func (p *hostPresence) SendDecline(host protocol.PeerID, roomID string) {
	p.hub.sendTo(host, protocol.Envelope{Type: protocol.MsgDecline, Peer: p.host, Room: roomID})
}

func (p *hostPresence) SendCancelInvite(to protocol.PeerID) {
	p.hub.sendTo(to, protocol.Envelope{Type: protocol.MsgCancelInvite, Peer: p.host})
}

func (p *hostPresence) JoinRoom(string)  {} // the hub itself is the room
func (p *hostPresence) LeaveRoom(string) {}
