package room

import (
	"errors"

	"go.uber.org/zap"

	"github.com/openrally/lobby-backend/internal/protocol"
)

var ErrInvalidTransition = errors.New("invalid room transition")
var ErrNotInRoom = errors.New("not in a room")
var ErrNoPendingInvite = errors.New("no pending invitation")

type State string

const (
	StateNoRoom  State = "no_room"
	StateHosting State = "hosting"
	StateJoined  State = "joined"
)

type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteAccepted  InviteStatus = "accepted"
	InviteDeclined  InviteStatus = "declined"
	InviteCancelled InviteStatus = "cancelled"
)

// Invitation tracks one invite from a host to a peer. Terminal once it
// leaves Pending.
type Invitation struct {
	From   protocol.PeerID
	To     protocol.PeerID
	Room   string
	Status InviteStatus
}

// Presence is the pub/sub channel the lifecycle talks through: XMPP in the
// original game, the in-process hub in this server. Implementations deliver
// each message to the named counterpart; they never interpret it.
type Presence interface {
	SendInvite(to protocol.PeerID, room string)
	SendAccept(host protocol.PeerID, room string)
	SendDecline(host protocol.PeerID, room string)
	SendCancelInvite(to protocol.PeerID)
	JoinRoom(room string)
	LeaveRoom(room string)
}

// Lifecycle is the per-session room state machine. Exactly one of
// NoRoom/Hosting/Joined holds at any time; entering Hosting or Joined fires
// the reset hook so stale negotiation state never leaks into a new room.
type Lifecycle struct {
	state    State
	roomID   string
	hostID   protocol.PeerID
	invited  map[protocol.PeerID]*Invitation
	members  map[protocol.PeerID]bool
	incoming *Invitation
	presence Presence
	onReset  func()
	log      *zap.Logger
}

func NewLifecycle(presence Presence, onReset func(), log *zap.Logger) *Lifecycle {
	return &Lifecycle{
		state:    StateNoRoom,
		invited:  make(map[protocol.PeerID]*Invitation),
		members:  make(map[protocol.PeerID]bool),
		presence: presence,
		onReset:  onReset,
		log:      log,
	}
}

func (l *Lifecycle) State() State   { return l.state }
func (l *Lifecycle) RoomID() string { return l.roomID }

// HostID reports the hosting peer of a joined room.
func (l *Lifecycle) HostID() (protocol.PeerID, bool) { return l.hostID, l.state == StateJoined }

// Members returns the active membership of the current room (hosting role),
// excluding the local player.
func (l *Lifecycle) Members() []protocol.PeerID {
	out := make([]protocol.PeerID, 0, len(l.members))
	for peer := range l.members {
		out = append(out, peer)
	}
	return out
}

// PendingInvites returns peers invited but not yet answered.
func (l *Lifecycle) PendingInvites() []protocol.PeerID {
	var out []protocol.PeerID
	for peer, inv := range l.invited {
		if inv.Status == InvitePending {
			out = append(out, peer)
		}
	}
	return out
}

// Host opens a new room with this session as its authority.
func (l *Lifecycle) Host(roomID string) error {
	if l.state != StateNoRoom {
		return ErrInvalidTransition
	}
	l.state = StateHosting
	l.roomID = roomID
	l.presence.JoinRoom(roomID)
	l.reset()
	l.log.Info("hosting room", zap.String("room", roomID))
	return nil
}

// Invite sends an invitation over the presence channel and tracks it so an
// unanswered invite can be cancelled later.
func (l *Lifecycle) Invite(peer protocol.PeerID) error {
	if l.state != StateHosting {
		return ErrNotInRoom
	}
	if l.members[peer] {
		return nil // already in the room
	}
	if inv, ok := l.invited[peer]; ok && inv.Status == InvitePending {
		return nil // already invited, don't spam
	}
	l.invited[peer] = &Invitation{From: protocol.SelfPeer, To: peer, Room: l.roomID, Status: InvitePending}
	l.presence.SendInvite(peer, l.roomID)
	l.log.Info("invite sent", zap.String("peer", string(peer)), zap.String("room", l.roomID))
	return nil
}

// PeerAccepted moves a pending invitee into active membership.
func (l *Lifecycle) PeerAccepted(peer protocol.PeerID) error {
	if l.state != StateHosting {
		return ErrNotInRoom
	}
	inv, ok := l.invited[peer]
	if !ok || inv.Status != InvitePending {
		return ErrNoPendingInvite
	}
	inv.Status = InviteAccepted
	l.members[peer] = true
	l.log.Info("invite accepted", zap.String("peer", string(peer)))
	return nil
}

// PeerDeclined drops a pending invitee.
func (l *Lifecycle) PeerDeclined(peer protocol.PeerID) error {
	if l.state != StateHosting {
		return ErrNotInRoom
	}
	inv, ok := l.invited[peer]
	if !ok || inv.Status != InvitePending {
		return ErrNoPendingInvite
	}
	inv.Status = InviteDeclined
	delete(l.invited, peer)
	l.log.Info("invite declined", zap.String("peer", string(peer)))
	return nil
}

// MemberLeft handles a member disconnecting or leaving while we host.
func (l *Lifecycle) MemberLeft(peer protocol.PeerID) error {
	if l.state != StateHosting {
		return ErrNotInRoom
	}
	delete(l.members, peer)
	delete(l.invited, peer)
	l.log.Info("member left", zap.String("peer", string(peer)))
	return nil
}

// ReceiveInvite records an inbound invitation awaiting the local decision.
// A session already in a room answers with an implicit decline.
func (l *Lifecycle) ReceiveInvite(from protocol.PeerID, roomID string) error {
	if l.state != StateNoRoom {
		l.presence.SendDecline(from, roomID)
		return ErrInvalidTransition
	}
	l.incoming = &Invitation{From: from, To: protocol.SelfPeer, Room: roomID, Status: InvitePending}
	l.log.Info("invite received", zap.String("peer", string(from)), zap.String("room", roomID))
	return nil
}

// IncomingInvite exposes the invitation awaiting a local answer, if any.
func (l *Lifecycle) IncomingInvite() (Invitation, bool) {
	if l.incoming == nil || l.incoming.Status != InvitePending {
		return Invitation{}, false
	}
	return *l.incoming, true
}

// Accept joins the inviter's room: enter the presence room and notify the
// host so both ends agree on the room identity.
func (l *Lifecycle) Accept() error {
	if l.state != StateNoRoom || l.incoming == nil || l.incoming.Status != InvitePending {
		return ErrNoPendingInvite
	}
	inv := l.incoming
	inv.Status = InviteAccepted
	l.incoming = nil
	l.state = StateJoined
	l.roomID = inv.Room
	l.hostID = inv.From
	l.reset()
	l.presence.JoinRoom(inv.Room)
	l.presence.SendAccept(inv.From, inv.Room)
	l.log.Info("joined room", zap.String("room", inv.Room), zap.String("host", string(inv.From)))
	return nil
}

// Decline refuses the pending invitation.
func (l *Lifecycle) Decline() error {
	if l.incoming == nil || l.incoming.Status != InvitePending {
		return ErrNoPendingInvite
	}
	inv := l.incoming
	inv.Status = InviteDeclined
	l.incoming = nil
	l.presence.SendDecline(inv.From, inv.Room)
	l.log.Info("invite declined", zap.String("room", inv.Room))
	return nil
}

// InviteCancelled handles the host withdrawing an invitation we haven't
// answered yet.
func (l *Lifecycle) InviteCancelled(from protocol.PeerID) error {
	if l.incoming == nil || l.incoming.Status != InvitePending || l.incoming.From != from {
		return ErrNoPendingInvite
	}
	l.incoming.Status = InviteCancelled
	l.incoming = nil
	l.log.Info("invite cancelled by host", zap.String("peer", string(from)))
	return nil
}

// Leave unwinds whichever room this session is in. A leaving host first
// cancels every unanswered invitation; a leaving guest just exits the
// presence room. Either way negotiation state is gone afterwards.
func (l *Lifecycle) Leave() error {
	switch l.state {
	case StateHosting:
		for _, peer := range l.PendingInvites() {
			l.invited[peer].Status = InviteCancelled
			l.presence.SendCancelInvite(peer)
			l.log.Info("invite cancelled", zap.String("peer", string(peer)))
		}
		l.presence.LeaveRoom(l.roomID)
	case StateJoined:
		l.presence.LeaveRoom(l.roomID)
	default:
		return ErrNotInRoom
	}
	l.log.Info("left room", zap.String("room", l.roomID))
	l.toNoRoom()
	return nil
}

// RoomUnavailable reacts to the presence system reporting the room (or its
// host) unreachable. Only a matching room id for a joined session counts.
func (l *Lifecycle) RoomUnavailable(roomID string) bool {
	if l.state != StateJoined || l.roomID != roomID {
		return false
	}
	l.log.Info("room became unavailable", zap.String("room", roomID))
	l.toNoRoom()
	return true
}

func (l *Lifecycle) toNoRoom() {
	l.state = StateNoRoom
	l.roomID = ""
	l.hostID = ""
	clear(l.invited)
	clear(l.members)
	l.reset()
}

func (l *Lifecycle) reset() {
	if l.onReset != nil {
		l.onReset()
	}
}
