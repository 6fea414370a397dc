package protocol

// PeerID identifies a participant for the duration of one session.
// The hosting process uses SelfPeer for its own local player so lookups
// don't have to special-case "me" against a network address.
type PeerID string

const SelfPeer PeerID = "self"

// Car identifies one claimable car from the immutable catalog.
type Car string

type MsgType string

const (
	// negotiation channel (client <-> server)
	MsgClaimRequest MsgType = "claim_request"
	MsgClaimConfirm MsgType = "claim_confirm"
	MsgClaimDeny    MsgType = "claim_deny"
	MsgSelection    MsgType = "selection"
	MsgDeselection  MsgType = "deselection"
	MsgStart        MsgType = "start"

	// presence channel (routed through the hub)
	MsgInvite          MsgType = "invite"
	MsgAccept          MsgType = "accept"
	MsgDecline         MsgType = "decline"
	MsgCancelInvite    MsgType = "cancel_invite"
	MsgRoomUnavailable MsgType = "room_unavailable"

	// lobby bookkeeping
	MsgCreateRoom MsgType = "create_room"
	MsgLeaveRoom  MsgType = "leave_room"
	MsgRoster     MsgType = "roster"
	MsgError      MsgType = "error"
)

// GridEntry is one (participant, car) pair of the finalized start snapshot.
type GridEntry struct {
	Peer PeerID `json:"peer"`
	Car  Car    `json:"car"`
}

// RosterEntry describes one connected peer to lobby clients.
type RosterEntry struct {
	Peer   PeerID `json:"peer"`
	Nick   string `json:"nick"`
	InRoom bool   `json:"in_room"`
}

// Envelope is the single wire frame for both directions. Only the fields
// relevant to Type are populated; the rest marshal away via omitempty.
type Envelope struct {
	Type   MsgType       `json:"type"`
	Car    Car           `json:"car,omitempty"`
	Peer   PeerID        `json:"peer,omitempty"` // owner on selection/deselection, counterpart on presence messages
	Room   string        `json:"room,omitempty"`
	Grid   []GridEntry   `json:"grid,omitempty"`
	Roster []RosterEntry `json:"roster,omitempty"`
	Error  string        `json:"error,omitempty"`
}
