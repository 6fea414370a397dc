package garage

import (
	"errors"
	"slices"

	"github.com/openrally/lobby-backend/internal/protocol"
)

var ErrAlreadyClaimed = errors.New("car already claimed")
var ErrNoClaim = errors.New("owner holds no claim")
var ErrUnknownCar = errors.New("car not in catalog")

// DefaultCatalog matches the stock garage of the game client.
var DefaultCatalog = []protocol.Car{"kronos", "themis", "diones"}

// Registry tracks which car belongs to which participant. Pure in-memory
// state; it never touches the network. Two invariants hold after every
// mutation: a car has at most one owner, and an owner has at most one car.
type Registry struct {
	catalog []protocol.Car
	known   map[protocol.Car]bool
	owners  map[protocol.Car]protocol.PeerID
	claims  map[protocol.PeerID]protocol.Car
}

func NewRegistry(catalog []protocol.Car) *Registry {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	r := &Registry{
		catalog: slices.Clone(catalog),
		known:   make(map[protocol.Car]bool, len(catalog)),
		owners:  make(map[protocol.Car]protocol.PeerID),
		claims:  make(map[protocol.PeerID]protocol.Car),
	}
	for _, c := range catalog {
		r.known[c] = true
	}
	return r
}

// Claim binds car to owner. Claiming a car the owner already holds is a
// no-op. If the owner holds a different car, that claim is moved so the
// one-car-per-owner invariant never breaks mid-operation; callers that
// need to announce the release should read ClaimOf first.
func (r *Registry) Claim(car protocol.Car, owner protocol.PeerID) error {
	if !r.known[car] {
		return ErrUnknownCar
	}
	if cur, taken := r.owners[car]; taken {
		if cur == owner {
			return nil
		}
		return ErrAlreadyClaimed
	}
	if prev, ok := r.claims[owner]; ok {
		delete(r.owners, prev)
	}
	r.owners[car] = owner
	r.claims[owner] = car
	return nil
}

// Release drops the owner's claim and reports which car was freed.
func (r *Registry) Release(owner protocol.PeerID) (protocol.Car, error) {
	car, ok := r.claims[owner]
	if !ok {
		return "", ErrNoClaim
	}
	delete(r.claims, owner)
	delete(r.owners, car)
	return car, nil
}

func (r *Registry) ClaimOf(owner protocol.PeerID) (protocol.Car, bool) {
	car, ok := r.claims[owner]
	return car, ok
}

func (r *Registry) OwnerOf(car protocol.Car) (protocol.PeerID, bool) {
	owner, ok := r.owners[car]
	return owner, ok
}

func (r *Registry) Catalog() []protocol.Car { return slices.Clone(r.catalog) }

// Claimants returns every owner holding a claim, sorted for reproducible
// iteration.
func (r *Registry) Claimants() []protocol.PeerID {
	out := make([]protocol.PeerID, 0, len(r.claims))
	for owner := range r.claims {
		out = append(out, owner)
	}
	slices.Sort(out)
	return out
}

// Reset clears every claim. Entering a new room always starts from an
// empty garage.
func (r *Registry) Reset() {
	clear(r.owners)
	clear(r.claims)
}
