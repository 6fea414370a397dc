package session

import "github.com/openrally/lobby-backend/internal/protocol"

// Launcher hands a finalized negotiation off to the race itself. Implemented
// by the surrounding application (scene loading lives there); invoked at most
// once per negotiation.
type Launcher interface {
	Launch(localCar protocol.Car, grid []protocol.GridEntry)
}

// LaunchFunc adapts a plain function to Launcher.
type LaunchFunc func(localCar protocol.Car, grid []protocol.GridEntry)

func (f LaunchFunc) Launch(localCar protocol.Car, grid []protocol.GridEntry) {
	f(localCar, grid)
}
