// Package vehicle holds the telemetry data model and the capabilities a
// mission needs from a vehicle: a link to open, a telemetry source to watch
// and a command port to drive.
package vehicle

import "context"

// Source is a read-only, fan-out view of vehicle telemetry.
type Source interface {
	// Subscribe returns a channel of samples published after the call and a
	// function that releases the subscription. The channel is closed on release.
	Subscribe() (<-chan State, func())
	// Latest returns the most recent sample, if any was published.
	Latest() (State, bool)
}

// Vehicle is an open connection to one vehicle. Commands are single-shot
// request/response calls; a nil error only means the vehicle accepted the
// request, not that it reached the requested state.
type Vehicle interface {
	Telemetry() Source
	Arm(ctx context.Context) error
	Takeoff(ctx context.Context, altitude float64) error
	Land(ctx context.Context) error
	Close() error
}

// Link opens vehicles by transport address.
type Link interface {
	Open(ctx context.Context, address string) (Vehicle, error)
}
