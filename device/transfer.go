package device

import (
	"fmt"

	"github.com/ardnew/softrescue/pkg"
)

// TransferFlags modify how a transfer is carried out.
type TransferFlags uint8

// Transfer flags.
const (
	// FlagShortIn requests a short or zero-length packet to terminate an IN
	// transfer whose length is a multiple of the packet size.
	FlagShortIn TransferFlags = 1 << 0

	// FlagControl marks a control data stage. The transfer completes only
	// after a zero-length status packet in the opposite direction.
	FlagControl TransferFlags = 1 << 1

	// FlagStatusStage is set once a control transfer has turned around into
	// its status stage.
	FlagStatusStage TransferFlags = 1 << 2
)

// Transfer is the single in-flight transfer of an endpoint.
//
// For IN transfers data is the unsent remainder; for OUT transfers it is the
// unfilled remainder of the destination buffer.
type Transfer struct {
	data   []byte
	bytes  int
	dir    Direction
	flags  TransferFlags
	active bool
}

// Active reports whether the transfer is still in progress.
func (t *Transfer) Active() bool {
	return t.active
}

// Bytes returns the number of bytes moved so far.
func (t *Transfer) Bytes() int {
	return t.bytes
}

// Remaining returns the number of bytes left to move.
func (t *Transfer) Remaining() int {
	return len(t.data)
}

// Direction returns the current direction of the transfer. A control
// transfer reports the status-stage direction after turnaround.
func (t *Transfer) Direction() Direction {
	return t.dir
}

// Flags returns the current transfer flags.
func (t *Transfer) Flags() TransferFlags {
	return t.flags
}

// turnaround flips a control transfer into its zero-length status stage.
func (t *Transfer) turnaround() {
	t.dir = t.dir.Opposite()
	t.flags &^= FlagControl
	t.flags |= FlagStatusStage
}

// EventKind identifies what happened on an endpoint.
type EventKind uint8

// Endpoint events.
const (
	EventSetup EventKind = iota // A SETUP packet was received
	EventDone                   // The active transfer completed
	EventReset                  // A bus reset cancelled all transfers
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventSetup:
		return "setup"
	case EventDone:
		return "done"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event is delivered to an endpoint [Handler].
//
// Setup is valid for EventSetup. Length and Direction are valid for
// EventDone; Length counts data-stage bytes only.
type Event struct {
	Kind      EventKind
	Setup     SetupPacket
	Length    int
	Direction Direction
}

// Err returns [pkg.ErrReset] when a bus reset cancelled the endpoint's
// transfer, and nil otherwise.
func (e Event) Err() error {
	if e.Kind == EventReset {
		return pkg.ErrReset
	}
	return nil
}

// String returns a human-readable representation of the event.
func (e Event) String() string {
	switch e.Kind {
	case EventSetup:
		return e.Setup.String()
	case EventDone:
		return fmt.Sprintf("DONE[%s] Length=%d", e.Direction, e.Length)
	default:
		return e.Kind.String()
	}
}
