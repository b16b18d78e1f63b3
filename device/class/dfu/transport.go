package dfu

import "github.com/ardnew/softrescue/device"

// Transport carries the DFU protocol over a concrete bus.
//
// The protocol calls Data at most once per SETUP to start the data or
// status stage, then Result exactly once with the outcome of the SETUP.
// The transport reports stage completion by delivering a
// [device.EventDone] to [Protocol.HandleEvent].
type Transport interface {
	// Data starts a transfer of data in direction dir. data must stay
	// valid until the transfer is done.
	Data(data []byte, dir device.Direction, flags device.TransferFlags)

	// SetupData handles a standard request the protocol does not answer
	// itself.
	SetupData(setup *device.SetupPacket) error

	// Result reports the outcome of the last SETUP to the host.
	Result(err error)
}
