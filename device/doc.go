// Package device implements the device-side USB transfer engine.
//
// It is platform-agnostic and drives a USB device peripheral through the
// register-level [hal.DeviceHAL] interface defined in
// [github.com/ardnew/softrescue/device/hal]. The engine is single-threaded
// and never blocks: the owner calls [Controller.Poll] repeatedly, and every
// transfer started from a handler completes on a later poll.
//
// # Architecture
//
//   - [BufferPool] tracks ownership of the 32 hardware packet buffers
//   - [Controller] owns the endpoint table and splits transfers into packets
//   - [Controller.Poll] dispatches sent, received and bus-reset events
//   - [ControlContext] answers standard requests on the control endpoint
//
// # Transfers
//
// Each endpoint runs at most one [Transfer] at a time. Starting a transfer
// replaces the one in progress. A handler receives exactly one
// [EventDone] per transfer, or an [EventReset] if a bus reset cancels it.
//
// On a control endpoint, a transfer with a data stage turns around into a
// zero-length status stage in the opposite direction before it completes:
//
//	SETUP → handler → Transfer(data, DirIn) → IN packets → OUT ZLP → EventDone
//	SETUP → handler → Transfer(buf, DirOut) → OUT packets → IN ZLP → EventDone
//
// # Zero-Allocation Design
//
// The engine allocates nothing while polling:
//
//   - Serialization via MarshalTo(buf) instead of allocating Bytes()
//   - Parse functions with output parameters instead of returning pointers
//   - Fixed-size arrays for endpoints and the packet scratch buffer
//
// # Example
//
//	ctrl := device.NewController(h)
//	if err := ctrl.Init(); err != nil {
//	    return err
//	}
//	ctrl.InitEndpoint(0, device.EndpointTypeControl, device.MaxPacketSize0, handler)
//	ctrl.Enable()
//	for {
//	    ctrl.Poll()
//	}
//
// An in-memory peripheral for testing is available in
// [github.com/ardnew/softrescue/device/hal/sim].
package device
