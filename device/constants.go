package device

import (
	"fmt"

	"github.com/ardnew/softrescue/device/hal"
)

// Peripheral limits for fixed-size arrays.
const (
	// NumEndpoints is the number of logical endpoints per direction.
	NumEndpoints = hal.NumEndpoints

	// NumBuffers is the number of hardware packet buffers.
	NumBuffers = hal.NumBuffers

	// MaxPacketSize is the size of one packet buffer, and the largest
	// packet any endpoint may use.
	MaxPacketSize = hal.BufferSize

	// MaxPacketSize0 is the max packet size of the control endpoint.
	MaxPacketSize0 = 64
)

// Device states as defined in USB 2.0 specification section 9.1.
const (
	StateDefault    State = 0 // Device has been reset, using default address
	StateAddress    State = 1 // Device has been assigned a unique address
	StateConfigured State = 2 // Device is configured and operational
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
