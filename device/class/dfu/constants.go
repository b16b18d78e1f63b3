package dfu

import "fmt"

// Protocol limits.
const (
	// TransferSize is the largest DnLoad or UpLoad block, and the size of
	// the rescue staging buffer.
	TransferSize = 2048

	// PollTimeout is the bwPollTimeout reported by GetStatus, in milliseconds.
	PollTimeout = 100

	// StatusSize is the size of a GetStatus response.
	StatusSize = 6

	// MaxPacketSize is the control endpoint packet size used to decide
	// whether an UpLoad needs a zero-length terminator.
	MaxPacketSize = 64
)

// State is a DFU device state (DFU 1.1 section 6.1.2).
type State uint8

// DFU states.
const (
	StateAppIdle State = iota
	StateAppDetach
	StateIdle
	StateDnLoadSync
	StateDnLoadBusy
	StateDnLoadIdle
	StateManifestSync
	StateManifest
	StateManifestWaitReset
	StateUpLoadIdle
	StateError

	numStates
)

var stateNames = [numStates]string{
	"appIDLE",
	"appDETACH",
	"dfuIDLE",
	"dfuDNLOAD-SYNC",
	"dfuDNBUSY",
	"dfuDNLOAD-IDLE",
	"dfuMANIFEST-SYNC",
	"dfuMANIFEST",
	"dfuMANIFEST-WAIT-RESET",
	"dfuUPLOAD-IDLE",
	"dfuERROR",
}

// String returns the state name used by the DFU specification.
func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Error is a DFU status code (bStatus).
type Error uint8

// DFU status codes.
const (
	ErrOk Error = iota
	ErrTarget
	ErrFile
	ErrWrite
	ErrErase
	ErrCheckErased
	ErrProg
	ErrVerify
	ErrAddress
	ErrNotDone
	ErrFirmware
	ErrVendor
	ErrUsbReset
	ErrPowerOnReset
	ErrUnknown
	ErrStalledPkt
)

// String returns the status code name.
func (e Error) String() string {
	switch e {
	case ErrOk:
		return "OK"
	case ErrTarget:
		return "errTARGET"
	case ErrFile:
		return "errFILE"
	case ErrWrite:
		return "errWRITE"
	case ErrErase:
		return "errERASE"
	case ErrCheckErased:
		return "errCHECK_ERASED"
	case ErrProg:
		return "errPROG"
	case ErrVerify:
		return "errVERIFY"
	case ErrAddress:
		return "errADDRESS"
	case ErrNotDone:
		return "errNOTDONE"
	case ErrFirmware:
		return "errFIRMWARE"
	case ErrVendor:
		return "errVENDOR"
	case ErrUsbReset:
		return "errUSBR"
	case ErrPowerOnReset:
		return "errPOR"
	case ErrUnknown:
		return "errUNKNOWN"
	case ErrStalledPkt:
		return "errSTALLEDPKT"
	default:
		return fmt.Sprintf("Error(%d)", e)
	}
}

// Request is a DFU class request code. BusReset is not a wire request; it
// indexes the transition taken when the bus is reset.
type Request uint8

// DFU requests.
const (
	RequestDetach Request = iota
	RequestDnLoad
	RequestUpLoad
	RequestGetStatus
	RequestClrStatus
	RequestGetState
	RequestAbort
	RequestBusReset

	numRequests
)

// String returns the request name.
func (r Request) String() string {
	switch r {
	case RequestDetach:
		return "DETACH"
	case RequestDnLoad:
		return "DNLOAD"
	case RequestUpLoad:
		return "UPLOAD"
	case RequestGetStatus:
		return "GETSTATUS"
	case RequestClrStatus:
		return "CLRSTATUS"
	case RequestGetState:
		return "GETSTATE"
	case RequestAbort:
		return "ABORT"
	case RequestBusReset:
		return "BUSRESET"
	default:
		return fmt.Sprintf("Request(%d)", r)
	}
}

// Action is what the protocol does for a (request, state) pair.
type Action uint8

// Transition actions.
const (
	ActionNone           Action = iota // Acknowledge with a zero-length packet
	ActionStall                        // Reject the request
	ActionCheckLen                     // Validate length and move data
	ActionStatusResponse               // Send the 6-byte status block
	ActionStateResponse                // Send the state byte
	ActionClearError                   // Reset the status code and acknowledge
	ActionReset                        // Reset the chip
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStall:
		return "stall"
	case ActionCheckLen:
		return "checklen"
	case ActionStatusResponse:
		return "status"
	case ActionStateResponse:
		return "state"
	case ActionClearError:
		return "clear"
	case ActionReset:
		return "reset"
	default:
		return fmt.Sprintf("Action(%d)", a)
	}
}
