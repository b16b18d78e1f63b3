package pkg

import "errors"

// USB protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates a NAK response (endpoint not ready).
	ErrNAK = errors.New("NAK received")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrInvalidEndpoint indicates an invalid endpoint number.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrBadSetup indicates a malformed or unsupported SETUP request.
	ErrBadSetup = errors.New("bad setup request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")

	// ErrChipReset indicates the protocol requested a reset of the whole chip.
	ErrChipReset = errors.New("chip reset requested")

	// ErrPoolExhausted is the panic value raised when a packet buffer is
	// requested from an empty pool.
	ErrPoolExhausted = errors.New("packet buffer pool exhausted")

	// ErrPoolCorrupt is the panic value raised when a free packet buffer is
	// released again.
	ErrPoolCorrupt = errors.New("packet buffer released twice")
)

// Rescue errors.
var (
	// ErrBadMode indicates an unknown or unauthorized rescue mode.
	ErrBadMode = errors.New("bad rescue mode")

	// ErrImageTooBig indicates a firmware image overflowed its slot.
	ErrImageTooBig = errors.New("rescue image too big")

	// ErrRescueReboot indicates the host asked the chip to reboot.
	ErrRescueReboot = errors.New("rescue reboot requested")

	// ErrOwnershipInvalidState indicates the ownership state forbids the operation.
	ErrOwnershipInvalidState = errors.New("invalid ownership state")

	// ErrOwnershipInvalidSignature indicates an owner block signature did not verify.
	ErrOwnershipInvalidSignature = errors.New("invalid ownership signature")

	// ErrOwnershipInvalidTag indicates an owner block with a bad header tag.
	ErrOwnershipInvalidTag = errors.New("invalid owner block tag")

	// ErrOwnershipUnknownKey indicates the owner key is not the expected one.
	ErrOwnershipUnknownKey = errors.New("unknown owner key")

	// ErrBootLogInvalidTag indicates a boot log with a bad header tag.
	ErrBootLogInvalidTag = errors.New("invalid boot log tag")

	// ErrFlashRange indicates an access outside of the flash region.
	ErrFlashRange = errors.New("flash address out of range")

	// ErrUnknown is reported for status words with no matching error.
	ErrUnknown = errors.New("unknown error")
)

// Status is a 32-bit ROM status word, as reported to the host through the
// SPI mailbox. The layout is error<<24 | module<<8 | code.
type Status uint32

// StatusOK is the status word of a successful operation.
const StatusOK Status = 0x739

// Status codes (low byte), following the canonical RPC codes.
const (
	codeUnknown            = 2
	codeInvalidArgument    = 3
	codeNotFound           = 5
	codePermissionDenied   = 7
	codeResourceExhausted  = 8
	codeFailedPrecondition = 9
	codeOutOfRange         = 11
	codeInternal           = 13
)

func makeStatus(id uint32, m0, m1 byte, code uint32) Status {
	return Status(id<<24 | (uint32(m1)<<8|uint32(m0))<<8 | code)
}

// Status words for each sentinel error.
var (
	StatusUsbBadSetup           = makeStatus(1, 'U', 'B', codeInvalidArgument)
	StatusRescueReboot          = makeStatus(1, 'R', 'S', codeInternal)
	StatusRescueBadMode         = makeStatus(2, 'R', 'S', codeInvalidArgument)
	StatusRescueImageTooBig     = makeStatus(3, 'R', 'S', codeFailedPrecondition)
	StatusOwnershipInvalidState = makeStatus(1, 'O', 'W', codePermissionDenied)
	StatusOwnershipInvalidSig   = makeStatus(2, 'O', 'W', codePermissionDenied)
	StatusOwnershipInvalidTag   = makeStatus(3, 'O', 'W', codeInvalidArgument)
	StatusOwnershipUnknownKey   = makeStatus(4, 'O', 'W', codeNotFound)
	StatusFlashRange            = makeStatus(1, 'F', 'C', codeOutOfRange)
	StatusBufferPoolExhausted   = makeStatus(2, 'U', 'B', codeResourceExhausted)
	StatusUnknown               = makeStatus(0xff, 'U', 'N', codeUnknown)
)

var statusTable = [...]struct {
	status Status
	err    error
}{
	{StatusUsbBadSetup, ErrBadSetup},
	{StatusRescueReboot, ErrRescueReboot},
	{StatusRescueBadMode, ErrBadMode},
	{StatusRescueImageTooBig, ErrImageTooBig},
	{StatusOwnershipInvalidState, ErrOwnershipInvalidState},
	{StatusOwnershipInvalidSig, ErrOwnershipInvalidSignature},
	{StatusOwnershipInvalidTag, ErrOwnershipInvalidTag},
	{StatusOwnershipUnknownKey, ErrOwnershipUnknownKey},
	{StatusFlashRange, ErrFlashRange},
	{StatusBufferPoolExhausted, ErrPoolExhausted},
}

// StatusOf returns the status word for err. Errors wrapping one of the
// sentinels map to that sentinel's status; any other non-nil error maps
// to [StatusUnknown].
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return StatusUnknown
}

// Err returns the sentinel error for the status word, or nil for [StatusOK].
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	for _, e := range statusTable {
		if e.status == s {
			return e.err
		}
	}
	return ErrUnknown
}

// Bytes returns the little-endian wire encoding of the status word.
func (s Status) Bytes() [4]byte {
	return [4]byte{byte(s), byte(s >> 8), byte(s >> 16), byte(s >> 24)}
}
