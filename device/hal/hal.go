package hal

// Interrupt state bits reported by [DeviceHAL.InterruptState].
const (
	IntrPktSent     uint32 = 1 << 0 // One or more IN packets were sent
	IntrPktReceived uint32 = 1 << 1 // The receive FIFO is not empty
	IntrLinkReset   uint32 = 1 << 2 // A bus reset was detected
)

// Peripheral geometry.
const (
	NumEndpoints = 12 // Endpoints per direction
	NumBuffers   = 32 // Packet buffers in the peripheral's buffer memory
	BufferSize   = 64 // Bytes per packet buffer

	// SetupPacketSize is the size of a USB SETUP packet in bytes.
	SetupPacketSize = 8
)

// RxPacket describes one entry popped from the receive FIFO.
type RxPacket struct {
	Endpoint int   // Endpoint the packet was received on
	Setup    bool  // Packet was a SETUP token
	Size     int   // Number of bytes in the buffer
	Buffer   uint8 // Packet buffer holding the data
}

// DeviceHAL is the register-level interface to a USB device peripheral.
//
// The peripheral owns a fixed set of packet buffers. The stack hands free
// buffers to the peripheral through the available FIFOs, receives them back
// through the receive FIFO, and loans buffers to IN endpoints through the
// per-endpoint configin registers. Buffer ownership never overlaps.
//
// Methods are called from a single polling context and must not block.
type DeviceHAL interface {
	// Init resets the peripheral to its power-on state.
	Init() error

	// Enable connects (true) or disconnects (false) the pull-up.
	Enable(connect bool)

	// SetAddress sets the device address used to match host tokens.
	SetAddress(address uint8)

	// Interrupts

	// InterruptState returns a snapshot of pending interrupt bits.
	InterruptState() uint32

	// AckInterrupts clears the given interrupt bits.
	AckInterrupts(bits uint32)

	// IN endpoints

	// InSent returns a bitmap of endpoints whose IN packet was sent.
	InSent() uint32

	// ClearInSent clears the sent bit of ep.
	ClearInSent(ep int)

	// ConfigIn returns the buffer loaned to the IN side of ep and whether
	// the packet is pending (cancelled by a SETUP or bus reset).
	ConfigIn(ep int) (buffer uint8, pending bool)

	// ClearPending clears the pending bit of ep.
	ClearPending(ep int)

	// SubmitIn marks buffer ready to be sent as the next IN packet on ep.
	SubmitIn(ep int, buffer uint8, size int)

	// Packet buffer memory

	// WriteBuffer copies data into a packet buffer.
	WriteBuffer(buffer uint8, data []byte)

	// ReadBuffer copies a packet buffer into dst and returns the count.
	ReadBuffer(buffer uint8, dst []byte) int

	// Receive side

	// AvailableSetupDepth returns the number of buffers queued for SETUP.
	AvailableSetupDepth() int

	// AvailableOutFull reports whether the OUT available FIFO is full.
	AvailableOutFull() bool

	// SupplySetupBuffer queues a free buffer for SETUP reception.
	SupplySetupBuffer(buffer uint8)

	// SupplyOutBuffer queues a free buffer for OUT reception.
	SupplyOutBuffer(buffer uint8)

	// RxEmpty reports whether the receive FIFO is empty.
	RxEmpty() bool

	// PopRx removes the oldest entry from the receive FIFO.
	PopRx() RxPacket

	// Endpoint control

	// SetEndpointEnable enables or disables both directions of ep.
	SetEndpointEnable(ep int, enable bool)

	// SetRxEnableOut allows (true) or NAKs (false) OUT packets on ep.
	SetRxEnableOut(ep int, enable bool)

	// SetRxEnableSetup allows (true) or ignores (false) SETUP on ep.
	SetRxEnableSetup(ep int, enable bool)

	// SetStall sets or clears the stall of one direction of ep.
	SetStall(ep int, in bool, enable bool)

	// Stalled reports the stall of one direction of ep.
	Stalled(ep int, in bool) bool
}
