package sim

import (
	"errors"
	"sync"

	"github.com/ardnew/softrescue/device/hal"
	"github.com/ardnew/softrescue/pkg"
)

// FIFO depths of the modelled peripheral.
const (
	AvSetupDepth = 4
	AvOutDepth   = 8
	RxDepth      = 8
)

// ErrDisconnected is returned by host operations while the device has its
// pull-up disabled.
var ErrDisconnected = errors.New("device not connected")

type configIn struct {
	buffer uint8
	size   int
	rdy    bool
	pend   bool
}

// Device is an in-memory model of a USB device peripheral with a shared
// packet-buffer memory. The device side implements [hal.DeviceHAL]; the
// host side (Setup, Out, In, BusReset) plays the bus.
//
// Device is safe for concurrent use by one device goroutine and one host
// goroutine.
type Device struct {
	mu sync.Mutex

	buffers [hal.NumBuffers][hal.BufferSize]byte

	avSetup []uint8
	avOut   []uint8
	rx      []hal.RxPacket

	configIn [hal.NumEndpoints]configIn
	inSent   uint32

	epEnable      uint32
	rxEnableOut   uint32
	rxEnableSetup uint32
	stallIn       uint32
	stallOut      uint32

	address   uint8
	connected bool
	linkReset bool
}

var _ hal.DeviceHAL = (*Device)(nil)

// New creates a disconnected peripheral in its power-on state.
func New() *Device {
	d := &Device{}
	d.reset()
	return d
}

func (d *Device) reset() {
	d.avSetup = d.avSetup[:0]
	d.avOut = d.avOut[:0]
	d.rx = d.rx[:0]
	d.configIn = [hal.NumEndpoints]configIn{}
	d.inSent = 0
	d.epEnable = 0
	d.rxEnableOut = 0
	d.rxEnableSetup = 0
	d.stallIn = 0
	d.stallOut = 0
	d.address = 0
	d.linkReset = false
}

// Init resets the peripheral. The connection state is preserved.
func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
	return nil
}

// Enable connects or disconnects the device.
func (d *Device) Enable(connect bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connect
}

// SetAddress records the device address.
func (d *Device) SetAddress(address uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.address = address
}

// InterruptState reports pending interrupt bits.
func (d *Device) InterruptState() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var s uint32
	if d.inSent != 0 {
		s |= hal.IntrPktSent
	}
	if len(d.rx) > 0 {
		s |= hal.IntrPktReceived
	}
	if d.linkReset {
		s |= hal.IntrLinkReset
	}
	return s
}

// AckInterrupts clears latched interrupt bits.
func (d *Device) AckInterrupts(bits uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if bits&hal.IntrLinkReset != 0 {
		d.linkReset = false
	}
}

// InSent returns the bitmap of endpoints whose IN packet was collected.
func (d *Device) InSent() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inSent
}

// ClearInSent clears the sent bit of ep.
func (d *Device) ClearInSent(ep int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inSent &^= 1 << ep
}

// ConfigIn returns the buffer loaned to ep and its pending bit.
func (d *Device) ConfigIn(ep int) (uint8, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &d.configIn[ep]
	return c.buffer, c.pend
}

// ClearPending clears the pending bit of ep.
func (d *Device) ClearPending(ep int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configIn[ep].pend = false
}

// SubmitIn marks buffer ready to send on ep.
func (d *Device) SubmitIn(ep int, buffer uint8, size int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configIn[ep] = configIn{buffer: buffer, size: size, rdy: true}
}

// WriteBuffer copies data into a packet buffer.
func (d *Device) WriteBuffer(buffer uint8, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.buffers[buffer%hal.NumBuffers][:], data)
}

// ReadBuffer copies a packet buffer into dst.
func (d *Device) ReadBuffer(buffer uint8, dst []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copy(dst, d.buffers[buffer%hal.NumBuffers][:])
}

// AvailableSetupDepth returns the SETUP available FIFO depth.
func (d *Device) AvailableSetupDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.avSetup)
}

// AvailableOutFull reports whether the OUT available FIFO is full.
func (d *Device) AvailableOutFull() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.avOut) >= AvOutDepth
}

// SupplySetupBuffer queues buffer for SETUP reception.
func (d *Device) SupplySetupBuffer(buffer uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.avSetup) >= AvSetupDepth {
		panic("sim: SETUP available FIFO overflow")
	}
	d.avSetup = append(d.avSetup, buffer)
}

// SupplyOutBuffer queues buffer for OUT reception.
func (d *Device) SupplyOutBuffer(buffer uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.avOut) >= AvOutDepth {
		panic("sim: OUT available FIFO overflow")
	}
	d.avOut = append(d.avOut, buffer)
}

// RxEmpty reports whether the receive FIFO is empty.
func (d *Device) RxEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rx) == 0
}

// PopRx removes the oldest receive FIFO entry.
func (d *Device) PopRx() hal.RxPacket {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.rx[0]
	d.rx = append(d.rx[:0], d.rx[1:]...)
	return p
}

func setBit(v *uint32, ep int, on bool) {
	if on {
		*v |= 1 << ep
	} else {
		*v &^= 1 << ep
	}
}

// SetEndpointEnable enables or disables ep.
func (d *Device) SetEndpointEnable(ep int, enable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	setBit(&d.epEnable, ep, enable)
}

// SetRxEnableOut allows or NAKs OUT packets on ep.
func (d *Device) SetRxEnableOut(ep int, enable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	setBit(&d.rxEnableOut, ep, enable)
}

// SetRxEnableSetup allows or ignores SETUP packets on ep.
func (d *Device) SetRxEnableSetup(ep int, enable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	setBit(&d.rxEnableSetup, ep, enable)
}

// SetStall sets or clears the stall of one direction of ep.
func (d *Device) SetStall(ep int, in bool, enable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if in {
		setBit(&d.stallIn, ep, enable)
	} else {
		setBit(&d.stallOut, ep, enable)
	}
}

// Stalled reports the stall of one direction of ep.
func (d *Device) Stalled(ep int, in bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if in {
		return d.stallIn&(1<<ep) != 0
	}
	return d.stallOut&(1<<ep) != 0
}

// Host side.

// Address returns the address programmed by the device.
func (d *Device) Address() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address
}

// Connected reports whether the device pull-up is enabled.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Outstanding returns the number of buffers held by the peripheral: queued
// in the available or receive FIFOs, or loaned to an IN endpoint.
func (d *Device) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.avSetup) + len(d.avOut) + len(d.rx)
	for _, c := range d.configIn {
		if c.rdy || c.pend {
			n++
		}
	}
	return n
}

func (d *Device) checkEndpoint(ep int) error {
	if !d.connected {
		return ErrDisconnected
	}
	if ep < 0 || ep >= hal.NumEndpoints || d.epEnable&(1<<ep) == 0 {
		return pkg.ErrInvalidEndpoint
	}
	return nil
}

// Setup delivers an 8-byte SETUP packet to ep. A SETUP clears the stall
// of ep and cancels an IN packet waiting on it.
func (d *Device) Setup(ep int, setup []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkEndpoint(ep); err != nil {
		return err
	}
	if len(setup) != hal.SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	if d.rxEnableSetup&(1<<ep) == 0 || len(d.avSetup) == 0 || len(d.rx) >= RxDepth {
		return pkg.ErrNAK
	}
	buf := d.avSetup[0]
	d.avSetup = append(d.avSetup[:0], d.avSetup[1:]...)
	copy(d.buffers[buf][:], setup)
	d.rx = append(d.rx, hal.RxPacket{Endpoint: ep, Setup: true, Size: len(setup), Buffer: buf})

	d.stallIn &^= 1 << ep
	d.stallOut &^= 1 << ep
	if c := &d.configIn[ep]; c.rdy {
		c.rdy = false
		c.pend = true
	}
	return nil
}

// Out delivers an OUT data packet of at most [hal.BufferSize] bytes to ep.
func (d *Device) Out(ep int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkEndpoint(ep); err != nil {
		return err
	}
	if len(data) > hal.BufferSize {
		return pkg.ErrBufferTooSmall
	}
	if d.stallOut&(1<<ep) != 0 {
		return pkg.ErrStall
	}
	if d.rxEnableOut&(1<<ep) == 0 || len(d.avOut) == 0 || len(d.rx) >= RxDepth {
		return pkg.ErrNAK
	}
	buf := d.avOut[0]
	d.avOut = append(d.avOut[:0], d.avOut[1:]...)
	copy(d.buffers[buf][:], data)
	d.rx = append(d.rx, hal.RxPacket{Endpoint: ep, Size: len(data), Buffer: buf})
	return nil
}

// In collects the IN packet waiting on ep.
func (d *Device) In(ep int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkEndpoint(ep); err != nil {
		return nil, err
	}
	if d.stallIn&(1<<ep) != 0 {
		return nil, pkg.ErrStall
	}
	c := &d.configIn[ep]
	if !c.rdy {
		return nil, pkg.ErrNAK
	}
	data := make([]byte, c.size)
	copy(data, d.buffers[c.buffer][:c.size])
	c.rdy = false
	d.inSent |= 1 << ep
	return data, nil
}

// BusReset signals a link reset. Waiting IN packets are cancelled and the
// device address returns to zero.
func (d *Device) BusReset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.configIn {
		if c := &d.configIn[i]; c.rdy {
			c.rdy = false
			c.pend = true
		}
	}
	d.address = 0
	d.linkReset = true
}
