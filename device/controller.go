package device

import (
	"fmt"

	"github.com/ardnew/softrescue/device/hal"
	"github.com/ardnew/softrescue/pkg"
)

// Controller drives a USB device peripheral through a [hal.DeviceHAL].
//
// It owns the buffer pool and the endpoint table. All methods, including
// handler callbacks made from [Controller.Poll], run in a single execution
// context; Controller is not safe for concurrent use.
type Controller struct {
	hal       hal.DeviceHAL
	pool      BufferPool
	endpoints [NumEndpoints]endpoint
	scratch   [MaxPacketSize]byte
}

// NewController creates a controller for the given peripheral.
func NewController(h hal.DeviceHAL) *Controller {
	return &Controller{
		hal:  h,
		pool: NewBufferPool(),
	}
}

// HAL returns the underlying peripheral.
func (c *Controller) HAL() hal.DeviceHAL {
	return c.hal
}

// Pool returns the packet buffer pool.
func (c *Controller) Pool() *BufferPool {
	return &c.pool
}

// Init resets the peripheral, the buffer pool and every endpoint, then
// configures endpoint 0 as a control endpoint without a handler.
func (c *Controller) Init() error {
	if err := c.hal.Init(); err != nil {
		return fmt.Errorf("init peripheral: %w", err)
	}
	c.pool.Reset()
	for i := range c.endpoints {
		c.endpoints[i] = endpoint{}
	}
	c.fillFIFOs()
	return c.InitEndpoint(0, EndpointTypeControl, MaxPacketSize0, nil)
}

// InitEndpoint configures logical endpoint ep and installs its handler.
// The stall condition of the endpoint is cleared.
func (c *Controller) InitEndpoint(ep int, typ EndpointType, size int, handler Handler) error {
	if ep < 0 || ep >= NumEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	if size <= 0 || size > MaxPacketSize {
		return fmt.Errorf("endpoint %d packet size %d: %w", ep, size, pkg.ErrBufferTooSmall)
	}
	e := &c.endpoints[ep]
	e.typ = typ
	e.size = size
	e.handler = handler
	e.transfer = Transfer{}

	c.hal.SetStall(ep, true, false)
	c.hal.SetStall(ep, false, false)
	c.hal.SetEndpointEnable(ep, true)
	c.hal.SetRxEnableSetup(ep, typ&EndpointTypeSetup != 0)
	c.hal.SetRxEnableOut(ep, typ == EndpointTypeControl)

	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint configured",
		"ep", ep,
		"type", uint8(typ),
		"size", size)
	return nil
}

// Enable connects the device to the bus.
func (c *Controller) Enable() {
	c.hal.Enable(true)
	pkg.LogInfo(pkg.ComponentController, "device connected")
}

// Disable disconnects the device from the bus.
func (c *Controller) Disable() {
	c.hal.Enable(false)
	pkg.LogInfo(pkg.ComponentController, "device disconnected")
}

// SetAddress programs the device address.
func (c *Controller) SetAddress(address uint8) {
	c.hal.SetAddress(address)
	pkg.LogDebug(pkg.ComponentController, "address set", "address", address)
}

// Stall sets or clears the stall condition of both directions of ep.
func (c *Controller) Stall(ep int, enable bool) {
	if ep < 0 || ep >= NumEndpoints {
		return
	}
	c.hal.SetStall(ep, true, enable)
	c.hal.SetStall(ep, false, enable)
	if enable {
		pkg.LogDebug(pkg.ComponentEndpoint, "endpoint stalled", "ep", ep)
	}
}

// Stalled reports whether either direction of ep is stalled.
func (c *Controller) Stalled(ep int) bool {
	if ep < 0 || ep >= NumEndpoints {
		return false
	}
	return c.hal.Stalled(ep, true) || c.hal.Stalled(ep, false)
}

// Endpoint returns the active transfer of ep for inspection.
func (c *Controller) Endpoint(ep int) *Transfer {
	if ep < 0 || ep >= NumEndpoints {
		return nil
	}
	return &c.endpoints[ep].transfer
}

// Transfer starts a transfer of data on ep, replacing any transfer in
// progress.
//
// For DirIn the first packet is submitted immediately. For DirOut the
// endpoint is armed and data is filled as packets arrive; the transfer
// completes when data is full or a short packet is received. A non-empty
// transfer on a control endpoint also runs the zero-length status stage.
func (c *Controller) Transfer(ep int, data []byte, dir Direction, flags TransferFlags) error {
	if ep < 0 || ep >= NumEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	e := &c.endpoints[ep]
	if e.isControl() && len(data) > 0 {
		flags |= FlagControl
	}
	e.transfer = Transfer{
		data:   data,
		dir:    dir,
		flags:  flags,
		active: true,
	}

	pkg.LogDebug(pkg.ComponentTransfer, "transfer started",
		"ep", ep,
		"dir", dir.String(),
		"length", len(data),
		"flags", uint8(flags))

	if dir == DirIn {
		c.hal.SetRxEnableOut(ep, false)
		c.sendPacket(ep)
	} else {
		c.hal.SetRxEnableOut(ep, true)
	}
	return nil
}

// sendPacket submits the next IN packet of the active transfer of ep.
func (c *Controller) sendPacket(ep int) {
	e := &c.endpoints[ep]
	t := &e.transfer
	chunk := min(e.size, len(t.data))
	if chunk < e.size {
		// The short packet terminates the transfer by itself.
		t.flags &^= FlagShortIn
	}
	buf := c.pool.Get()
	c.hal.WriteBuffer(buf, t.data[:chunk])
	t.data = t.data[chunk:]
	t.bytes += chunk
	c.hal.SubmitIn(ep, buf, chunk)

	pkg.LogDebug(pkg.ComponentTransfer, "packet submitted",
		"ep", ep,
		"buffer", buf,
		"size", chunk)
}

// complete finishes the active transfer of ep and notifies its handler.
func (c *Controller) complete(ep int) {
	e := &c.endpoints[ep]
	t := &e.transfer
	t.active = false
	if e.isControl() {
		// Accept the host's status OUT of a control read that had no data
		// stage to turn around.
		c.hal.SetRxEnableOut(ep, true)
	}
	ev := Event{Kind: EventDone, Length: t.bytes, Direction: t.dir}
	pkg.LogDebug(pkg.ComponentTransfer, "transfer done",
		"ep", ep,
		"dir", t.dir.String(),
		"length", t.bytes)
	if e.handler != nil {
		e.handler.HandleEvent(ep, ev)
	}
}
