package device

import (
	"github.com/ardnew/softrescue/device/hal"
	"github.com/ardnew/softrescue/pkg"
)

// setupDepth is the number of SETUP buffers kept ahead of OUT buffers.
const setupDepth = 2

// Poll processes one snapshot of peripheral events.
//
// In order: sent IN packets are retired and their transfers advanced, the
// available FIFOs are refilled from the buffer pool, received packets are
// dispatched, and a bus reset cancels every transfer. The interrupt
// snapshot is acknowledged last, so an event raised while Poll runs is
// handled by the next call.
func (c *Controller) Poll() {
	istate := c.hal.InterruptState()

	if istate&hal.IntrPktSent != 0 {
		c.processSent()
	}

	c.fillFIFOs()

	if istate&hal.IntrPktReceived != 0 {
		c.processReceived()
	}

	if istate&hal.IntrLinkReset != 0 {
		c.processLinkReset()
	}

	c.hal.AckInterrupts(istate)
}

// processSent retires every IN packet the host has collected.
func (c *Controller) processSent() {
	sent := c.hal.InSent()
	for ep := 0; ep < NumEndpoints; ep++ {
		if sent&(1<<ep) == 0 {
			continue
		}
		buf, _ := c.hal.ConfigIn(ep)
		c.pool.Put(buf)
		c.hal.ClearPending(ep)
		c.hal.ClearInSent(ep)

		e := &c.endpoints[ep]
		t := &e.transfer
		if !t.active {
			continue
		}
		switch {
		case len(t.data) > 0 || t.flags&FlagShortIn != 0:
			c.sendPacket(ep)
		case t.flags&FlagControl != 0:
			t.turnaround()
			c.hal.SetRxEnableOut(ep, true)
		default:
			c.complete(ep)
		}
	}
}

// fillFIFOs hands free buffers to the peripheral. SETUP reception is
// kept setupDepth deep before any buffer goes to the OUT FIFO.
func (c *Controller) fillFIFOs() {
	for !c.pool.Empty() {
		depth := c.hal.AvailableSetupDepth()
		if depth >= setupDepth && c.hal.AvailableOutFull() {
			break
		}
		buf := c.pool.Get()
		if depth < setupDepth {
			c.hal.SupplySetupBuffer(buf)
		} else {
			c.hal.SupplyOutBuffer(buf)
		}
	}
}

// processReceived drains the receive FIFO.
func (c *Controller) processReceived() {
	for !c.hal.RxEmpty() {
		pkt := c.hal.PopRx()
		n := c.hal.ReadBuffer(pkt.Buffer, c.scratch[:min(pkt.Size, MaxPacketSize)])
		c.pool.Put(pkt.Buffer)

		if pkt.Endpoint < 0 || pkt.Endpoint >= NumEndpoints {
			continue
		}
		if pkt.Setup {
			c.receiveSetup(pkt.Endpoint, c.scratch[:n])
			continue
		}
		e := &c.endpoints[pkt.Endpoint]
		if e.handler == nil {
			continue
		}

		t := &e.transfer
		if !t.active || t.dir != DirOut {
			pkg.LogDebug(pkg.ComponentTransfer, "dropped OUT packet without transfer",
				"ep", pkt.Endpoint,
				"size", n)
			continue
		}
		chunk := min(n, len(t.data))
		copy(t.data, c.scratch[:chunk])
		t.data = t.data[chunk:]
		t.bytes += chunk

		pkg.LogDebug(pkg.ComponentTransfer, "packet received",
			"ep", pkt.Endpoint,
			"buffer", pkt.Buffer,
			"size", n)

		if len(t.data) > 0 && chunk == e.size {
			continue
		}
		if t.flags&FlagControl != 0 {
			t.turnaround()
			c.hal.SetRxEnableOut(pkt.Endpoint, false)
			c.sendPacket(pkt.Endpoint)
		} else {
			c.complete(pkt.Endpoint)
		}
	}
}

// receiveSetup dispatches a SETUP packet. An IN packet cancelled by the
// SETUP is reclaimed first.
func (c *Controller) receiveSetup(ep int, data []byte) {
	if buf, pending := c.hal.ConfigIn(ep); pending {
		c.pool.Put(buf)
		c.hal.ClearPending(ep)
	}
	e := &c.endpoints[ep]
	e.transfer = Transfer{}
	if e.handler == nil {
		return
	}

	var ev Event
	ev.Kind = EventSetup
	if err := ParseSetupPacket(data, &ev.Setup); err != nil {
		pkg.LogWarn(pkg.ComponentTransfer, "short SETUP packet", "ep", ep, "size", len(data))
		return
	}
	pkg.LogDebug(pkg.ComponentControl, "setup received", "ep", ep, "setup", ev.Setup.String())
	e.handler.HandleEvent(ep, ev)
}

// processLinkReset reclaims loaned IN buffers and cancels every transfer.
func (c *Controller) processLinkReset() {
	pkg.LogInfo(pkg.ComponentController, "bus reset")
	for ep := 0; ep < NumEndpoints; ep++ {
		if buf, pending := c.hal.ConfigIn(ep); pending {
			c.pool.Put(buf)
			c.hal.ClearPending(ep)
		}
		e := &c.endpoints[ep]
		if e.handler == nil {
			continue
		}
		ev := Event{Kind: EventReset}
		if e.transfer.Active() {
			pkg.LogDebug(pkg.ComponentTransfer, "transfer cancelled",
				"ep", ep,
				"bytes", e.transfer.Bytes(),
				"error", ev.Err())
		}
		e.transfer = Transfer{}
		e.handler.HandleEvent(ep, ev)
	}
}
