package sim

import (
	"errors"
	"time"

	"github.com/ardnew/softrescue/device/hal"
	"github.com/ardnew/softrescue/pkg"
)

// DefaultRetries bounds how many times a host transaction is retried while
// the device answers NAK.
const DefaultRetries = 1000

// ErrTimeout is returned when a transaction is still NAKed after the retry
// budget is spent.
var ErrTimeout = errors.New("transaction timed out")

// Poller is implemented by the device engine driving the peripheral.
type Poller interface {
	Poll()
}

// Host drives control transfers against a [Device].
//
// With a Poller, the host runs the device engine between retries, so a
// single goroutine can play both sides. Without one, the host waits for
// another goroutine to poll the device.
type Host struct {
	dev     *Device
	poller  Poller
	Retries int
	Wait    time.Duration
}

// NewHost creates a host for dev. poller may be nil.
func NewHost(dev *Device, poller Poller) *Host {
	h := &Host{
		dev:     dev,
		poller:  poller,
		Retries: DefaultRetries,
		Wait:    50 * time.Microsecond,
	}
	if poller == nil {
		h.Retries = 20 * DefaultRetries
	}
	return h
}

// Device returns the peripheral driven by the host.
func (h *Host) Device() *Device {
	return h.dev
}

func (h *Host) step() {
	if h.poller != nil {
		h.poller.Poll()
		return
	}
	time.Sleep(h.Wait)
}

// retry runs op until it succeeds or fails with an error other than NAK.
func (h *Host) retry(op func() error) error {
	for i := 0; i < h.Retries; i++ {
		err := op()
		if !errors.Is(err, pkg.ErrNAK) {
			return err
		}
		h.step()
	}
	return ErrTimeout
}

// Settle polls the device n times, letting it consume pending events.
func (h *Host) Settle(n int) {
	for i := 0; i < n; i++ {
		h.step()
	}
}

// BusReset signals a link reset and lets the device process it.
func (h *Host) BusReset() {
	h.dev.BusReset()
	h.step()
}

func (h *Host) sendSetup(ep int, setup []byte) error {
	return h.retry(func() error { return h.dev.Setup(ep, setup) })
}

// ControlRead performs a control transfer with an IN data stage.
// setup must be an 8-byte SETUP packet; its wLength bounds the read. A
// zero wLength has no data stage, so the status stage is IN.
func (h *Host) ControlRead(ep int, setup []byte) ([]byte, error) {
	if len(setup) != hal.SetupPacketSize {
		return nil, pkg.ErrSetupPacketTooShort
	}
	length := int(setup[6]) | int(setup[7])<<8
	if length == 0 {
		return nil, h.ControlWrite(ep, setup, nil)
	}
	if err := h.sendSetup(ep, setup); err != nil {
		return nil, err
	}
	h.step()

	data := make([]byte, 0, length)
	for len(data) < length {
		var pkt []byte
		err := h.retry(func() (err error) {
			pkt, err = h.dev.In(ep)
			return err
		})
		if err != nil {
			return data, err
		}
		data = append(data, pkt...)
		if len(pkt) < hal.BufferSize {
			break
		}
	}
	h.step()

	// Status stage.
	if err := h.retry(func() error { return h.dev.Out(ep, nil) }); err != nil {
		return data, err
	}
	h.step()
	return data, nil
}

// ControlWrite performs a control transfer with an optional OUT data stage.
func (h *Host) ControlWrite(ep int, setup []byte, data []byte) error {
	if len(setup) != hal.SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	if err := h.sendSetup(ep, setup); err != nil {
		return err
	}
	h.step()

	for off := 0; off < len(data); off += hal.BufferSize {
		chunk := data[off:min(off+hal.BufferSize, len(data))]
		if err := h.retry(func() error { return h.dev.Out(ep, chunk) }); err != nil {
			return err
		}
		h.step()
	}

	// Status stage.
	var zlp []byte
	err := h.retry(func() (err error) {
		zlp, err = h.dev.In(ep)
		return err
	})
	if err != nil {
		return err
	}
	if len(zlp) != 0 {
		return pkg.ErrProtocol
	}
	h.step()
	return nil
}
