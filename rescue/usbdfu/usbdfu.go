// Package usbdfu serves the rescue protocol over USB DFU.
//
// A [Device] owns the transfer engine of a USB peripheral and answers
// every request on the control endpoint: standard requests through a
// [device.ControlContext] and DFU requests through a [dfu.Protocol]. The
// rescue targets appear as the alternate settings of one DFU interface,
// in [rescue.AltSettings] order.
//
//	svc := rescue.NewService(cfg, &bootData)
//	dev, err := usbdfu.New(h, svc)
//	if err != nil {
//	    return err
//	}
//	err = dev.Run(ctx) // pkg.ErrChipReset when the host asks for a reboot
package usbdfu

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/ardnew/softrescue/device"
	"github.com/ardnew/softrescue/device/class/dfu"
	"github.com/ardnew/softrescue/device/hal"
	"github.com/ardnew/softrescue/pkg"
	"github.com/ardnew/softrescue/rescue"
)

type options struct {
	vendorID  uint16
	productID uint16
	resetter  rescue.Resetter
	idleWait  time.Duration
}

// Option configures a [Device].
type Option func(*options)

// WithIDs overrides the USB vendor and product identifiers.
func WithIDs(vendorID, productID uint16) Option {
	return func(o *options) {
		o.vendorID = vendorID
		o.productID = productID
	}
}

// WithResetter sets a capability invoked, in addition to stopping
// [Device.Run], when the protocol resets the chip.
func WithResetter(r rescue.Resetter) Option {
	return func(o *options) {
		o.resetter = r
	}
}

// WithIdleWait makes [Device.Run] sleep for d whenever a poll finds no
// pending interrupt. Without it, Run only yields the processor.
func WithIdleWait(d time.Duration) Option {
	return func(o *options) {
		o.idleWait = d
	}
}

// Device is a USB DFU rescue device. It implements [dfu.Transport] and
// [rescue.Resetter]. It is not safe for concurrent use.
type Device struct {
	ctrl     *device.Controller
	control  *device.ControlContext
	protocol *dfu.Protocol
	resetter rescue.Resetter
	idleWait time.Duration

	resetRequested bool
}

// New brings up the peripheral behind h and connects it to the bus.
func New(h hal.DeviceHAL, svc *rescue.Service, opts ...Option) (*Device, error) {
	o := options{
		vendorID:  DefaultVendorID,
		productID: DefaultProductID,
	}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Device{
		ctrl:     device.NewController(h),
		resetter: o.resetter,
		idleWait: o.idleWait,
	}
	if err := d.ctrl.Init(); err != nil {
		return nil, fmt.Errorf("init controller: %w", err)
	}
	d.control = device.NewControlContext(d.ctrl, 0,
		Descriptors(o.vendorID, o.productID, svc.DeviceID()))
	d.protocol = dfu.New(d, svc,
		dfu.WithControl(d.control),
		dfu.WithResetter(d))
	if err := d.ctrl.InitEndpoint(0, device.EndpointTypeControl, device.MaxPacketSize0, d.protocol); err != nil {
		return nil, fmt.Errorf("init control endpoint: %w", err)
	}
	d.ctrl.Enable()
	return d, nil
}

// Protocol returns the DFU protocol handler.
func (d *Device) Protocol() *dfu.Protocol {
	return d.protocol
}

// Control returns the standard request context of endpoint 0.
func (d *Device) Control() *device.ControlContext {
	return d.control
}

// Poll runs the transfer engine once.
func (d *Device) Poll() {
	d.ctrl.Poll()
}

// ResetRequested reports whether the protocol asked for a chip reset.
func (d *Device) ResetRequested() bool {
	return d.resetRequested
}

// Run polls the peripheral until ctx is done or the protocol resets the
// chip, in which case it returns [pkg.ErrChipReset].
func (d *Device) Run(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentDFU, "USB-DFU rescue ready")
	for !d.resetRequested {
		select {
		case <-ctx.Done():
			d.ctrl.Disable()
			return ctx.Err()
		default:
		}
		d.ctrl.Poll()
		if d.ctrl.HAL().InterruptState() == 0 {
			d.idle()
		}
	}
	d.ctrl.Disable()
	return pkg.ErrChipReset
}

func (d *Device) idle() {
	if d.idleWait > 0 {
		time.Sleep(d.idleWait)
		return
	}
	runtime.Gosched()
}

// Data implements [dfu.Transport].
func (d *Device) Data(data []byte, dir device.Direction, flags device.TransferFlags) {
	if err := d.ctrl.Transfer(0, data, dir, flags); err != nil {
		pkg.LogError(pkg.ComponentDFU, "transfer failed", "error", err)
	}
}

// SetupData implements [dfu.Transport].
func (d *Device) SetupData(setup *device.SetupPacket) error {
	return d.control.HandleSetup(setup)
}

// Result implements [dfu.Transport]. A failed request stalls endpoint 0
// until the next SETUP.
func (d *Device) Result(err error) {
	if err != nil {
		d.ctrl.Stall(0, true)
	}
}

// ResetChip implements [rescue.Resetter].
func (d *Device) ResetChip() {
	d.resetRequested = true
	if d.resetter != nil {
		d.resetter.ResetChip()
	}
}
