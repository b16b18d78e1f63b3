// Package spidfu serves the rescue protocol over a SPI flash interface.
//
// The host talks to the chip as if it were a SPI NOR flash. A PageProgram
// of a SETUP packet to [MailboxAddress] starts a DFU request, and its
// 4-byte status word is read back from the same address. DnLoad data is
// programmed at address 0 and UpLoad data is read from address 0:
//
//	host                                 device
//	PageProgram(MailboxAddress, setup) → Protocol SETUP → status word
//	Read(MailboxAddress, 4)            ← status word
//	PageProgram(0, data)               → staging buffer, Done when complete
//	Read(0, n)                         ← flash buffer
//
// Only the vendor SetInterface and DFU class requests are served; standard
// requests fail with [pkg.ErrBadSetup].
package spidfu

import (
	"context"
	"fmt"

	"github.com/ardnew/softrescue/device"
	"github.com/ardnew/softrescue/device/class/dfu"
	"github.com/ardnew/softrescue/pkg"
	"github.com/ardnew/softrescue/rescue"
)

// Egress buffer layout and SPI addresses.
const (
	// FlashBuffer is the egress offset of the 2 KiB flash read buffer.
	FlashBuffer = 0
	// FlashBufferSize is the size of the flash read buffer.
	FlashBufferSize = 2048

	// MailboxBuffer is the egress offset of the 1 KiB mailbox.
	MailboxBuffer = 2048
	// MailboxSize is the size of the mailbox.
	MailboxSize = 1024

	// EgressSize is the size of the egress buffer.
	EgressSize = MailboxBuffer + MailboxSize

	// MailboxAddress is the SPI address the mailbox is mapped at.
	MailboxAddress = 0x00FFF000

	// ProgramPageSize is the largest PageProgram payload.
	ProgramPageSize = 256
)

// Opcode is a SPI flash command opcode.
type Opcode uint8

// Opcodes uploaded to firmware.
const (
	OpcodePageProgram Opcode = 0x02
	OpcodeReset       Opcode = 0x99
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpcodePageProgram:
		return "PageProgram"
	case OpcodeReset:
		return "Reset"
	default:
		return fmt.Sprintf("Opcode(%#02x)", uint8(o))
	}
}

// Command is a SPI flash command uploaded to firmware.
type Command struct {
	Opcode  Opcode
	Address uint32
	Payload []byte
}

// SPIDevice is the SPI device peripheral.
//
// NextCommand blocks until the host uploads a command. The peripheral
// reports the flash busy until ClearStatus is called.
type SPIDevice interface {
	NextCommand(ctx context.Context) (Command, error)
	CopyToEgress(offset int, data []byte)
	ClearStatus()
	EnableMailbox(address uint32)
}

type options struct {
	resetter rescue.Resetter
}

// Option configures a [Device].
type Option func(*options)

// WithResetter sets a capability invoked, in addition to stopping
// [Device.Serve], when the chip is reset.
func WithResetter(r rescue.Resetter) Option {
	return func(o *options) {
		o.resetter = r
	}
}

// Device is a SPI DFU rescue device. It implements [dfu.Transport] and
// [rescue.Resetter]. It is not safe for concurrent use.
type Device struct {
	spi      SPIDevice
	protocol *dfu.Protocol
	resetter rescue.Resetter

	// Destination of the DnLoad in progress.
	out      []byte
	expected int

	resetRequested bool
}

// New creates a device serving svc through spi.
func New(spi SPIDevice, svc *rescue.Service, opts ...Option) *Device {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	d := &Device{spi: spi, resetter: o.resetter}
	d.protocol = dfu.New(d, svc, dfu.WithResetter(d))
	return d
}

// Protocol returns the DFU protocol handler.
func (d *Device) Protocol() *dfu.Protocol {
	return d.protocol
}

// ResetRequested reports whether a chip reset was requested.
func (d *Device) ResetRequested() bool {
	return d.resetRequested
}

// Serve handles commands until ctx is done, the peripheral fails, or the
// chip is reset, in which case it returns [pkg.ErrChipReset].
func (d *Device) Serve(ctx context.Context) error {
	d.spi.EnableMailbox(MailboxAddress)
	pkg.LogInfo(pkg.ComponentSPI, "SPI-DFU rescue ready", pkg.AddrAttr("mailbox", MailboxAddress))
	for !d.resetRequested {
		cmd, err := d.spi.NextCommand(ctx)
		if err != nil {
			return err
		}
		d.handleCommand(cmd)
	}
	return pkg.ErrChipReset
}

func (d *Device) handleCommand(cmd Command) {
	pkg.LogDebug(pkg.ComponentSPI, "command",
		"opcode", cmd.Opcode.String(),
		pkg.AddrAttr("address", cmd.Address),
		"length", len(cmd.Payload))

	switch cmd.Opcode {
	case OpcodePageProgram:
		if cmd.Address == MailboxAddress {
			d.handleSetup(cmd.Payload)
		} else {
			d.handleData(cmd.Address, cmd.Payload)
		}
	case OpcodeReset:
		d.ResetChip()
	default:
		d.Result(fmt.Errorf("opcode %s: %w", cmd.Opcode, pkg.ErrBadSetup))
	}
}

func (d *Device) handleSetup(payload []byte) {
	var setup device.SetupPacket
	if err := device.ParseSetupPacket(payload, &setup); err != nil {
		d.Result(fmt.Errorf("%w: %w", pkg.ErrBadSetup, err))
		return
	}
	d.protocol.HandleEvent(0, device.Event{Kind: device.EventSetup, Setup: setup})
}

// handleData stores a DnLoad chunk and completes the transfer once the
// expected length has arrived.
func (d *Device) handleData(address uint32, payload []byte) {
	defer d.spi.ClearStatus()
	if d.out == nil {
		pkg.LogWarn(pkg.ComponentSPI, "stray data dropped",
			pkg.AddrAttr("address", address),
			"length", len(payload))
		return
	}
	offset := int(address & (FlashBufferSize - 1))
	if offset < len(d.out) {
		copy(d.out[offset:], payload)
	}
	length := offset + len(payload)
	if length < d.expected {
		return
	}
	// Bytes programmed past the declared length were not stored.
	stored := d.expected
	d.out = nil
	d.expected = 0
	d.protocol.HandleEvent(0, device.Event{Kind: device.EventDone, Length: stored, Direction: device.DirOut})
}

// Data implements [dfu.Transport]. IN data is published in the flash
// buffer; OUT data arrives through later PageProgram commands.
func (d *Device) Data(data []byte, dir device.Direction, flags device.TransferFlags) {
	if dir == device.DirIn {
		d.spi.CopyToEgress(FlashBuffer, data)
		return
	}
	d.out = data
	d.expected = len(data)
}

// SetupData implements [dfu.Transport]. Standard requests are not served
// over SPI.
func (d *Device) SetupData(setup *device.SetupPacket) error {
	return fmt.Errorf("standard request %#02x over SPI: %w", setup.Request, pkg.ErrBadSetup)
}

// Result implements [dfu.Transport]. The status word is published in the
// mailbox and the flash busy status is released.
func (d *Device) Result(err error) {
	status := pkg.StatusOf(err).Bytes()
	pkg.LogDebug(pkg.ComponentSPI, "result", pkg.StatusAttr(err))
	d.spi.CopyToEgress(MailboxBuffer, status[:])
	d.spi.ClearStatus()
}

// ResetChip implements [rescue.Resetter].
func (d *Device) ResetChip() {
	pkg.LogInfo(pkg.ComponentSPI, "chip reset")
	d.resetRequested = true
	if d.resetter != nil {
		d.resetter.ResetChip()
	}
}
