package spidfu

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ardnew/softrescue/device"
	"github.com/ardnew/softrescue/device/class/dfu"
	"github.com/ardnew/softrescue/pkg"
	"github.com/ardnew/softrescue/rescue"
)

type simCommand struct {
	cmd  Command
	done chan struct{}
}

// Sim is an in-memory [SPIDevice]. A [SimHost] uploads commands from one
// goroutine while a [Device] serves them from another.
type Sim struct {
	cmds chan simCommand

	mu      sync.Mutex
	egress  [EgressSize]byte
	mailbox uint32
	enabled bool
	busy    chan struct{}
}

// NewSim creates a peripheral with no mailbox mapped.
func NewSim() *Sim {
	return &Sim{cmds: make(chan simCommand)}
}

// NextCommand implements [SPIDevice].
func (s *Sim) NextCommand(ctx context.Context) (Command, error) {
	select {
	case <-ctx.Done():
		return Command{}, ctx.Err()
	case c := <-s.cmds:
		s.mu.Lock()
		s.busy = c.done
		s.mu.Unlock()
		return c.cmd, nil
	}
}

// CopyToEgress implements [SPIDevice].
func (s *Sim) CopyToEgress(offset int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset >= EgressSize {
		return
	}
	copy(s.egress[offset:], data)
}

// ClearStatus implements [SPIDevice].
func (s *Sim) ClearStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy != nil {
		close(s.busy)
		s.busy = nil
	}
}

// EnableMailbox implements [SPIDevice].
func (s *Sim) EnableMailbox(address uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mailbox = address
	s.enabled = true
}

// MailboxEnabled reports whether firmware mapped the mailbox.
func (s *Sim) MailboxEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// read copies egress data mapped at address into buf.
func (s *Sim) read(address uint32, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := uint64(address) + uint64(len(buf))
	switch {
	case s.enabled && address >= s.mailbox && end <= uint64(s.mailbox)+MailboxSize:
		copy(buf, s.egress[MailboxBuffer+int(address-s.mailbox):])
	case end <= FlashBufferSize:
		copy(buf, s.egress[FlashBuffer+int(address):])
	default:
		return fmt.Errorf("read %#08x+%d: %w", address, len(buf), pkg.ErrFlashRange)
	}
	return nil
}

// send uploads cmd and, when wait is set, blocks until firmware clears
// the busy status.
func (s *Sim) send(ctx context.Context, cmd Command, wait bool) error {
	c := simCommand{cmd: cmd, done: make(chan struct{})}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.cmds <- c:
	}
	if !wait {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return nil
	}
}

// SimHost drives a [Sim] the way a SPI flash host would.
type SimHost struct {
	sim *Sim

	// Timeout bounds each command; zero means no bound.
	Timeout time.Duration

	// Interface is the wIndex of DFU requests.
	Interface uint16
}

// NewSimHost creates a host for sim.
func NewSimHost(sim *Sim) *SimHost {
	return &SimHost{sim: sim, Timeout: 5 * time.Second}
}

func (h *SimHost) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.Timeout > 0 {
		return context.WithTimeout(ctx, h.Timeout)
	}
	return context.WithCancel(ctx)
}

// Program writes data at address in PageProgram-sized chunks, waiting
// for each to be consumed.
func (h *SimHost) Program(ctx context.Context, address uint32, data []byte) error {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()
	for off := 0; off < len(data); off += ProgramPageSize {
		chunk := data[off:min(off+ProgramPageSize, len(data))]
		cmd := Command{
			Opcode:  OpcodePageProgram,
			Address: address + uint32(off),
			Payload: slices.Clone(chunk),
		}
		if err := h.sim.send(ctx, cmd, true); err != nil {
			return fmt.Errorf("program %#08x: %w", cmd.Address, err)
		}
	}
	return nil
}

// Read reads len(buf) bytes at address.
func (h *SimHost) Read(address uint32, buf []byte) error {
	return h.sim.read(address, buf)
}

// Reset asks the chip to reset. It does not wait for the device.
func (h *SimHost) Reset(ctx context.Context) error {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()
	return h.sim.send(ctx, Command{Opcode: OpcodeReset}, false)
}

// Command uploads an arbitrary opcode and waits for its status.
func (h *SimHost) Command(ctx context.Context, op Opcode, address uint32) error {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()
	if err := h.sim.send(ctx, Command{Opcode: op, Address: address}, true); err != nil {
		return err
	}
	return h.result()
}

func (h *SimHost) result() error {
	var status [4]byte
	if err := h.Read(MailboxAddress, status[:]); err != nil {
		return err
	}
	return pkg.Status(binary.LittleEndian.Uint32(status[:])).Err()
}

func (h *SimHost) setup(ctx context.Context, s device.SetupPacket) error {
	var buf [device.SetupPacketSize]byte
	s.MarshalTo(buf[:])
	if err := h.Program(ctx, MailboxAddress, buf[:]); err != nil {
		return err
	}
	if err := h.result(); err != nil {
		return fmt.Errorf("%s: %w", s.String(), err)
	}
	return nil
}

// WriteControl runs a host-to-device request and programs its data.
func (h *SimHost) WriteControl(ctx context.Context, requestType, request uint8, value, index uint16, data []byte) error {
	if err := h.setup(ctx, device.NewSetup(requestType, request, value, index, uint16(len(data)))); err != nil {
		return err
	}
	return h.Program(ctx, 0, data)
}

// ReadControl runs a device-to-host request and reads its data.
func (h *SimHost) ReadControl(ctx context.Context, requestType, request uint8, value, index uint16, buf []byte) error {
	if err := h.setup(ctx, device.NewSetup(requestType, request, value, index, uint16(len(buf)))); err != nil {
		return err
	}
	return h.Read(0, buf)
}

const (
	requestTypeOut    = device.RequestDirectionHostToDevice | device.RequestTypeClass | device.RequestRecipientInterface
	requestTypeIn     = device.RequestDirectionDeviceToHost | device.RequestTypeClass | device.RequestRecipientInterface
	requestTypeVendor = device.RequestDirectionHostToDevice | device.RequestTypeVendor | device.RequestRecipientInterface
)

// SetMode selects a rescue target by FourCC.
func (h *SimHost) SetMode(ctx context.Context, mode rescue.Mode) error {
	return h.WriteControl(ctx, requestTypeVendor, device.RequestSetInterface,
		uint16(mode>>16), uint16(mode), nil)
}

// Download sends one DnLoad block.
func (h *SimHost) Download(ctx context.Context, data []byte) error {
	return h.WriteControl(ctx, requestTypeOut, uint8(dfu.RequestDnLoad), 0, h.Interface, data)
}

// Upload fills buf with one UpLoad block.
func (h *SimHost) Upload(ctx context.Context, buf []byte) error {
	return h.ReadControl(ctx, requestTypeIn, uint8(dfu.RequestUpLoad), 0, h.Interface, buf)
}

// GetStatus returns the DFU status code and state.
func (h *SimHost) GetStatus(ctx context.Context) (dfu.Error, dfu.State, error) {
	var st [dfu.StatusSize]byte
	if err := h.ReadControl(ctx, requestTypeIn, uint8(dfu.RequestGetStatus), 0, h.Interface, st[:]); err != nil {
		return 0, 0, err
	}
	return dfu.Error(st[0]), dfu.State(st[4]), nil
}

// GetState returns the DFU state.
func (h *SimHost) GetState(ctx context.Context) (dfu.State, error) {
	var st [1]byte
	if err := h.ReadControl(ctx, requestTypeIn, uint8(dfu.RequestGetState), 0, h.Interface, st[:]); err != nil {
		return 0, err
	}
	return dfu.State(st[0]), nil
}

// ClearStatus leaves the error state.
func (h *SimHost) ClearStatus(ctx context.Context) error {
	return h.WriteControl(ctx, requestTypeOut, uint8(dfu.RequestClrStatus), 0, h.Interface, nil)
}

// Abort returns to the idle state.
func (h *SimHost) Abort(ctx context.Context) error {
	return h.WriteControl(ctx, requestTypeOut, uint8(dfu.RequestAbort), 0, h.Interface, nil)
}

// Send downloads data in transfer-size blocks, checking the status after
// each, and finishes with an empty block. It returns the final state.
func (h *SimHost) Send(ctx context.Context, data []byte) (dfu.State, error) {
	for off := 0; off < len(data); off += dfu.TransferSize {
		block := data[off:min(off+dfu.TransferSize, len(data))]
		if err := h.Download(ctx, block); err != nil {
			return 0, err
		}
		code, state, err := h.GetStatus(ctx)
		if err != nil {
			return 0, err
		}
		if code != dfu.ErrOk {
			return state, fmt.Errorf("block at %#x: %s in %s: %w", off, code, state, pkg.ErrProtocol)
		}
	}
	if err := h.Download(ctx, nil); err != nil {
		return 0, err
	}
	_, state, err := h.GetStatus(ctx)
	return state, err
}

// Recv uploads one transfer-size block.
func (h *SimHost) Recv(ctx context.Context) ([]byte, error) {
	buf := make([]byte, dfu.TransferSize)
	if err := h.Upload(ctx, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
