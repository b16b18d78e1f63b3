package dfu

import (
	"errors"
	"fmt"

	"github.com/ardnew/softrescue/device"
	"github.com/ardnew/softrescue/pkg"
	"github.com/ardnew/softrescue/rescue"
)

// Protocol is the transport-agnostic DFU protocol handler driving a rescue
// session. It implements [device.Handler] and is not safe for concurrent
// use.
type Protocol struct {
	transport Transport
	service   *rescue.Service
	control   *device.ControlContext
	resetter  rescue.Resetter

	state State
	err   Error

	// Response buffers; must stay valid until the IN transfer completes.
	status   [StatusSize]byte
	stateBuf [1]byte
	iface    [1]byte
}

// Option configures a [Protocol].
type Option func(*Protocol)

// WithControl attaches the standard request context of a USB transport.
// Its pending address and configuration are applied on every completed
// transfer, and a bus reset of an enumerated device resets the chip.
func WithControl(cc *device.ControlContext) Option {
	return func(p *Protocol) {
		p.control = cc
	}
}

// WithResetter sets the capability used to reset the chip.
func WithResetter(r rescue.Resetter) Option {
	return func(p *Protocol) {
		p.resetter = r
	}
}

// WithState sets the initial DFU state. The default is [StateIdle].
func WithState(s State) Option {
	return func(p *Protocol) {
		p.state = s
	}
}

// New creates a protocol handler moving blocks through t for svc.
func New(t Transport, svc *rescue.Service, opts ...Option) *Protocol {
	p := &Protocol{
		transport: t,
		service:   svc,
		state:     StateIdle,
		err:       ErrOk,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current DFU state.
func (p *Protocol) State() State {
	return p.state
}

// Status returns the current DFU status code.
func (p *Protocol) Status() Error {
	return p.err
}

// Interface returns the selected alternate setting.
func (p *Protocol) Interface() uint8 {
	return p.iface[0]
}

// Service returns the rescue service.
func (p *Protocol) Service() *rescue.Service {
	return p.service
}

// HandleEvent implements [device.Handler].
func (p *Protocol) HandleEvent(ep int, ev device.Event) {
	switch ev.Kind {
	case device.EventSetup:
		p.handleSetup(&ev.Setup)
	case device.EventDone:
		p.handleDone(ev.Length)
	case device.EventReset:
		p.handleReset()
	}
}

func (p *Protocol) handleSetup(setup *device.SetupPacket) {
	var err error
	switch {
	case setup.IsClass():
		err = p.handleClass(setup)
	case setup.IsVendor():
		err = p.handleVendor(setup)
	case setup.IsInterfaceRecipient() &&
		(setup.Request == device.RequestSetInterface || setup.Request == device.RequestGetInterface):
		err = p.handleInterface(setup)
	default:
		err = p.transport.SetupData(setup)
	}
	if err != nil {
		pkg.LogWarn(pkg.ComponentDFU, "request rejected",
			"setup", setup.String(),
			"state", p.state.String(),
			"error", err)
	}
	p.transport.Result(err)
}

// handleClass runs a DFU class request through the state table.
func (p *Protocol) handleClass(setup *device.SetupPacket) error {
	if setup.Request > uint8(RequestAbort) {
		p.state = StateError
		p.err = ErrUnknown
		return fmt.Errorf("dfu request %#x: %w", setup.Request, pkg.ErrBadSetup)
	}
	req := Request(setup.Request)
	prev := p.state
	tr := Lookup(req, prev)

	pkg.LogDebug(pkg.ComponentDFU, "request",
		"request", req.String(),
		"state", prev.String(),
		"action", tr.Action.String())

	switch tr.Action {
	case ActionNone:
		p.state = tr.Next[0]
		p.transport.Data(nil, device.DirIn, 0)
	case ActionStall:
		p.state = tr.Next[0]
		if p.state == StateError {
			p.err = ErrUnknown
		}
		return fmt.Errorf("dfu %s in %s: %w", req, prev, pkg.ErrBadSetup)
	case ActionCheckLen:
		return p.checkLen(req, setup, tr)
	case ActionStatusResponse:
		p.state = tr.Next[0]
		p.status = [StatusSize]byte{byte(p.err), PollTimeout, 0, 0, byte(p.state), 0}
		p.transport.Data(p.status[:], device.DirIn, 0)
	case ActionStateResponse:
		p.state = tr.Next[0]
		p.stateBuf[0] = byte(p.state)
		p.transport.Data(p.stateBuf[:], device.DirIn, 0)
	case ActionClearError:
		p.state = tr.Next[0]
		p.err = ErrOk
		p.transport.Data(nil, device.DirIn, 0)
	default:
		return fmt.Errorf("dfu %s: unexpected action %s: %w", req, tr.Action, pkg.ErrBadSetup)
	}
	return nil
}

// checkLen moves a DnLoad block into the staging buffer, or an UpLoad
// block out of it.
func (p *Protocol) checkLen(req Request, setup *device.SetupPacket, tr Transition) error {
	length := int(setup.Length)
	if length == 0 {
		p.state = tr.Next[0]
	} else {
		p.state = tr.Next[1]
	}
	if length > TransferSize {
		return fmt.Errorf("dfu %s of %d bytes: %w", req, length, pkg.ErrBadSetup)
	}

	st := &p.service.State
	switch req {
	case RequestDnLoad:
		if length == 0 {
			p.transport.Data(nil, device.DirIn, 0)
		} else {
			p.transport.Data(st.Data[:length], device.DirOut, 0)
		}
	case RequestUpLoad:
		n := min(st.StagedLen, length)
		var flags device.TransferFlags
		if n < length && n%MaxPacketSize == 0 {
			flags |= device.FlagShortIn
		}
		p.transport.Data(st.Data[:n], device.DirIn, flags)
	default:
		return fmt.Errorf("dfu %s has no data stage: %w", req, pkg.ErrBadSetup)
	}
	return nil
}

// handleVendor answers the vendor SetInterface, which selects a rescue
// mode by the FourCC packed into wValue and wIndex.
func (p *Protocol) handleVendor(setup *device.SetupPacket) error {
	if setup.Request != device.RequestSetInterface {
		return pkg.ErrBadSetup
	}
	mode := uint32(setup.Value)<<16 | uint32(setup.Index)
	if err := p.service.SelectMode(mode); err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrBadSetup, err)
	}
	p.transport.Data(nil, device.DirIn, 0)
	return nil
}

// handleInterface uses the interface alternate setting to select the
// rescue target.
func (p *Protocol) handleInterface(setup *device.SetupPacket) error {
	switch setup.Request {
	case device.RequestSetInterface:
		if err := p.service.SelectMode(uint32(setup.Value)); err != nil {
			return fmt.Errorf("%w: %w", pkg.ErrBadSetup, err)
		}
		p.iface[0] = uint8(setup.Value)
		p.transport.Data(nil, device.DirIn, 0)
	case device.RequestGetInterface:
		p.transport.Data(p.iface[:], device.DirIn, 0)
	}
	return nil
}

func (p *Protocol) handleDone(length int) {
	if p.control != nil {
		p.control.HandleDone()
	}

	st := &p.service.State
	switch p.state {
	case StateDnLoadSync:
		for i := length; i < len(st.Data); i++ {
			st.Data[i] = 0xFF
		}
		st.Offset = uint32(len(st.Data))
		err := p.service.Recv()
		switch {
		case err == nil:
			p.err = ErrOk
		case errors.Is(err, pkg.ErrRescueReboot):
			p.err = ErrVendor
			p.resetChip()
		default:
			p.err = ErrVendor
		}
		p.state = StateDnLoadIdle
		pkg.LogDebug(pkg.ComponentDFU, "block received",
			"length", length,
			"status", p.err.String())
	case StateUpLoadIdle:
		if length < TransferSize {
			p.state = StateIdle
		}
		st.StagedLen = 0
	}
}

func (p *Protocol) handleReset() {
	tr := Lookup(RequestBusReset, p.state)
	if tr.Action == ActionReset && p.enumerated() {
		pkg.LogInfo(pkg.ComponentDFU, "bus reset during transfer", "state", p.state.String())
		p.resetChip()
		return
	}
	p.state = tr.Next[0]
	p.iface[0] = 0
	if err := p.service.SelectMode(0); err != nil {
		pkg.LogDebug(pkg.ComponentDFU, "default mode unavailable", "error", err)
	}
	if p.control != nil {
		p.control.Reset()
	}
}

// enumerated reports whether the host addressed and configured the device.
func (p *Protocol) enumerated() bool {
	return p.control != nil && p.control.Address() != 0 && p.control.Configuration() != 0
}

func (p *Protocol) resetChip() {
	pkg.LogInfo(pkg.ComponentDFU, "chip reset requested")
	if p.resetter != nil {
		p.resetter.ResetChip()
	}
}
