package dfu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/softrescue/device"
	"github.com/ardnew/softrescue/pkg"
	"github.com/ardnew/softrescue/rescue"
	"github.com/ardnew/softrescue/rescue/flash"
)

type dataCall struct {
	data  []byte
	dir   device.Direction
	flags device.TransferFlags
}

// fakeTransport records what the protocol asks of its transport.
type fakeTransport struct {
	data     []dataCall
	setups   []device.SetupPacket
	results  []error
	setupErr error
}

func (f *fakeTransport) Data(data []byte, dir device.Direction, flags device.TransferFlags) {
	f.data = append(f.data, dataCall{data: data, dir: dir, flags: flags})
}

func (f *fakeTransport) SetupData(setup *device.SetupPacket) error {
	f.setups = append(f.setups, *setup)
	return f.setupErr
}

func (f *fakeTransport) Result(err error) {
	f.results = append(f.results, err)
}

func (f *fakeTransport) last(t *testing.T) dataCall {
	t.Helper()
	if len(f.data) == 0 {
		t.Fatal("no data stage started")
	}
	return f.data[len(f.data)-1]
}

func (f *fakeTransport) lastResult(t *testing.T) error {
	t.Helper()
	if len(f.results) == 0 {
		t.Fatal("no result reported")
	}
	return f.results[len(f.results)-1]
}

type countingResetter int

func (c *countingResetter) ResetChip() { *c++ }

func newTestProtocol(t *testing.T, ownership rescue.OwnershipState, opts ...Option) (*Protocol, *fakeTransport) {
	t.Helper()
	mem := flash.NewMemory(0, 0x18000, flash.PageSize)
	svc := rescue.NewService(rescue.Config{
		Flash: mem,
		Layout: rescue.Layout{
			SlotA:      0x10000,
			SlotB:      0x14000,
			SlotSize:   0x4000,
			OwnerPage0: 0x0,
			OwnerPage1: 0x800,
		},
		DeviceID: [8]uint32{1, 2, 3, 4, 5, 6, 7, 8},
	}, &rescue.BootData{OwnershipState: ownership})
	ft := &fakeTransport{}
	return New(ft, svc, opts...), ft
}

func classSetup(req Request, length uint16) device.SetupPacket {
	dir := uint8(device.RequestDirectionHostToDevice)
	switch req {
	case RequestUpLoad, RequestGetStatus, RequestGetState:
		dir = device.RequestDirectionDeviceToHost
	}
	return device.NewSetup(dir|device.RequestTypeClass|device.RequestRecipientInterface,
		uint8(req), 0, 1, length)
}

func vendorSetInterface(mode rescue.Mode) device.SetupPacket {
	return device.NewSetup(device.RequestDirectionHostToDevice|device.RequestTypeVendor|device.RequestRecipientInterface,
		device.RequestSetInterface, uint16(mode>>16), uint16(mode), 0)
}

func setup(p *Protocol, s device.SetupPacket) {
	p.HandleEvent(0, device.Event{Kind: device.EventSetup, Setup: s})
}

func done(p *Protocol, n int, dir device.Direction) {
	p.HandleEvent(0, device.Event{Kind: device.EventDone, Length: n, Direction: dir})
}

func TestProtocol_VendorSetInterface(t *testing.T) {
	p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny)

	setup(p, device.NewSetup(device.RequestTypeVendor|device.RequestRecipientInterface,
		device.RequestSetInterface, 0x5253, 0x4355, 0))

	if err := ft.lastResult(t); err != nil {
		t.Fatalf("Result() = %v, want nil", err)
	}
	if c := ft.last(t); len(c.data) != 0 || c.dir != device.DirIn {
		t.Errorf("data stage = %d bytes %s, want zero-length IN", len(c.data), c.dir)
	}
	if got := p.Service().State.Mode; got != rescue.ModeFirmware {
		t.Errorf("mode = %s, want RSCU", got)
	}
	if p.State() != StateIdle {
		t.Errorf("State() = %s, want %s", p.State(), StateIdle)
	}
}

func TestProtocol_VendorSetInterfaceUnknown(t *testing.T) {
	p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny)

	setup(p, vendorSetInterface(rescue.Mode(0x41424344)))

	err := ft.lastResult(t)
	if !errors.Is(err, pkg.ErrBadSetup) || !errors.Is(err, pkg.ErrBadMode) {
		t.Errorf("Result() = %v, want bad setup wrapping bad mode", err)
	}
	if len(ft.data) != 0 {
		t.Errorf("started %d data stages for a rejected request", len(ft.data))
	}
}

func TestProtocol_VendorOtherRequest(t *testing.T) {
	p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny)

	setup(p, device.NewSetup(device.RequestTypeVendor|device.RequestRecipientDevice, 0x01, 0, 0, 0))

	if err := ft.lastResult(t); !errors.Is(err, pkg.ErrBadSetup) {
		t.Errorf("Result() = %v, want %v", err, pkg.ErrBadSetup)
	}
}

func TestProtocol_ZeroLengthDnLoadManifests(t *testing.T) {
	p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny, WithState(StateDnLoadIdle))

	setup(p, classSetup(RequestDnLoad, 0))

	if p.State() != StateManifestSync {
		t.Errorf("State() = %s, want %s", p.State(), StateManifestSync)
	}
	if c := ft.last(t); len(c.data) != 0 || c.dir != device.DirIn {
		t.Errorf("data stage = %d bytes %s, want zero-length IN", len(c.data), c.dir)
	}
	if p.Service().State.Frame != 1 {
		t.Errorf("Frame = %d, want 1 (nothing committed)", p.Service().State.Frame)
	}

	// Status completion of the acknowledgement must not commit anything.
	done(p, 0, device.DirOut)
	if p.State() != StateManifestSync {
		t.Errorf("State() after done = %s, want %s", p.State(), StateManifestSync)
	}

	setup(p, classSetup(RequestGetStatus, StatusSize))
	if p.State() != StateManifest {
		t.Errorf("State() after GetStatus = %s, want %s", p.State(), StateManifest)
	}
}

func TestProtocol_ResetUnaddressed(t *testing.T) {
	var resets countingResetter
	p, _ := newTestProtocol(t, rescue.OwnershipUnlockedAny,
		WithState(StateManifest), WithResetter(&resets))
	if err := p.Service().SelectMode(uint32(rescue.ModeBootLog)); err != nil {
		t.Fatal(err)
	}

	p.HandleEvent(0, device.Event{Kind: device.EventReset})

	if resets != 0 {
		t.Errorf("chip resets = %d, want 0", resets)
	}
	if p.State() != StateIdle {
		t.Errorf("State() = %s, want %s", p.State(), StateIdle)
	}
	if got := p.Service().State.Mode; got != rescue.ModeFirmware {
		t.Errorf("mode = %s, want RSCU", got)
	}
	if p.Interface() != 0 {
		t.Errorf("Interface() = %d, want 0", p.Interface())
	}
}

func TestProtocol_ResetInAppDetach(t *testing.T) {
	p, _ := newTestProtocol(t, rescue.OwnershipUnlockedAny, WithState(StateAppDetach))

	p.HandleEvent(0, device.Event{Kind: device.EventReset})

	if p.State() != StateAppIdle {
		t.Errorf("State() = %s, want %s", p.State(), StateAppIdle)
	}
}

func TestProtocol_UpLoadShortTerminator(t *testing.T) {
	tests := []struct {
		name      string
		staged    int
		length    uint16
		wantLen   int
		wantShort bool
	}{
		{"fewer than requested", 50, 100, 50, false},
		{"packet multiple", 64, 100, 64, true},
		{"nothing staged", 0, 10, 0, true},
		{"exact", 128, 128, 128, false},
		{"more than requested", 2048, 100, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny)
			p.Service().State.StagedLen = tt.staged

			setup(p, classSetup(RequestUpLoad, tt.length))

			if err := ft.lastResult(t); err != nil {
				t.Fatalf("Result() = %v, want nil", err)
			}
			c := ft.last(t)
			if len(c.data) != tt.wantLen {
				t.Errorf("sent %d bytes, want %d", len(c.data), tt.wantLen)
			}
			if got := c.flags&device.FlagShortIn != 0; got != tt.wantShort {
				t.Errorf("short flag = %v, want %v", got, tt.wantShort)
			}
			if p.State() != StateUpLoadIdle {
				t.Errorf("State() = %s, want %s", p.State(), StateUpLoadIdle)
			}
		})
	}
}

func TestProtocol_UpLoadDone(t *testing.T) {
	p, _ := newTestProtocol(t, rescue.OwnershipUnlockedAny, WithState(StateUpLoadIdle))

	p.Service().State.StagedLen = TransferSize
	done(p, TransferSize, device.DirIn)
	if p.State() != StateUpLoadIdle {
		t.Errorf("State() after full block = %s, want %s", p.State(), StateUpLoadIdle)
	}
	if p.Service().State.StagedLen != 0 {
		t.Errorf("StagedLen = %d, want 0", p.Service().State.StagedLen)
	}

	done(p, 100, device.DirIn)
	if p.State() != StateIdle {
		t.Errorf("State() after short block = %s, want %s", p.State(), StateIdle)
	}
}

func TestProtocol_StatusQueriesAreSideEffectFree(t *testing.T) {
	for state := State(0); state < numStates; state++ {
		for _, req := range []Request{RequestGetStatus, RequestGetState} {
			tr := Lookup(req, state)
			if tr.Action == ActionStall {
				continue
			}
			t.Run(req.String()+"/"+state.String(), func(t *testing.T) {
				p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny, WithState(state))
				p.err = ErrVendor
				st := &p.Service().State
				st.StagedLen = 33
				st.Data[0] = 0xA5
				before := st.Data

				length := uint16(StatusSize)
				if req == RequestGetState {
					length = 1
				}
				setup(p, classSetup(req, length))

				if p.Status() != ErrVendor {
					t.Errorf("Status() = %s, want %s", p.Status(), ErrVendor)
				}
				if p.State() != tr.Next[0] {
					t.Errorf("State() = %s, want %s", p.State(), tr.Next[0])
				}
				if st.StagedLen != 33 || st.Data != before {
					t.Error("staging buffer changed")
				}

				c := ft.last(t)
				switch req {
				case RequestGetStatus:
					want := []byte{byte(ErrVendor), PollTimeout, 0, 0, byte(tr.Next[0]), 0}
					if !bytes.Equal(c.data, want) {
						t.Errorf("status = %v, want %v", c.data, want)
					}
				case RequestGetState:
					if len(c.data) != 1 || c.data[0] != byte(tr.Next[0]) {
						t.Errorf("state = %v, want [%d]", c.data, tr.Next[0])
					}
				}
			})
		}
	}
}

func TestProtocol_StallEntersError(t *testing.T) {
	p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny)

	setup(p, classSetup(RequestDetach, 0))
	if err := ft.lastResult(t); !errors.Is(err, pkg.ErrBadSetup) {
		t.Errorf("Result() = %v, want %v", err, pkg.ErrBadSetup)
	}
	if p.State() != StateError || p.Status() != ErrUnknown {
		t.Errorf("after stall: %s/%s, want %s/%s", p.State(), p.Status(), StateError, ErrUnknown)
	}

	setup(p, classSetup(RequestClrStatus, 0))
	if err := ft.lastResult(t); err != nil {
		t.Errorf("ClrStatus Result() = %v, want nil", err)
	}
	if p.State() != StateIdle || p.Status() != ErrOk {
		t.Errorf("after ClrStatus: %s/%s, want %s/%s", p.State(), p.Status(), StateIdle, ErrOk)
	}
}

func TestProtocol_StallKeepsStatusOutsideError(t *testing.T) {
	p, _ := newTestProtocol(t, rescue.OwnershipUnlockedAny, WithState(StateAppIdle))

	setup(p, classSetup(RequestAbort, 0))

	if p.State() != StateAppIdle || p.Status() != ErrOk {
		t.Errorf("after stall: %s/%s, want %s/%s", p.State(), p.Status(), StateAppIdle, ErrOk)
	}
}

func TestProtocol_UnknownClassRequest(t *testing.T) {
	p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny)

	setup(p, classSetup(Request(7), 0))

	if err := ft.lastResult(t); !errors.Is(err, pkg.ErrBadSetup) {
		t.Errorf("Result() = %v, want %v", err, pkg.ErrBadSetup)
	}
	if p.State() != StateError || p.Status() != ErrUnknown {
		t.Errorf("after unknown request: %s/%s, want %s/%s", p.State(), p.Status(), StateError, ErrUnknown)
	}
}

func TestProtocol_DnLoadCommit(t *testing.T) {
	p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny)
	setup(p, vendorSetInterface(rescue.ModeBootSvcReq))

	setup(p, classSetup(RequestDnLoad, 100))
	if p.State() != StateDnLoadSync {
		t.Fatalf("State() = %s, want %s", p.State(), StateDnLoadSync)
	}
	c := ft.last(t)
	if len(c.data) != 100 || c.dir != device.DirOut {
		t.Fatalf("data stage = %d bytes %s, want 100 OUT", len(c.data), c.dir)
	}
	for i := range c.data {
		c.data[i] = byte(i)
	}
	done(p, 100, device.DirOut)

	if p.State() != StateDnLoadIdle || p.Status() != ErrOk {
		t.Errorf("after commit: %s/%s, want %s/%s", p.State(), p.Status(), StateDnLoadIdle, ErrOk)
	}
	mb := p.Service().Mailbox()
	for i := 0; i < 100; i++ {
		if mb[i] != byte(i) {
			t.Fatalf("mailbox[%d] = %#x, want %#x", i, mb[i], byte(i))
		}
	}
	for i := 100; i < len(mb); i++ {
		if mb[i] != 0xFF {
			t.Fatalf("mailbox[%d] = %#x, want 0xff padding", i, mb[i])
		}
	}
	if p.Service().State.Offset != TransferSize {
		t.Errorf("Offset = %d, want %d", p.Service().State.Offset, TransferSize)
	}
}

func TestProtocol_DnLoadCommitRejected(t *testing.T) {
	p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny)
	setup(p, vendorSetInterface(rescue.ModeBootLog))

	setup(p, classSetup(RequestDnLoad, 16))
	done(p, 16, device.DirOut)

	if p.State() != StateDnLoadIdle || p.Status() != ErrVendor {
		t.Errorf("after commit: %s/%s, want %s/%s", p.State(), p.Status(), StateDnLoadIdle, ErrVendor)
	}

	setup(p, classSetup(RequestGetStatus, StatusSize))
	if got := ft.last(t).data[0]; got != byte(ErrVendor) {
		t.Errorf("bStatus = %d, want %d", got, ErrVendor)
	}
}

func TestProtocol_DnLoadTooLong(t *testing.T) {
	p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny)

	setup(p, classSetup(RequestDnLoad, TransferSize+1))

	if err := ft.lastResult(t); !errors.Is(err, pkg.ErrBadSetup) {
		t.Errorf("Result() = %v, want %v", err, pkg.ErrBadSetup)
	}
	if len(ft.data) != 0 {
		t.Errorf("started %d data stages for an oversize block", len(ft.data))
	}
}

func TestProtocol_RebootCommit(t *testing.T) {
	var resets countingResetter
	p, _ := newTestProtocol(t, rescue.OwnershipUnlockedAny, WithResetter(&resets))
	setup(p, vendorSetInterface(rescue.ModeReboot))

	setup(p, classSetup(RequestDnLoad, 4))
	done(p, 4, device.DirOut)

	if resets != 1 {
		t.Errorf("chip resets = %d, want 1", resets)
	}
}

func TestProtocol_InterfaceRequests(t *testing.T) {
	p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny)

	setup(p, device.SetInterfaceSetup(1, 3))
	if err := ft.lastResult(t); err != nil {
		t.Fatalf("SetInterface Result() = %v, want nil", err)
	}
	if p.Interface() != 3 {
		t.Errorf("Interface() = %d, want 3", p.Interface())
	}
	st := &p.Service().State
	if st.Mode != rescue.ModeBootLog || st.StagedLen != rescue.BootLogSize {
		t.Errorf("after SetInterface: mode %s staged %d, want BLOG staged %d",
			st.Mode, st.StagedLen, rescue.BootLogSize)
	}

	setup(p, device.GetInterfaceSetup(1))
	if c := ft.last(t); !bytes.Equal(c.data, []byte{3}) {
		t.Errorf("GetInterface = %v, want [3]", c.data)
	}

	setup(p, device.SetInterfaceSetup(1, 9))
	if err := ft.lastResult(t); !errors.Is(err, pkg.ErrBadSetup) {
		t.Errorf("SetInterface(9) Result() = %v, want %v", err, pkg.ErrBadSetup)
	}
	if p.Interface() != 3 {
		t.Errorf("Interface() after rejection = %d, want 3", p.Interface())
	}
}

func TestProtocol_StandardRequestsPassThrough(t *testing.T) {
	p, ft := newTestProtocol(t, rescue.OwnershipUnlockedAny)
	ft.setupErr = pkg.ErrBadSetup

	s := device.GetDescriptorSetup(device.DescriptorTypeDevice, 0, 18)
	setup(p, s)

	if len(ft.setups) != 1 || ft.setups[0] != s {
		t.Fatalf("SetupData calls = %v, want [%v]", ft.setups, s)
	}
	if err := ft.lastResult(t); !errors.Is(err, pkg.ErrBadSetup) {
		t.Errorf("Result() = %v, want %v", err, pkg.ErrBadSetup)
	}
}
