package rescue

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardnew/softrescue/pkg"
	"github.com/ardnew/softrescue/rescue/flash"
)

// Resetter resets the whole chip.
type Resetter interface {
	ResetChip()
}

// ResetterFunc adapts an ordinary function to the [Resetter] interface.
type ResetterFunc func()

// ResetChip calls f().
func (f ResetterFunc) ResetChip() {
	f()
}

// Layout places the rescue targets in flash. Every address must be
// page-aligned.
type Layout struct {
	SlotA      uint32
	SlotB      uint32
	SlotSize   uint32
	OwnerPage0 uint32
	OwnerPage1 uint32
}

// Validate checks alignment and that no two regions overlap.
func (l Layout) Validate() error {
	type region struct {
		name        string
		start, size uint32
	}
	regions := []region{
		{"slot A", l.SlotA, l.SlotSize},
		{"slot B", l.SlotB, l.SlotSize},
		{"owner page 0", l.OwnerPage0, flash.PageSize},
		{"owner page 1", l.OwnerPage1, flash.PageSize},
	}
	if l.SlotSize == 0 || l.SlotSize%flash.PageSize != 0 {
		return fmt.Errorf("slot size %#x is not a non-zero multiple of %d", l.SlotSize, flash.PageSize)
	}
	for i, a := range regions {
		if a.start%flash.PageSize != 0 {
			return fmt.Errorf("%s at %#08x is not page-aligned", a.name, a.start)
		}
		for _, b := range regions[i+1:] {
			if uint64(a.start) < uint64(b.start)+uint64(b.size) &&
				uint64(b.start) < uint64(a.start)+uint64(a.size) {
				return fmt.Errorf("%s overlaps %s", a.name, b.name)
			}
		}
	}
	return nil
}

// Config configures a [Service].
type Config struct {
	Flash     flash.Controller
	Layout    Layout
	DeviceID  [8]uint32
	BootLog   BootLog
	Validator ModeValidator     // Defaults to an empty Policy
	Verifier  SignatureVerifier // Defaults to ECDSAVerifier
}

// Service moves rescue blocks between the staging buffer and the rescue
// targets. It is transport-agnostic and not safe for concurrent use.
type Service struct {
	State    State
	BootData *BootData

	cfg     Config
	mailbox [BlockSize]byte
	page    [flash.PageSize]byte
}

// NewService creates a service over bd. The session starts in firmware
// slot A mode when the validator allows it.
func NewService(cfg Config, bd *BootData) *Service {
	if cfg.Validator == nil {
		cfg.Validator = &Policy{}
	}
	if cfg.Verifier == nil {
		cfg.Verifier = ECDSAVerifier{}
	}
	s := &Service{BootData: bd, cfg: cfg}
	for i := range s.mailbox {
		s.mailbox[i] = 0xFF
	}
	_ = s.cfg.Validator.ValidateMode(ModeFirmware, &s.State, s.BootData)
	return s
}

// Mailbox returns the boot services message buffer.
func (s *Service) Mailbox() []byte {
	return s.mailbox[:]
}

// DeviceID returns the device identifier words.
func (s *Service) DeviceID() [8]uint32 {
	return s.cfg.DeviceID
}

// Staged returns the data staged for upload.
func (s *Service) Staged() []byte {
	return s.State.Data[:s.State.StagedLen]
}

// SelectMode switches the session to the target named by setting, which
// is either an alternate-setting index or a FourCC code. Upload targets
// are staged immediately. A setting that pairs an upload target with a
// download target succeeds when either half is permitted; the disallowed
// half then fails on use.
func (s *Service) SelectMode(setting uint32) error {
	alt, ok := ResolveSetting(setting)
	if !ok {
		pkg.LogWarn(pkg.ComponentRescue, "unknown mode", "setting", fmt.Sprintf("%#x", setting))
		return fmt.Errorf("setting %#x: %w", setting, pkg.ErrBadMode)
	}
	s.State.StagedLen = 0

	err := s.cfg.Validator.ValidateMode(alt.Mode, &s.State, s.BootData)
	if err == nil && alt.Upload {
		err = s.Send()
	}
	recvErr := pkg.ErrBadMode
	if recv, ok := recvHalf(alt.Mode); ok {
		recvErr = s.cfg.Validator.ValidateMode(recv, &s.State, s.BootData)
	}
	if err != nil && recvErr != nil {
		pkg.LogWarn(pkg.ComponentRescue, "mode rejected", "mode", alt.Mode.String(), "error", err)
		return fmt.Errorf("mode %s: %w: %w", alt.Mode, pkg.ErrBadMode, err)
	}
	pkg.LogInfo(pkg.ComponentRescue, "mode selected",
		"mode", s.State.Mode.String(),
		"staged", s.State.StagedLen)
	return nil
}

// Send stages the data of the current upload target into the staging
// buffer. Download targets stage nothing.
func (s *Service) Send() error {
	st := &s.State
	switch st.Mode {
	case ModeOpenTitanID:
		for i, w := range s.cfg.DeviceID {
			binary.LittleEndian.PutUint32(st.Data[i*4:], w)
		}
		st.StagedLen = len(s.cfg.DeviceID) * 4
	case ModeBootLog:
		st.StagedLen = s.cfg.BootLog.MarshalTo(st.Data[:])
	case ModeBootSvcRsp:
		st.StagedLen = copy(st.Data[:], s.mailbox[:])
	case ModeOwnerPage0, ModeOwnerPage1:
		addr := s.cfg.Layout.OwnerPage0
		if st.Mode == ModeOwnerPage1 {
			addr = s.cfg.Layout.OwnerPage1
		}
		if err := s.cfg.Flash.Read(addr, st.Data[:]); err != nil {
			return fmt.Errorf("read %s: %w", st.Mode, err)
		}
		st.StagedLen = len(st.Data)
	case ModeReboot:
		return pkg.ErrRescueReboot
	}
	return nil
}

// Recv commits the full staging buffer to the current download target.
func (s *Service) Recv() error {
	st := &s.State
	var err error
	switch st.Mode {
	case ModeFirmware:
		err = s.programFirmware(s.cfg.Layout.SlotA)
	case ModeFirmwareSlotB:
		err = s.programFirmware(s.cfg.Layout.SlotB)
	case ModeBootSvcReq:
		copy(s.mailbox[:], st.Data[:])
	case ModeOwnerBlock:
		err = s.acceptOwnerBlock()
	case ModeReboot:
		return pkg.ErrRescueReboot
	default:
		err = fmt.Errorf("mode %s cannot receive: %w", st.Mode, pkg.ErrBadMode)
	}
	if err != nil {
		if errors.Is(err, pkg.ErrFlashRange) {
			pkg.LogError(pkg.ComponentRescue, "commit failed", "mode", st.Mode.String(), "error", err)
		} else {
			pkg.LogWarn(pkg.ComponentRescue, "block rejected", "mode", st.Mode.String(), "error", err)
		}
		return err
	}
	st.Frame++
	pkg.LogDebug(pkg.ComponentRescue, "block committed",
		"mode", st.Mode.String(),
		"frame", st.Frame)
	return nil
}

func (s *Service) programFirmware(base uint32) error {
	st := &s.State
	if st.FlashOffset+BlockSize > s.cfg.Layout.SlotSize {
		return fmt.Errorf("offset %#x: %w", st.FlashOffset, pkg.ErrImageTooBig)
	}
	if err := s.writePage(base+st.FlashOffset, st.Data[:]); err != nil {
		return err
	}
	st.FlashOffset += BlockSize
	return nil
}

func (s *Service) writePage(addr uint32, data []byte) error {
	if err := s.cfg.Flash.Erase(addr); err != nil {
		return fmt.Errorf("erase %#08x: %w", addr, err)
	}
	if err := s.cfg.Flash.Program(addr, data); err != nil {
		return fmt.Errorf("program %#08x: %w", addr, err)
	}
	return nil
}

// acceptOwnerBlock validates the staged owner block against the ownership
// state and programs it into owner page 1.
func (s *Service) acceptOwnerBlock() error {
	var blk OwnerBlock
	if err := ParseOwnerBlock(s.State.Data[:], &blk); err != nil {
		return err
	}
	switch s.BootData.OwnershipState {
	case OwnershipUnlockedAny:
	case OwnershipUnlockedEndorsed:
		if blk.OwnerKey.Digest() != s.BootData.NextOwner {
			return pkg.ErrOwnershipUnknownKey
		}
	case OwnershipUnlockedSelf, OwnershipLockedUpdate:
		current, err := s.currentOwnerKey()
		if err != nil {
			return err
		}
		if current != blk.OwnerKey {
			return pkg.ErrOwnershipUnknownKey
		}
	default:
		return fmt.Errorf("owner block in %s: %w", s.BootData.OwnershipState, pkg.ErrOwnershipInvalidState)
	}
	if !s.cfg.Verifier.Verify(blk.OwnerKey, blk.Signature[:], blk.Message) {
		return pkg.ErrOwnershipInvalidSignature
	}
	if err := s.writePage(s.cfg.Layout.OwnerPage1, s.State.Data[:]); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentRescue, "owner block accepted", "state", s.BootData.OwnershipState.String())
	return nil
}

func (s *Service) currentOwnerKey() (OwnerKey, error) {
	if err := s.cfg.Flash.Read(s.cfg.Layout.OwnerPage0, s.page[:]); err != nil {
		return OwnerKey{}, fmt.Errorf("read owner page 0: %w", err)
	}
	var blk OwnerBlock
	if err := ParseOwnerBlock(s.page[:], &blk); err != nil {
		return OwnerKey{}, fmt.Errorf("owner page 0: %w", err)
	}
	return blk.OwnerKey, nil
}
