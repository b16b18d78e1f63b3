package rescue

import (
	"errors"
	"testing"

	"github.com/ardnew/softrescue/pkg"
)

func TestState_Enter(t *testing.T) {
	st := State{Mode: ModeBootLog, Frame: 9, Offset: 100, FlashOffset: 4096, StagedLen: 12}
	st.Enter(ModeFirmware)
	if st.Mode != ModeFirmware || st.Frame != 1 || st.Offset != 0 || st.FlashOffset != 0 {
		t.Errorf("Enter() = %+v, want fresh firmware session", st)
	}
	if st.StagedLen != 12 {
		t.Errorf("Enter() StagedLen = %d, want unchanged 12", st.StagedLen)
	}
}

func TestOwnershipState(t *testing.T) {
	tests := []struct {
		in       string
		want     OwnershipState
		unlocked bool
	}{
		{"LockedOwner", OwnershipLockedOwner, false},
		{"OWND", OwnershipLockedOwner, false},
		{"LockedUpdate", OwnershipLockedUpdate, false},
		{"UANY", OwnershipUnlockedAny, true},
		{"UnlockedEndorsed", OwnershipUnlockedEndorsed, true},
		{"USLF", OwnershipUnlockedSelf, true},
		{"LockedNone", OwnershipLockedNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseOwnershipState(tt.in)
			if !ok {
				t.Fatalf("ParseOwnershipState(%q) failed", tt.in)
			}
			if got != tt.want {
				t.Errorf("ParseOwnershipState() = %s, want %s", got, tt.want)
			}
			if got.Unlocked() != tt.unlocked {
				t.Errorf("Unlocked() = %v, want %v", got.Unlocked(), tt.unlocked)
			}
		})
	}

	if _, ok := ParseOwnershipState("XXXX"); ok {
		t.Error("ParseOwnershipState(XXXX) succeeded")
	}
}

func TestBootLog_RoundTrip(t *testing.T) {
	in := BootLog{
		ROMExtSlot:            SlotA,
		BL0Slot:               SlotB,
		OwnershipState:        OwnershipLockedOwner,
		PrimaryBL0Slot:        SlotA,
		ROMExtMajor:           0,
		ROMExtMinor:           5,
		ROMExtSize:            0x10000,
		ROMExtNonce:           0x0123456789abcdef,
		MinSecurityVersionBL0: 3,
	}
	var buf [BootLogSize]byte
	if n := in.MarshalTo(buf[:]); n != BootLogSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, BootLogSize)
	}
	if string(buf[0:4]) != "GOLB" {
		t.Errorf("identifier = %q, want %q", buf[0:4], "GOLB")
	}

	var out BootLog
	if err := ParseBootLog(buf[:], &out); err != nil {
		t.Fatalf("ParseBootLog() error = %v", err)
	}
	if out != in {
		t.Errorf("ParseBootLog() = %+v, want %+v", out, in)
	}

	if n := in.MarshalTo(buf[:10]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
	if err := ParseBootLog(buf[:10], &out); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("ParseBootLog(short) error = %v, want %v", err, pkg.ErrBufferTooSmall)
	}
	buf[0] = 0
	if err := ParseBootLog(buf[:], &out); !errors.Is(err, pkg.ErrBootLogInvalidTag) {
		t.Errorf("ParseBootLog(bad tag) error = %v, want %v", err, pkg.ErrBootLogInvalidTag)
	}
}

func TestLayout_Validate(t *testing.T) {
	good := Layout{SlotA: 0x10000, SlotB: 0x90000, SlotSize: 0x80000, OwnerPage0: 0x0, OwnerPage1: 0x800}

	tests := []struct {
		name    string
		modify  func(*Layout)
		wantErr bool
	}{
		{"valid", func(*Layout) {}, false},
		{"zero slot", func(l *Layout) { l.SlotSize = 0 }, true},
		{"unaligned slot size", func(l *Layout) { l.SlotSize = 0x801 }, true},
		{"unaligned slot", func(l *Layout) { l.SlotB = 0x90004 }, true},
		{"slots overlap", func(l *Layout) { l.SlotB = 0x88000 }, true},
		{"owner page in slot", func(l *Layout) { l.OwnerPage1 = 0x10800 }, true},
		{"owner pages overlap", func(l *Layout) { l.OwnerPage1 = l.OwnerPage0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := good
			tt.modify(&l)
			err := l.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
