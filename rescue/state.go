package rescue

import (
	"encoding/binary"
	"fmt"
)

// BlockSize is the size of one rescue transfer block and of the staging
// buffer.
const BlockSize = 2048

// State is the progress of the current rescue session.
type State struct {
	Mode        Mode
	Frame       uint32
	Offset      uint32 // Bytes accumulated in Data for the current block
	FlashOffset uint32 // Bytes committed to the current flash target
	Data        [BlockSize]byte
	StagedLen   int // Bytes of Data staged for upload
}

// Enter switches the session to mode and rewinds its progress.
func (s *State) Enter(mode Mode) {
	s.Mode = mode
	s.Frame = 1
	s.Offset = 0
	s.FlashOffset = 0
}

// OwnershipState is the ownership state of the chip.
type OwnershipState uint32

// Ownership states. The values are ASCII tags read little-endian.
const (
	OwnershipLockedNone       OwnershipState = 0
	OwnershipLockedOwner      OwnershipState = 0x444e574f // OWND
	OwnershipLockedUpdate     OwnershipState = 0x54445055 // UPDT
	OwnershipUnlockedAny      OwnershipState = 0x594e4155 // UANY
	OwnershipUnlockedEndorsed OwnershipState = 0x444e4555 // UEND
	OwnershipUnlockedSelf     OwnershipState = 0x464c5355 // USLF
)

var ownershipNames = map[OwnershipState]string{
	OwnershipLockedNone:       "LockedNone",
	OwnershipLockedOwner:      "LockedOwner",
	OwnershipLockedUpdate:     "LockedUpdate",
	OwnershipUnlockedAny:      "UnlockedAny",
	OwnershipUnlockedEndorsed: "UnlockedEndorsed",
	OwnershipUnlockedSelf:     "UnlockedSelf",
}

// String returns the state name.
func (o OwnershipState) String() string {
	if name, ok := ownershipNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OwnershipState(%#08x)", uint32(o))
}

// ParseOwnershipState accepts a state name or its four-character tag.
func ParseOwnershipState(s string) (OwnershipState, bool) {
	for o, name := range ownershipNames {
		if s == name {
			return o, true
		}
	}
	if len(s) == 4 {
		o := OwnershipState(binary.LittleEndian.Uint32([]byte(s)))
		if _, ok := ownershipNames[o]; ok {
			return o, true
		}
	}
	return 0, false
}

// Unlocked reports whether the state accepts a new owner.
func (o OwnershipState) Unlocked() bool {
	switch o {
	case OwnershipUnlockedAny, OwnershipUnlockedEndorsed, OwnershipUnlockedSelf:
		return true
	default:
		return false
	}
}

// Boot slots.
const (
	SlotA uint32 = 0x5f5f4141 // AA__
	SlotB uint32 = 0x42425f5f // __BB
)

// BootData is the persistent boot policy record.
type BootData struct {
	OwnershipState        OwnershipState
	PrimaryBL0Slot        uint32
	NextOwner             [32]byte // SHA-256 of the endorsed next owner key
	MinSecurityVersionBL0 uint32
}
