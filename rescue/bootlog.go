package rescue

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softrescue/pkg"
)

// BootLog records what the boot chain did on the last boot. It is served
// to the host in boot log mode.
type BootLog struct {
	ROMExtSlot            uint32
	BL0Slot               uint32
	OwnershipState        OwnershipState
	PrimaryBL0Slot        uint32
	ROMExtMajor           uint32
	ROMExtMinor           uint32
	ROMExtSize            uint32
	ROMExtNonce           uint64
	MinSecurityVersionBL0 uint32
}

// BootLogSize is the size of a serialized boot log.
const BootLogSize = 48

// MarshalTo serializes the boot log to buf.
// Returns the number of bytes written (always 48 if buf is large enough).
func (l *BootLog) MarshalTo(buf []byte) int {
	if len(buf) < BootLogSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ModeBootLog))
	binary.LittleEndian.PutUint32(buf[4:8], l.ROMExtSlot)
	binary.LittleEndian.PutUint32(buf[8:12], l.BL0Slot)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(l.OwnershipState))
	binary.LittleEndian.PutUint32(buf[16:20], l.PrimaryBL0Slot)
	binary.LittleEndian.PutUint32(buf[20:24], l.ROMExtMajor)
	binary.LittleEndian.PutUint32(buf[24:28], l.ROMExtMinor)
	binary.LittleEndian.PutUint32(buf[28:32], l.ROMExtSize)
	binary.LittleEndian.PutUint64(buf[32:40], l.ROMExtNonce)
	binary.LittleEndian.PutUint32(buf[40:44], l.MinSecurityVersionBL0)
	clear(buf[44:BootLogSize])
	return BootLogSize
}

// ParseBootLog parses a serialized boot log into out.
func ParseBootLog(data []byte, out *BootLog) error {
	if len(data) < BootLogSize {
		return pkg.ErrBufferTooSmall
	}
	if Mode(binary.LittleEndian.Uint32(data[0:4])) != ModeBootLog {
		return fmt.Errorf("tag %s: %w", Mode(binary.LittleEndian.Uint32(data[0:4])), pkg.ErrBootLogInvalidTag)
	}
	out.ROMExtSlot = binary.LittleEndian.Uint32(data[4:8])
	out.BL0Slot = binary.LittleEndian.Uint32(data[8:12])
	out.OwnershipState = OwnershipState(binary.LittleEndian.Uint32(data[12:16]))
	out.PrimaryBL0Slot = binary.LittleEndian.Uint32(data[16:20])
	out.ROMExtMajor = binary.LittleEndian.Uint32(data[20:24])
	out.ROMExtMinor = binary.LittleEndian.Uint32(data[24:28])
	out.ROMExtSize = binary.LittleEndian.Uint32(data[28:32])
	out.ROMExtNonce = binary.LittleEndian.Uint64(data[32:40])
	out.MinSecurityVersionBL0 = binary.LittleEndian.Uint32(data[40:44])
	return nil
}
