package rescue

import (
	"fmt"

	"github.com/ardnew/softrescue/pkg"
)

// Mode selects a rescue target. It is a FourCC code packed big-endian, so
// the most significant byte is the first character.
type Mode uint32

// Rescue modes.
const (
	ModeFirmware      Mode = 0x52534355 // RSCU: firmware slot A
	ModeFirmwareSlotB Mode = 0x52455342 // RESB: firmware slot B
	ModeOpenTitanID   Mode = 0x4f544944 // OTID: device identifier
	ModeBootLog       Mode = 0x424c4f47 // BLOG: boot log
	ModeBootSvcRsp    Mode = 0x42525350 // BRSP: boot service response
	ModeBootSvcReq    Mode = 0x42524551 // BREQ: boot service request
	ModeOwnerBlock    Mode = 0x4f574e52 // OWNR: owner block
	ModeOwnerPage0    Mode = 0x4f504730 // OPG0: owner page 0
	ModeOwnerPage1    Mode = 0x4f504731 // OPG1: owner page 1
	ModeReboot        Mode = 0x5245424f // REBO: reboot
)

// ParseMode converts a four-character code to a Mode.
func ParseMode(s string) (Mode, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("mode %q: %w", s, pkg.ErrBadMode)
	}
	m := Mode(uint32(s[0])<<24 | uint32(s[1])<<16 | uint32(s[2])<<8 | uint32(s[3]))
	if _, ok := modeInfo(m); !ok {
		return 0, fmt.Errorf("mode %q: %w", s, pkg.ErrBadMode)
	}
	return m, nil
}

// String returns the four-character code, or the hex value when the mode
// is not printable.
func (m Mode) String() string {
	b := [4]byte{byte(m >> 24), byte(m >> 16), byte(m >> 8), byte(m)}
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return fmt.Sprintf("Mode(%#08x)", uint32(m))
		}
	}
	return string(b[:])
}

// AltSetting describes a rescue target reachable by interface alternate
// setting or by FourCC.
type AltSetting struct {
	Mode     Mode
	Download bool // Host may write to the target
	Upload   bool // Host may read from the target
}

// AltSettings lists the targets in alternate-setting order. The order is
// part of the host contract.
var AltSettings = [...]AltSetting{
	{ModeFirmware, true, false},
	{ModeFirmwareSlotB, true, false},
	{ModeOpenTitanID, false, true},
	{ModeBootLog, false, true},
	{ModeBootSvcRsp, true, true},
	{ModeOwnerPage0, true, true},
}

// extraModes are selectable by FourCC only.
var extraModes = [...]AltSetting{
	{ModeBootSvcReq, true, false},
	{ModeOwnerBlock, true, false},
	{ModeOwnerPage1, false, true},
	{ModeReboot, true, false},
}

func modeInfo(m Mode) (AltSetting, bool) {
	for _, a := range AltSettings {
		if a.Mode == m {
			return a, true
		}
	}
	for _, a := range extraModes {
		if a.Mode == m {
			return a, true
		}
	}
	return AltSetting{}, false
}

// ResolveSetting interprets setting as an alternate-setting index when it
// is smaller than len(AltSettings), and as a FourCC code otherwise.
func ResolveSetting(setting uint32) (AltSetting, bool) {
	if setting < uint32(len(AltSettings)) {
		return AltSettings[setting], true
	}
	return modeInfo(Mode(setting))
}

// recvHalf returns the download target paired with an upload target that
// shares its alternate setting.
func recvHalf(m Mode) (Mode, bool) {
	switch m {
	case ModeBootSvcRsp:
		return ModeBootSvcReq, true
	case ModeOwnerPage0:
		return ModeOwnerBlock, true
	default:
		return 0, false
	}
}
