// Package config loads the YAML description of a rescue device: its
// identity, the boot policy record, the rescue targets and the flash
// image backing them.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/softrescue/rescue"
	"github.com/ardnew/softrescue/rescue/flash"
)

// Config describes one rescue device.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	BootData BootDataConfig `yaml:"bootdata"`
	Rescue   RescueConfig   `yaml:"rescue"`
	Flash    FlashConfig    `yaml:"flash"`
}

// DeviceConfig is the identity the device reports to the host.
type DeviceConfig struct {
	ID        []uint32 `yaml:"id"` // Device identifier words, at most 8
	VendorID  uint16   `yaml:"vendor_id"`
	ProductID uint16   `yaml:"product_id"`
}

// BootDataConfig seeds the boot data record read by the mode policy.
type BootDataConfig struct {
	OwnershipState        string `yaml:"ownership_state"`  // State name or tag
	PrimaryBL0Slot        string `yaml:"primary_bl0_slot"` // "A" or "B"
	NextOwner             string `yaml:"next_owner"`       // Hex SHA-256 of the endorsed key
	MinSecurityVersionBL0 uint32 `yaml:"min_security_version_bl0"`
}

// RescueConfig lists the allowed modes and places the rescue targets in
// flash.
type RescueConfig struct {
	Modes      []string `yaml:"modes"` // Allowed FourCC codes; empty allows all
	SlotAStart uint32   `yaml:"slot_a_start"`
	SlotBStart uint32   `yaml:"slot_b_start"`
	SlotSize   uint32   `yaml:"slot_size"`
	OwnerPage0 uint32   `yaml:"owner_page0"`
	OwnerPage1 uint32   `yaml:"owner_page1"`
}

// FlashConfig sizes the emulated flash and names its initial image.
type FlashConfig struct {
	Base  uint32 `yaml:"base"`
	Size  uint32 `yaml:"size"`
	Image string `yaml:"image"` // Intel HEX file loaded at startup
}

// Default returns the configuration of an unlocked chip with 1 MiB of
// flash split into two 512 KiB firmware slots and two owner pages at the
// top.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:        []uint32{0, 0x00000001, 0x00000002, 0, 0, 0, 0, 0},
			VendorID:  0x18D1,
			ProductID: 0x503A,
		},
		BootData: BootDataConfig{
			OwnershipState: "UnlockedAny",
			PrimaryBL0Slot: "A",
		},
		Rescue: RescueConfig{
			SlotAStart: 0x00000,
			SlotBStart: 0x80000,
			SlotSize:   0x7F000,
			OwnerPage0: 0xFF000,
			OwnerPage1: 0xFF800,
		},
		Flash: FlashConfig{
			Base: 0,
			Size: 0x100000,
		},
	}
}

// Load reads the configuration at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if len(cfg.Device.ID) > 8 {
		return fmt.Errorf("device: id has %d words, at most 8 allowed", len(cfg.Device.ID))
	}
	if _, err := cfg.BootDataRecord(); err != nil {
		return err
	}
	if _, err := cfg.Policy(); err != nil {
		return err
	}

	layout := cfg.Layout()
	if err := layout.Validate(); err != nil {
		return fmt.Errorf("rescue: %w", err)
	}
	if cfg.Flash.Size == 0 || cfg.Flash.Size%flash.PageSize != 0 {
		return fmt.Errorf("flash: size %#x is not a non-zero multiple of %d", cfg.Flash.Size, flash.PageSize)
	}
	end := uint64(cfg.Flash.Base) + uint64(cfg.Flash.Size)
	for _, r := range []struct {
		name        string
		start, size uint32
	}{
		{"slot_a_start", layout.SlotA, layout.SlotSize},
		{"slot_b_start", layout.SlotB, layout.SlotSize},
		{"owner_page0", layout.OwnerPage0, flash.PageSize},
		{"owner_page1", layout.OwnerPage1, flash.PageSize},
	} {
		if r.start < cfg.Flash.Base || uint64(r.start)+uint64(r.size) > end {
			return fmt.Errorf("rescue: %s %#x is outside flash", r.name, r.start)
		}
	}
	return nil
}

// DeviceID returns the device identifier words, zero-padded to 8.
func (c *Config) DeviceID() [8]uint32 {
	var id [8]uint32
	copy(id[:], c.Device.ID)
	return id
}

// BootDataRecord converts the bootdata section.
func (c *Config) BootDataRecord() (rescue.BootData, error) {
	var bd rescue.BootData
	state, ok := rescue.ParseOwnershipState(c.BootData.OwnershipState)
	if !ok {
		return bd, fmt.Errorf("bootdata: unknown ownership_state %q", c.BootData.OwnershipState)
	}
	bd.OwnershipState = state

	switch c.BootData.PrimaryBL0Slot {
	case "A", "a", "":
		bd.PrimaryBL0Slot = rescue.SlotA
	case "B", "b":
		bd.PrimaryBL0Slot = rescue.SlotB
	default:
		return bd, fmt.Errorf("bootdata: primary_bl0_slot %q must be A or B", c.BootData.PrimaryBL0Slot)
	}

	if c.BootData.NextOwner != "" {
		digest, err := hex.DecodeString(c.BootData.NextOwner)
		if err != nil || len(digest) != len(bd.NextOwner) {
			return bd, fmt.Errorf("bootdata: next_owner must be %d hex bytes", len(bd.NextOwner))
		}
		copy(bd.NextOwner[:], digest)
	}
	bd.MinSecurityVersionBL0 = c.BootData.MinSecurityVersionBL0
	return bd, nil
}

// Policy builds the mode policy from the allowed mode list.
func (c *Config) Policy() (*rescue.Policy, error) {
	p := &rescue.Policy{}
	for _, s := range c.Rescue.Modes {
		m, err := rescue.ParseMode(s)
		if err != nil {
			return nil, fmt.Errorf("rescue: modes: %w", err)
		}
		p.Allowed = append(p.Allowed, m)
	}
	return p, nil
}

// Layout returns the flash placement of the rescue targets.
func (c *Config) Layout() rescue.Layout {
	return rescue.Layout{
		SlotA:      c.Rescue.SlotAStart,
		SlotB:      c.Rescue.SlotBStart,
		SlotSize:   c.Rescue.SlotSize,
		OwnerPage0: c.Rescue.OwnerPage0,
		OwnerPage1: c.Rescue.OwnerPage1,
	}
}
