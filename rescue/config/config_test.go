package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ardnew/softrescue/rescue"
)

const sampleYAML = `
device:
  id: [0x1, 0xdeadbeef, 0xcafef00d]
  vendor_id: 0x18d1
  product_id: 0x503a
bootdata:
  ownership_state: UEND
  primary_bl0_slot: B
  next_owner: "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
  min_security_version_bl0: 4
rescue:
  modes: [RSCU, OTID, BLOG]
  slot_a_start: 0x10000
  slot_b_start: 0x50000
  slot_size: 0x40000
  owner_page0: 0x0
  owner_page1: 0x800
flash:
  size: 0x100000
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	id := cfg.DeviceID()
	if id[1] != 0xdeadbeef || id[2] != 0xcafef00d || id[7] != 0 {
		t.Errorf("DeviceID() = %x", id)
	}

	bd, err := cfg.BootDataRecord()
	if err != nil {
		t.Fatalf("BootDataRecord() error = %v", err)
	}
	if bd.OwnershipState != rescue.OwnershipUnlockedEndorsed {
		t.Errorf("OwnershipState = %s, want UnlockedEndorsed", bd.OwnershipState)
	}
	if bd.PrimaryBL0Slot != rescue.SlotB {
		t.Errorf("PrimaryBL0Slot = %#x, want %#x", bd.PrimaryBL0Slot, rescue.SlotB)
	}
	if bd.NextOwner[1] != 0x11 || bd.MinSecurityVersionBL0 != 4 {
		t.Errorf("BootDataRecord() = %+v", bd)
	}

	p, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	if len(p.Allowed) != 3 || p.Allowed[1] != rescue.ModeOpenTitanID {
		t.Errorf("Policy().Allowed = %v", p.Allowed)
	}

	if l := cfg.Layout(); l.SlotB != 0x50000 || l.SlotSize != 0x40000 {
		t.Errorf("Layout() = %+v", l)
	}
}

func TestParse_KeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("bootdata:\n  ownership_state: LockedOwner\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	def := Default()
	if cfg.Device.VendorID != def.Device.VendorID || cfg.Rescue.SlotSize != def.Rescue.SlotSize {
		t.Errorf("defaults not preserved: %+v", cfg)
	}
	if cfg.BootData.OwnershipState != "LockedOwner" {
		t.Errorf("OwnershipState = %q, want LockedOwner", cfg.BootData.OwnershipState)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(Default()) error = %v", err)
	}
}

func TestParse_UnknownField(t *testing.T) {
	if _, err := Parse([]byte("rescue:\n  slot_c_start: 0x1000\n")); err == nil {
		t.Error("Parse() accepted an unknown field")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantMsg string
	}{
		{"too many id words", func(c *Config) { c.Device.ID = make([]uint32, 9) }, "at most 8"},
		{"bad ownership", func(c *Config) { c.BootData.OwnershipState = "Owned" }, "ownership_state"},
		{"bad slot", func(c *Config) { c.BootData.PrimaryBL0Slot = "C" }, "primary_bl0_slot"},
		{"bad next owner", func(c *Config) { c.BootData.NextOwner = "abcd" }, "next_owner"},
		{"bad mode", func(c *Config) { c.Rescue.Modes = []string{"RSCU", "DWIM"} }, "modes"},
		{"overlapping slots", func(c *Config) { c.Rescue.SlotBStart = c.Rescue.SlotAStart }, "overlaps"},
		{"zero flash", func(c *Config) { c.Flash.Size = 0 }, "flash"},
		{"outside flash", func(c *Config) { c.Flash.Size = 0x80000 }, "outside flash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rescue.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Rescue.SlotAStart != 0x10000 {
		t.Errorf("SlotAStart = %#x, want 0x10000", cfg.Rescue.SlotAStart)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}
