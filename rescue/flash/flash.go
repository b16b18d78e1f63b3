package flash

import (
	"fmt"
	"io"
	"sync"

	"github.com/marcinbor85/gohex"

	"github.com/ardnew/softrescue/pkg"
)

// PageSize is the flash page size, equal to one rescue block.
const PageSize = 2048

// Controller is the flash controller capability.
type Controller interface {
	// Read copies len(buf) bytes starting at addr into buf.
	Read(addr uint32, buf []byte) error

	// Erase erases the page containing addr.
	Erase(addr uint32) error

	// Program writes data starting at addr. The range must not cross a
	// page boundary.
	Program(addr uint32, data []byte) error
}

// Memory is an emulated flash array. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	base     uint32
	pageSize uint32
	data     []byte
}

// NewMemory creates an erased flash of size bytes mapped at base.
func NewMemory(base, size, pageSize uint32) *Memory {
	m := &Memory{
		base:     base,
		pageSize: pageSize,
		data:     make([]byte, size),
	}
	for i := range m.data {
		m.data[i] = 0xFF
	}
	return m
}

// Base returns the address of the first byte.
func (m *Memory) Base() uint32 {
	return m.base
}

// Size returns the size in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

// offset translates [addr, addr+n) to an offset into m.data.
func (m *Memory) offset(addr uint32, n int) (int, error) {
	if addr < m.base || uint64(addr-m.base)+uint64(n) > uint64(len(m.data)) {
		return 0, fmt.Errorf("%#08x+%d: %w", addr, n, pkg.ErrFlashRange)
	}
	return int(addr - m.base), nil
}

// Read implements [Controller].
func (m *Memory) Read(addr uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, err := m.offset(addr, len(buf))
	if err != nil {
		return err
	}
	copy(buf, m.data[off:])
	return nil
}

// Erase implements [Controller].
func (m *Memory) Erase(addr uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, err := m.offset(addr, 1)
	if err != nil {
		return err
	}
	start := off - off%int(m.pageSize)
	end := min(start+int(m.pageSize), len(m.data))
	for i := start; i < end; i++ {
		m.data[i] = 0xFF
	}
	pkg.LogDebug(pkg.ComponentFlash, "page erased", pkg.AddrAttr("addr", m.base+uint32(start)))
	return nil
}

// Program implements [Controller].
func (m *Memory) Program(addr uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, err := m.offset(addr, len(data))
	if err != nil {
		return err
	}
	if len(data) > 0 && off/int(m.pageSize) != (off+len(data)-1)/int(m.pageSize) {
		return fmt.Errorf("program %#08x+%d crosses a page: %w", addr, len(data), pkg.ErrFlashRange)
	}
	for i, b := range data {
		m.data[off+i] &= b
	}
	pkg.LogDebug(pkg.ComponentFlash, "programmed",
		pkg.AddrAttr("addr", addr),
		"length", len(data))
	return nil
}

// LoadHex programs every data segment of an Intel HEX image over the
// current contents. Segments outside the memory are rejected.
func (m *Memory) LoadHex(r io.Reader) error {
	img := gohex.NewMemory()
	if err := img.ParseIntelHex(r); err != nil {
		return fmt.Errorf("parse hex: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, seg := range img.GetDataSegments() {
		off, err := m.offset(seg.Address, len(seg.Data))
		if err != nil {
			return err
		}
		copy(m.data[off:], seg.Data)
	}
	pkg.LogInfo(pkg.ComponentFlash, "hex image loaded", "segments", len(img.GetDataSegments()))
	return nil
}

// DumpHex writes the programmed contents as an Intel HEX image. Runs of
// erased pages are omitted.
func (m *Memory) DumpHex(w io.Writer) error {
	img := gohex.NewMemory()
	m.mu.Lock()
	for start := 0; start < len(m.data); start += int(m.pageSize) {
		page := m.data[start:min(start+int(m.pageSize), len(m.data))]
		if erased(page) {
			continue
		}
		if err := img.AddBinary(m.base+uint32(start), append([]byte(nil), page...)); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("add segment: %w", err)
		}
	}
	m.mu.Unlock()
	if err := img.DumpIntelHex(w, 16); err != nil {
		return fmt.Errorf("dump hex: %w", err)
	}
	return nil
}

func erased(b []byte) bool {
	for _, v := range b {
		if v != 0xFF {
			return false
		}
	}
	return true
}
