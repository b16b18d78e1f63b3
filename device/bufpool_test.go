package device

import (
	"errors"
	"testing"

	"github.com/ardnew/softrescue/pkg"
)

func TestBufferPool_GetLowestFirst(t *testing.T) {
	p := NewBufferPool()
	for want := 0; want < NumBuffers; want++ {
		if got := p.Get(); int(got) != want {
			t.Fatalf("Get() = %d, want %d", got, want)
		}
	}
	if !p.Empty() {
		t.Error("Empty() = false after allocating every buffer")
	}

	p.Put(7)
	p.Put(3)
	if got := p.Get(); got != 3 {
		t.Errorf("Get() = %d, want 3", got)
	}
	if got := p.Get(); got != 7 {
		t.Errorf("Get() = %d, want 7", got)
	}
}

func TestBufferPool_Conservation(t *testing.T) {
	// Pseudo-random allocate/release sequence driven by a fixed LCG.
	p := NewBufferPool()
	var held []uint8
	seed := uint32(12345)
	for i := 0; i < 1000; i++ {
		seed = seed*1103515245 + 12345
		if len(held) > 0 && (p.Empty() || seed&1 == 0) {
			idx := int(seed>>8) % len(held)
			p.Put(held[idx])
			held = append(held[:idx], held[idx+1:]...)
		} else {
			held = append(held, p.Get())
		}
		if got, want := p.Free(), NumBuffers-len(held); got != want {
			t.Fatalf("step %d: Free() = %d, want %d", i, got, want)
		}
	}
}

func TestBufferPool_Exhausted(t *testing.T) {
	p := NewBufferPool()
	for i := 0; i < NumBuffers; i++ {
		p.Get()
	}
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, pkg.ErrPoolExhausted) {
			t.Errorf("Get() on empty pool panicked with %v, want %v", r, pkg.ErrPoolExhausted)
		}
	}()
	p.Get()
}

func TestBufferPool_DoubleRelease(t *testing.T) {
	p := NewBufferPool()
	id := p.Get()
	p.Put(id)
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, pkg.ErrPoolCorrupt) {
			t.Errorf("second Put() panicked with %v, want %v", r, pkg.ErrPoolCorrupt)
		}
	}()
	p.Put(id)
}

func TestBufferPool_Reset(t *testing.T) {
	p := NewBufferPool()
	p.Get()
	p.Get()
	p.Reset()
	if got := p.Free(); got != NumBuffers {
		t.Errorf("Free() after Reset = %d, want %d", got, NumBuffers)
	}
}
