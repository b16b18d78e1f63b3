// Package flash defines the flash controller capability used by the
// rescue service, and an emulated flash memory for tests and simulations.
//
// Flash is organized in fixed-size pages. A page must be erased (all bytes
// 0xFF) before it is programmed; programming can only clear bits.
//
// [Memory] can be loaded from and saved to Intel HEX files, so a simulated
// device keeps its flash contents across runs:
//
//	mem := flash.NewMemory(0, 1<<20, flash.PageSize)
//	if err := mem.LoadHex(f); err != nil {
//	    return err
//	}
package flash
