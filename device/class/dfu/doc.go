// Package dfu implements the USB Device Firmware Upgrade (DFU 1.1) class
// protocol used to drive a rescue session.
//
// The protocol is table-driven: every (request, state) pair maps to an
// [Action] and the next state, see [Lookup]. The table reproduces the
// behavior host tools rely on, including transitions that look odd in
// isolation, such as GETSTATE in dfuIDLE moving to dfuUPLOAD-IDLE.
//
// # Transports
//
// [Protocol] never touches hardware. A [Transport] starts data stages,
// answers standard requests and reports results; it feeds endpoint events
// back through [Protocol.HandleEvent]. The USB binding lives in
// rescue/usbdfu and the SPI mailbox binding in rescue/spidfu.
//
// # Rescue Targets
//
// Alternate settings of the DFU interface select rescue targets (see
// rescue.AltSettings). A vendor SET_INTERFACE carrying a FourCC in wValue
// and wIndex selects any target by code:
//
//	wValue = mode >> 16
//	wIndex = mode & 0xFFFF
//
// A completed DNLOAD block is padded to [TransferSize] with 0xFF and
// committed through the rescue service. Commit failures are reported as
// errVENDOR by GETSTATUS.
package dfu
