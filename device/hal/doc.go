// Package hal defines the register-level interface to a USB device
// peripheral with a shared packet-buffer memory.
//
// The model follows controllers that expose their buffer memory as a small
// number of fixed-size packet buffers (32 buffers of 64 bytes). Firmware
// passes buffers to the hardware through three queues:
//
//   - available SETUP FIFO: empty buffers for SETUP packets
//   - available OUT FIFO: empty buffers for OUT data packets
//   - configin registers: one filled buffer per IN endpoint
//
// and gets them back through the receive FIFO and the in_sent bitmap.
//
// The device engine in [github.com/ardnew/softrescue/device] implements all
// transfer and protocol logic on top of [DeviceHAL]. An in-memory model of
// the peripheral, with a host-side driver, is available in
// [github.com/ardnew/softrescue/device/hal/sim].
//
// # Implementing a HAL
//
//  1. Map each method onto the peripheral's registers
//  2. Report interrupt state as a snapshot; ack only the bits passed in
//  3. Never block: every method completes immediately
package hal
