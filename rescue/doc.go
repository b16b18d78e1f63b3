// Package rescue implements the device side of the rescue protocol: the
// targets a host can read or write while the chip is held in rescue mode,
// and the policy deciding which of them are reachable.
//
// A rescue session selects a target by [Mode]. Download targets (firmware
// slots, the boot services request, the owner block) consume 2048-byte
// blocks through [Service.Recv]. Upload targets (device identifier, boot
// log, boot services response, owner pages) are staged into the session
// buffer by [Service.Send] when they are selected.
//
// The service knows nothing about the wire. Transports such as the DFU
// protocol in device/class/dfu move blocks in and out of [State.Data].
//
// # Ownership
//
// Owner blocks are only accepted while the chip is unlocked or in a
// locked-update state, and must be signed by the incoming owner key:
//
//	UnlockedAny       any key
//	UnlockedEndorsed  key digest must match BootData.NextOwner
//	UnlockedSelf      key must match the current owner
//	LockedUpdate      key must match the current owner
//
// Signatures are checked through a [SignatureVerifier]; [ECDSAVerifier]
// handles ECDSA P-256 with SHA-256.
package rescue
