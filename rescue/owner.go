package rescue

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"math/big"

	"github.com/ardnew/softrescue/pkg"
)

// Owner block layout. The signature covers every byte before it.
const (
	OwnerBlockSize       = BlockSize
	OwnerKeySize         = 64
	OwnerSignatureSize   = 64
	OwnerSignatureOffset = 1952

	ownerTag            = "OWNR"
	ownerKeyOffset      = 32
	ownerActivateOffset = 96
	ownerUnlockOffset   = 160
)

// OwnerKey is an ECDSA P-256 public key as X || Y, big-endian.
type OwnerKey [OwnerKeySize]byte

// Digest returns the SHA-256 digest of the key.
func (k *OwnerKey) Digest() [32]byte {
	return sha256.Sum256(k[:])
}

// OwnerBlock is a parsed owner configuration page.
type OwnerBlock struct {
	OwnerKey    OwnerKey
	ActivateKey OwnerKey
	UnlockKey   OwnerKey
	Signature   [OwnerSignatureSize]byte
	Message     []byte // Signed region; aliases the parsed data
}

// ParseOwnerBlock parses a 2048-byte owner block into out.
func ParseOwnerBlock(data []byte, out *OwnerBlock) error {
	if len(data) < OwnerBlockSize {
		return pkg.ErrBufferTooSmall
	}
	if string(data[:len(ownerTag)]) != ownerTag {
		return pkg.ErrOwnershipInvalidTag
	}
	copy(out.OwnerKey[:], data[ownerKeyOffset:ownerKeyOffset+OwnerKeySize])
	copy(out.ActivateKey[:], data[ownerActivateOffset:ownerActivateOffset+OwnerKeySize])
	copy(out.UnlockKey[:], data[ownerUnlockOffset:ownerUnlockOffset+OwnerKeySize])
	copy(out.Signature[:], data[OwnerSignatureOffset:OwnerSignatureOffset+OwnerSignatureSize])
	out.Message = data[:OwnerSignatureOffset]
	return nil
}

// MarshalTo writes the unsigned owner block to buf: the tag and the keys,
// with every other byte 0xFF. The caller signs buf[:OwnerSignatureOffset]
// and stores the signature at OwnerSignatureOffset.
// Returns the number of bytes written (always 2048 if buf is large enough).
func (b *OwnerBlock) MarshalTo(buf []byte) int {
	if len(buf) < OwnerBlockSize {
		return 0
	}
	for i := range buf[:OwnerBlockSize] {
		buf[i] = 0xFF
	}
	copy(buf, ownerTag)
	copy(buf[ownerKeyOffset:], b.OwnerKey[:])
	copy(buf[ownerActivateOffset:], b.ActivateKey[:])
	copy(buf[ownerUnlockOffset:], b.UnlockKey[:])
	copy(buf[OwnerSignatureOffset:], b.Signature[:])
	return OwnerBlockSize
}

// SignatureVerifier checks owner block signatures.
type SignatureVerifier interface {
	Verify(key OwnerKey, sig, msg []byte) bool
}

// ECDSAVerifier verifies ECDSA P-256 signatures (r || s, big-endian) over
// the SHA-256 digest of the message.
type ECDSAVerifier struct{}

// Verify implements [SignatureVerifier].
func (ECDSAVerifier) Verify(key OwnerKey, sig, msg []byte) bool {
	if len(sig) != OwnerSignatureSize {
		return false
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(key[:32]),
		Y:     new(big.Int).SetBytes(key[32:]),
	}
	digest := sha256.Sum256(msg)
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pub, digest[:], r, s)
}
