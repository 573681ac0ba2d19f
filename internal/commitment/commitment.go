// Package commitment validates incoming biometric commitments.
//
// A commitment is an opaque 32-byte value produced by the capture
// subsystem; it stands in for a biometric sample and never contains raw
// biometric data. The engine treats commitment equality as exact; any
// fuzzy matching happens upstream.
package commitment

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	id "unum/pkg/domain"
	dErrors "unum/pkg/domain-errors"
)

// Size is the only accepted commitment length, in bytes.
const Size = 32

// Network tags the ledger the identity will be anchored on. Closed set;
// adding a network is a code change, never a runtime input.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkPreprod Network = "preprod"
	NetworkPreview Network = "preview"
)

var supportedNetworks = map[Network]struct{}{
	NetworkMainnet: {},
	NetworkPreprod: {},
	NetworkPreview: {},
}

// ParseNetwork validates a network tag from the outside world.
func ParseNetwork(s string) (Network, error) {
	n := Network(s)
	if _, ok := supportedNetworks[n]; !ok {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unsupported network %q", s))
	}
	return n, nil
}

// Commitment is a validated biometric commitment. Construct only via
// Validate so degenerate values never reach derivation.
type Commitment struct {
	raw [Size]byte
}

// Validate checks the shape of a raw commitment for the given network.
// Pure; no side effects.
func Validate(raw []byte, network Network) (Commitment, error) {
	if _, ok := supportedNetworks[network]; !ok {
		return Commitment{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unsupported network %q", network))
	}
	if len(raw) != Size {
		return Commitment{}, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("commitment must be exactly %d bytes, got %d", Size, len(raw)))
	}
	if degenerate(raw) {
		return Commitment{}, dErrors.New(dErrors.CodeValidation, "commitment is a degenerate value")
	}
	var c Commitment
	copy(c.raw[:], raw)
	return c, nil
}

// degenerate rejects known-bad commitment values that a broken capture
// pipeline is likely to emit.
func degenerate(raw []byte) bool {
	return bytes.Equal(raw, make([]byte, Size)) ||
		bytes.Equal(raw, bytes.Repeat([]byte{0xFF}, Size))
}

// Bytes returns the commitment value. Callers must not log it.
func (c Commitment) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, c.raw[:])
	return out
}

// keyTag domain-separates the index key from the DID digest so the two can
// never alias. Changing it invalidates every stored key.
const keyTag = "unum:commitment-key:v1"

// Key derives the duplicate-index key for the commitment. The key is a hex
// digest, never the commitment itself, so stores and logs may carry it.
// Keys are network-independent: one person, one identity, on any network.
func (c Commitment) Key() id.CommitmentKey {
	h, _ := blake2b.New256([]byte(keyTag))
	h.Write(c.raw[:])
	return id.CommitmentKey(hex.EncodeToString(h.Sum(nil)))
}

// Fingerprint is the loggable short form of the commitment key.
func (c Commitment) Fingerprint() string {
	return string(c.Key())[:12]
}

// String implements fmt.Stringer with the redacted form so a Commitment
// can never leak through a log line by accident.
func (c Commitment) String() string {
	return "commitment(" + c.Fingerprint() + "…)"
}
