// Package derive maps a validated biometric commitment to its DID.
//
// The mapping is a pure function of the commitment and the network tag.
// It deliberately takes no wallet address, device identifier or timestamp:
// embedding any of those would let one person mint a fresh identity per
// wallet, which is exactly the hole the deterministic scheme closes.
//
// Derivation is permanent. The hash (BLAKE2b-256), the domain tag and the
// multibase alphabet below are frozen; changing any of them would break
// every DID already anchored.
package derive

import (
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"unum/internal/commitment"
	id "unum/pkg/domain"
)

const (
	// Method is the DID method token. All identities anchor on Cardano.
	Method = "cardano"

	// domainTag separates DID digests from every other use of the hash.
	domainTag = "unum:did:v1"

	// multibasePrefix is the self-describing encoding marker for base58btc.
	multibasePrefix = "z"
)

// DID derives the identifier for a commitment on a network.
// Identical inputs yield identical output on any machine, forever.
func DID(c commitment.Commitment, network commitment.Network) id.DID {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(domainTag))
	h.Write([]byte{0})
	h.Write([]byte(network))
	h.Write([]byte{0})
	h.Write(c.Bytes())
	digest := h.Sum(nil)

	encoded := multibasePrefix + base58.Encode(digest)
	return id.DID("did:" + Method + ":" + string(network) + ":" + encoded)
}
