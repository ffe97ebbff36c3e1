package cryptoutils

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
)

// ChainHash is a 32-byte keccak digest linking verification records.
type ChainHash [32]byte

// GenesisChainHash is the fixed hash preceding the first record of every
// verification chain.
func GenesisChainHash() ChainHash {
	return ChainHash(crypto.Keccak256Hash([]byte("frontdoor/lineage/genesis/v1")))
}

// ChainStep derives the next chain hash from the previous hash and the
// canonical bytes of the current record:
//
//	chain_hash(n) = keccak256(chain_hash(n-1) || canonical_bytes(record_n))
func ChainStep(prev ChainHash, canonical []byte) ChainHash {
	buf := make([]byte, 0, len(prev)+len(canonical))
	buf = append(buf, prev[:]...)
	buf = append(buf, canonical...)
	return ChainHash(crypto.Keccak256Hash(buf))
}

// String returns the hex encoding of the hash.
func (h ChainHash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseChainHash decodes a 64-character hex chain hash.
func ParseChainHash(s string) (ChainHash, error) {
	var h ChainHash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(raw) != len(h) {
		return h, hex.ErrLength
	}
	copy(h[:], raw)
	return h, nil
}
