// Package cryptoutils provides the cryptographic primitives used by the
// frontdoor service: wallet challenge construction, Ethereum
// personal-message signature recovery, and the keccak-based hash chain step
// used by the verification lineage log.
package cryptoutils
