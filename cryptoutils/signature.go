package cryptoutils

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agentrail/frontdoor/interfaces"
)

// SignatureLength is the expected length of an ECDSA signature in
// [R || S || V] form.
const SignatureLength = 65

// RecoverPersonalSignature recovers the wallet address that produced the
// signature over the standard Ethereum personal-message envelope
// ("\x19Ethereum Signed Message:\n" + len(message) + message).
//
// Wallets emit the recovery id V as either {0,1} or {27,28}; both forms are
// accepted.
func RecoverPersonalSignature(message, signature []byte) (interfaces.WalletAddress, error) {
	if len(signature) != SignatureLength {
		return interfaces.WalletAddress{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return interfaces.WalletAddress{}, errors.New("invalid signature recovery id")
	}

	hash := accounts.TextHash(message)
	pubkey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return interfaces.WalletAddress{}, fmt.Errorf("recovering public key: %w", err)
	}

	return interfaces.NewWalletAddressFromBytes(crypto.PubkeyToAddress(*pubkey).Bytes())
}

// PersonalSign signs a message under the personal-message envelope,
// returning a [R || S || V] signature with V in {27,28} as wallets produce.
func PersonalSign(message []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return nil, fmt.Errorf("signing message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// WalletAddressOf returns the wallet address controlled by the private key.
func WalletAddressOf(key *ecdsa.PrivateKey) (interfaces.WalletAddress, error) {
	return interfaces.NewWalletAddressFromBytes(crypto.PubkeyToAddress(key.PublicKey).Bytes())
}
