package cryptoutils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/agentrail/frontdoor/interfaces"
)

// NonceBytes is the size of the random nonce embedded in challenges.
const NonceBytes = 16

// NewNonce returns a fresh unpredictable hex-encoded nonce.
func NewNonce() (string, error) {
	buf := make([]byte, NonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading nonce entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ChallengeMessage renders the human-readable challenge a user signs to
// authenticate a session. The nonce is bound 1:1 to the session id; the
// signed payload must later match this message byte for byte.
func ChallengeMessage(purpose string, wallet interfaces.WalletAddress, chainID int64, sessionID, nonce string, issuedAt, expiresAt time.Time) string {
	return fmt.Sprintf(
		"%s wants you to authorize an agent runtime.\n\n"+
			"Wallet: %s\n"+
			"Chain ID: %d\n"+
			"Session: %s\n"+
			"Nonce: %s\n"+
			"Issued At: %s\n"+
			"Expires At: %s",
		purpose,
		wallet.String(),
		chainID,
		sessionID,
		nonce,
		issuedAt.UTC().Format(time.RFC3339),
		expiresAt.UTC().Format(time.RFC3339),
	)
}
