package lighter

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs zk-Lighter transaction payloads with the account's API key.
// The venue verifies a keccak256 digest of the canonical payload signed with
// the registered ECDSA key.
type Signer struct {
	key          *ecdsa.PrivateKey
	accountIndex int
	apiKeyIndex  int
}

// NewSigner parses a hex private key (0x prefix optional).
func NewSigner(privateKeyHex string, accountIndex, apiKeyIndex int) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("lighter: private key not configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("lighter: parse private key: %w", err)
	}
	return &Signer{key: key, accountIndex: accountIndex, apiKeyIndex: apiKeyIndex}, nil
}

// Sign returns the hex signature over keccak256(payload).
func (s *Signer) Sign(payload []byte) (string, error) {
	digest := crypto.Keccak256(payload)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("lighter: sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// canonicalTxPayload is the deterministic byte string the venue signs over:
// pipe-joined fields in wire order.
func canonicalTxPayload(fields ...string) []byte {
	return []byte(strings.Join(fields, "|"))
}
