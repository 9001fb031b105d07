// Package signature verifies wallet-supplied sender signatures against the canonical message the
// relayer rebuilt, and reconstructs an authenticator for submission.
//
// Both the signature and the public key are always required. There is no code path that accepts
// a claimed address without a key that derives it.
package signature

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	relayer "github.com/x402-foundation/x402/relayer"
	"github.com/x402-foundation/x402/relayer/mechanisms/svm"
)

// Length of a raw ed25519 signature
const Length = 64

// Authenticator pairs a verified public key and signature
type Authenticator struct {
	PublicKey solana.PublicKey
	Signature solana.Signature
}

// Verifier checks sender signatures
type Verifier struct {
	logger *zap.Logger
}

// NewVerifier creates a verifier. A nil logger disables logging.
func NewVerifier(logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{logger: logger}
}

// Verify validates sig over canonicalMessage with publicKey and checks that publicKey derives
// claimedSender. It fails with signature_invalid or address_mismatch.
func (v *Verifier) Verify(sig, publicKey, canonicalMessage []byte, claimedSender string) (*Authenticator, error) {
	if len(sig) == 0 {
		return nil, relayer.NewRelayError(relayer.ErrCodeSignatureInvalid, "signature is required", nil)
	}
	if len(publicKey) == 0 {
		return nil, relayer.NewRelayError(relayer.ErrCodeSignatureInvalid, "public key is required", nil)
	}
	if len(canonicalMessage) == 0 {
		return nil, relayer.NewRelayError(relayer.ErrCodeSignatureInvalid, "canonical message is empty", nil)
	}

	derived, err := svm.AddressFromPublicKey(publicKey)
	if err != nil {
		return nil, relayer.NewRelayError(relayer.ErrCodeSignatureInvalid, err.Error(), nil)
	}
	claimed, err := svm.ParseAddress(claimedSender)
	if err != nil {
		return nil, relayer.NewRelayError(relayer.ErrCodeAddressMismatch, err.Error(), nil)
	}
	if !bytes.Equal(derived[:], claimed[:]) {
		v.logger.Warn("public key does not derive claimed sender",
			zap.String("claimed", claimedSender),
			zap.String("derived", derived.String()),
		)
		return nil, relayer.NewRelayError(relayer.ErrCodeAddressMismatch, "public key does not match sender address", map[string]interface{}{
			"claimed": claimedSender,
			"derived": derived.String(),
		})
	}

	raw, err := Normalize(sig)
	if err != nil {
		return nil, relayer.NewRelayError(relayer.ErrCodeSignatureInvalid, err.Error(), nil)
	}
	signature := solana.SignatureFromBytes(raw)

	if !signature.Verify(derived, canonicalMessage) {
		v.logger.Warn("sender signature does not verify", zap.String("sender", claimedSender))
		return nil, relayer.NewRelayError(relayer.ErrCodeSignatureInvalid, "signature does not match the transaction; request a new quote and sign its template", nil)
	}

	return &Authenticator{PublicKey: derived, Signature: signature}, nil
}

// Normalize strips wallet framing from a signature. Inputs longer than a raw signature yield
// their trailing Length bytes.
func Normalize(sig []byte) ([]byte, error) {
	switch {
	case len(sig) < Length:
		return nil, errShortSignature(len(sig))
	case len(sig) > Length:
		return sig[len(sig)-Length:], nil
	default:
		return sig, nil
	}
}

// DecodeSignature decodes a wallet signature given as hex (optionally 0x-prefixed), base58 or base64.
// Framed signatures longer than Length are returned whole; Normalize strips the framing.
func DecodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if b, ok := decodeHex(s); ok {
		return b, nil
	}
	if sig, err := solana.SignatureFromBase58(s); err == nil {
		return sig[:], nil
	}
	if b, err := base58.Decode(s); err == nil && len(b) >= Length {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return nil, errUndecodable
}

// DecodePublicKey decodes a public key given as hex (optionally 0x-prefixed) or base58
func DecodePublicKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if b, ok := decodeHex(s); ok {
		return b, nil
	}
	if pk, err := solana.PublicKeyFromBase58(s); err == nil {
		return pk.Bytes(), nil
	}
	return nil, errUndecodable
}

func decodeHex(s string) ([]byte, bool) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if trimmed == "" || len(trimmed)%2 != 0 {
		return nil, false
	}
	// shorter strings are base58 keys
	if len(trimmed) < 2*solana.PublicKeyLength {
		return nil, false
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, false
	}
	return b, true
}
