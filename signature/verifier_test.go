package signature

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayer "github.com/x402-foundation/x402/relayer"
)

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func sign(t *testing.T, key solana.PrivateKey, message []byte) []byte {
	t.Helper()
	sig, err := key.Sign(message)
	require.NoError(t, err)
	return sig[:]
}

func TestVerify(t *testing.T) {
	key := newKey(t)
	other := newKey(t)
	message := []byte("canonical sponsored transfer message")
	sig := sign(t, key, message)
	sender := key.PublicKey().String()

	t.Run("valid signature returns authenticator", func(t *testing.T) {
		auth, err := NewVerifier(nil).Verify(sig, key.PublicKey().Bytes(), message, sender)
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey(), auth.PublicKey)
		assert.Equal(t, sig, auth.Signature[:])
	})

	t.Run("framed signature uses trailing bytes", func(t *testing.T) {
		framed := append([]byte{0x00, 0x40, 0xde, 0xad}, sig...)
		auth, err := NewVerifier(nil).Verify(framed, key.PublicKey().Bytes(), message, sender)
		require.NoError(t, err)
		assert.Equal(t, sig, auth.Signature[:])
	})

	tests := []struct {
		name      string
		sig       []byte
		publicKey []byte
		message   []byte
		sender    string
		code      string
	}{
		{"missing signature", nil, key.PublicKey().Bytes(), message, sender, relayer.ErrCodeSignatureInvalid},
		{"missing public key", sig, nil, message, sender, relayer.ErrCodeSignatureInvalid},
		{"empty public key with valid sender", sig, []byte{}, message, sender, relayer.ErrCodeSignatureInvalid},
		{"short public key", sig, key.PublicKey().Bytes()[:31], message, sender, relayer.ErrCodeSignatureInvalid},
		{"key of another account", sign(t, other, message), other.PublicKey().Bytes(), message, sender, relayer.ErrCodeAddressMismatch},
		{"short signature", sig[:63], key.PublicKey().Bytes(), message, sender, relayer.ErrCodeSignatureInvalid},
		{"tampered message", sig, key.PublicKey().Bytes(), []byte("canonical sponsored transfer messagE"), sender, relayer.ErrCodeSignatureInvalid},
		{"signature by another key", sign(t, other, message), key.PublicKey().Bytes(), message, sender, relayer.ErrCodeSignatureInvalid},
		{"malformed sender", sig, key.PublicKey().Bytes(), message, "not-an-address", relayer.ErrCodeAddressMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := NewVerifier(nil).Verify(tt.sig, tt.publicKey, tt.message, tt.sender)
			require.Error(t, err)
			assert.Nil(t, auth)
			assert.Equal(t, tt.code, relayer.CodeOf(err))
		})
	}
}

func TestNormalize(t *testing.T) {
	raw := make([]byte, Length)
	for i := range raw {
		raw[i] = byte(i)
	}

	out, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	out, err = Normalize(append([]byte{9, 9, 9}, raw...))
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	_, err = Normalize(raw[:10])
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	key := newKey(t)
	sig := sign(t, key, []byte("payload"))

	for name, encoded := range map[string]string{
		"hex":    hex.EncodeToString(sig),
		"0x hex": "0x" + hex.EncodeToString(sig),
		"base64": base64.StdEncoding.EncodeToString(sig),
		"base58": solana.SignatureFromBytes(sig).String(),
	} {
		t.Run("signature "+name, func(t *testing.T) {
			out, err := DecodeSignature(encoded)
			require.NoError(t, err)
			assert.Equal(t, sig, out)
		})
	}

	t.Run("framed base58 signature", func(t *testing.T) {
		framed := append(make([]byte, 32), sig...)
		for i := 0; i < 32; i++ {
			framed[i] = byte(0xa0 + i)
		}
		out, err := DecodeSignature(base58.Encode(framed))
		require.NoError(t, err)
		assert.Equal(t, framed, out)

		raw, err := Normalize(out)
		require.NoError(t, err)
		assert.Equal(t, sig, raw)
	})

	t.Run("framed base64 signature", func(t *testing.T) {
		framed := append([]byte{1, 2, 3, 4}, sig...)
		out, err := DecodeSignature(base64.StdEncoding.EncodeToString(framed))
		require.NoError(t, err)
		assert.Equal(t, framed, out)
	})

	_, err := DecodeSignature("not*a*signature")
	assert.Error(t, err)

	pk := key.PublicKey()
	for name, encoded := range map[string]string{
		"base58": pk.String(),
		"hex":    "0x" + hex.EncodeToString(pk[:]),
	} {
		t.Run("public key "+name, func(t *testing.T) {
			out, err := DecodePublicKey(encoded)
			require.NoError(t, err)
			assert.Equal(t, pk.Bytes(), out)
		})
	}

	out, err := DecodePublicKey("")
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = DecodePublicKey("!!!")
	assert.Error(t, err)
}
