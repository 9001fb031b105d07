package svm

import (
	"context"
	"errors"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// sponsoredTx moves lamports from sender to recipient with feePayer paying the network fee
func sponsoredTx(t *testing.T, feePayer, sender, recipient solana.PublicKey) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, sender, recipient).Build()},
		solana.Hash{7, 7, 7},
		solana.TransactionPayer(feePayer),
	)
	require.NoError(t, err)
	return tx
}

func TestSignAsFeePayer(t *testing.T) {
	sponsor := newKey(t)
	sender := newKey(t)
	signer, err := NewFeePayerSignerFromPrivateKey(sponsor.String())
	require.NoError(t, err)
	assert.Equal(t, sponsor.PublicKey(), signer.Address())

	tx := sponsoredTx(t, sponsor.PublicKey(), sender.PublicKey(), newKey(t).PublicKey())
	sig, err := signer.SignAsFeePayer(context.Background(), tx)
	require.NoError(t, err)

	require.Len(t, tx.Signatures, 2)
	assert.Equal(t, sig, tx.Signatures[0])
	assert.True(t, tx.Signatures[1].IsZero())

	message, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, sig.Verify(sponsor.PublicKey(), message))
}

func TestSignAsFeePayer_RejectsForeignFeePayer(t *testing.T) {
	signer, err := NewFeePayerSignerFromPrivateKey(newKey(t).String())
	require.NoError(t, err)

	other := newKey(t)
	tx := sponsoredTx(t, other.PublicKey(), newKey(t).PublicKey(), newKey(t).PublicKey())
	_, err = signer.SignAsFeePayer(context.Background(), tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee payer is not the sponsor")
	assert.Empty(t, tx.Signatures)
}

func TestSignAsFeePayer_PropagatesSignError(t *testing.T) {
	sponsor := newKey(t)
	signer, err := NewFeePayerSigner(sponsor.PublicKey(), func(context.Context, []byte) (solana.Signature, error) {
		return solana.Signature{}, errors.New("kms unavailable")
	})
	require.NoError(t, err)

	tx := sponsoredTx(t, sponsor.PublicKey(), newKey(t).PublicKey(), newKey(t).PublicKey())
	_, err = signer.SignAsFeePayer(context.Background(), tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kms unavailable")
}

func TestPlaceSignature(t *testing.T) {
	sponsor := newKey(t)
	sender := newKey(t)
	recipient := newKey(t)
	tx := sponsoredTx(t, sponsor.PublicKey(), sender.PublicKey(), recipient.PublicKey())

	message, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	senderSig, err := sender.Sign(message)
	require.NoError(t, err)

	t.Run("fills the signer slot", func(t *testing.T) {
		require.NoError(t, PlaceSignature(tx, sender.PublicKey(), senderSig))
		require.Len(t, tx.Signatures, 2)
		assert.True(t, tx.Signatures[0].IsZero())
		assert.Equal(t, senderSig, tx.Signatures[1])
	})

	t.Run("rejects non-signer accounts", func(t *testing.T) {
		err := PlaceSignature(tx, recipient.PublicKey(), senderSig)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a required signer")
	})

	t.Run("rejects unknown accounts", func(t *testing.T) {
		err := PlaceSignature(tx, newKey(t).PublicKey(), senderSig)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get account index")
	})
}

func TestNewFeePayerSigner_Validation(t *testing.T) {
	_, err := NewFeePayerSigner(solana.PublicKey{}, func(context.Context, []byte) (solana.Signature, error) {
		return solana.Signature{}, nil
	})
	assert.Error(t, err)

	_, err = NewFeePayerSigner(newKey(t).PublicKey(), nil)
	assert.Error(t, err)

	_, err = NewFeePayerSignerFromPrivateKey("not-a-key")
	assert.Error(t, err)
}
