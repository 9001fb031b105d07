// Package svm holds the sponsor's Solana signing key. The sponsor only ever signs the fee-payer
// slot of transactions the relayer built itself.
package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// SignMessageFunc signs a serialized transaction message
type SignMessageFunc func(ctx context.Context, message []byte) (solana.Signature, error)

// FeePayerSigner signs transactions as the fee payer
type FeePayerSigner struct {
	publicKey   solana.PublicKey
	signMessage SignMessageFunc
}

// NewFeePayerSigner creates a fee-payer signer from a public key and signing callback.
// The callback form allows keys held in a KMS or HSM.
func NewFeePayerSigner(publicKey solana.PublicKey, signFunc SignMessageFunc) (*FeePayerSigner, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}

	return &FeePayerSigner{
		publicKey:   publicKey,
		signMessage: signFunc,
	}, nil
}

// NewFeePayerSignerFromPrivateKey creates a fee-payer signer from a base58-encoded private key.
//
// Example:
//
//	signer, err := svm.NewFeePayerSignerFromPrivateKey(os.Getenv("SPONSOR_PRIVATE_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewFeePayerSignerFromPrivateKey(privateKeyBase58 string) (*FeePayerSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return NewFeePayerSigner(privateKey.PublicKey(), func(_ context.Context, message []byte) (solana.Signature, error) {
		return privateKey.Sign(message)
	})
}

// Address returns the sponsor's public key
func (s *FeePayerSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignAsFeePayer signs the transaction message and stores the signature in the fee-payer slot.
// The transaction must name this signer as its fee payer.
func (s *FeePayerSigner) SignAsFeePayer(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(s.publicKey) {
		return solana.Signature{}, fmt.Errorf("transaction fee payer is not the sponsor %s", s.publicKey)
	}

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := s.signMessage(ctx, messageBytes)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign: %w", err)
	}

	if err := PlaceSignature(tx, s.publicKey, signature); err != nil {
		return solana.Signature{}, err
	}
	return signature, nil
}

// PlaceSignature stores sig at the signer index of pubkey
func PlaceSignature(tx *solana.Transaction, pubkey solana.PublicKey, sig solana.Signature) error {
	accountIndex, err := tx.GetAccountIndex(pubkey)
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}
	if int(accountIndex) >= int(tx.Message.Header.NumRequiredSignatures) {
		return fmt.Errorf("account %s is not a required signer", pubkey)
	}

	// Ensure signatures array covers every required signer
	if len(tx.Signatures) < int(tx.Message.Header.NumRequiredSignatures) {
		newSignatures := make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
		copy(newSignatures, tx.Signatures)
		tx.Signatures = newSignatures
	}

	tx.Signatures[accountIndex] = sig
	return nil
}
