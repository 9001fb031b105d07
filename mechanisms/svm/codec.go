package svm

import (
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
)

// EncodeTransaction returns the base64 wire form of a signed transaction
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	enc, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

// DecodeTransaction parses a base64 wire transaction
func DecodeTransaction(b64 string) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}
