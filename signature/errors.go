package signature

import (
	"errors"
	"fmt"
)

var errUndecodable = errors.New("value is not valid hex, base58 or base64")

func errShortSignature(n int) error {
	return fmt.Errorf("signature must be at least %d bytes, got %d", Length, n)
}
