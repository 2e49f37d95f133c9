// ABOUTME: Per-request guest password generation

package provision

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// DefaultPasswordLength gives roughly 116 bits of entropy with passwordAlphabet.
const DefaultPasswordLength = 20

// passwordAlphabet omits characters that are easy to misread (0/O, 1/l/I) and
// anything a shell would interpret.
const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// GeneratePassword returns n characters drawn uniformly from passwordAlphabet using
// crypto/rand.
func GeneratePassword(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("password length must be positive, got %d", n)
	}
	limit := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("reading random source: %w", err)
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
