package command

import (
	"crypto/rand"
	"math/big"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode returns a random alphanumeric room code of length n,
// lowercased. Uniqueness is left to the registry.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		n = DefaultCodeLength
	}

	buf := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return toLower(buf), nil
}

// CodeGenerator adapts GenerateCode to the func() string shape the registry
// draws from. It panics only if the system random source fails.
func CodeGenerator(n int) func() string {
	return func() string {
		code, err := GenerateCode(n)
		if err != nil {
			panic("command: random source failed: " + err.Error())
		}
		return code
	}
}

func toLower(b []byte) string {
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
