// internal/pipeline/validator.go
package pipeline

import "strings"

// Solana transaction signatures are 64 bytes, which base58-encodes to
// 86-88 characters.
const (
	minSignatureLen = 86
	maxSignatureLen = 88
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Validator is the cheap first-pass filter applied to raw event
// identifiers before the dedup lookup. It is stateless after creation.
type Validator struct {
	charset        [256]bool
	spamSubstrings []string
}

// NewValidator builds a validator that additionally rejects identifiers
// containing any of the given spam substrings.
func NewValidator(spamSubstrings []string) *Validator {
	v := &Validator{spamSubstrings: spamSubstrings}
	for i := 0; i < len(base58Alphabet); i++ {
		v.charset[base58Alphabet[i]] = true
	}
	return v
}

// Validate reports whether id looks like a plausible transaction
// signature. Wrong length, non-base58 characters and known spam
// patterns are refused; everything else passes.
func (v *Validator) Validate(id string) bool {
	if len(id) < minSignatureLen || len(id) > maxSignatureLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !v.charset[id[i]] {
			return false
		}
	}
	for _, spam := range v.spamSubstrings {
		if spam != "" && strings.Contains(id, spam) {
			return false
		}
	}
	return true
}
