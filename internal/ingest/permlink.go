package ingest

import (
	"crypto/rand"
	"fmt"

	"github.com/darkace1998/video-pipeline/internal/constants"
)

// NewPermlink returns a random 8 character [0-9a-z] identifier. Bytes at or
// above the largest multiple of the alphabet size are rejected so every
// character is equally likely.
func NewPermlink() (string, error) {
	const alphabet = constants.PermlinkAlphabet
	limit := byte(256 - 256%len(alphabet))

	out := make([]byte, 0, constants.PermlinkLength)
	buf := make([]byte, constants.PermlinkLength*2)
	for len(out) < constants.PermlinkLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate permlink: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == constants.PermlinkLength {
				break
			}
		}
	}
	return string(out), nil
}
