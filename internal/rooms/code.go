package rooms

import (
	"crypto/rand"
	"fmt"
	"io"

	"tunesync-backend/internal/models"
)

// GenerateCode returns a random room code drawn from models.RoomCodeAlphabet.
func GenerateCode() (string, error) {
	return generateCode(rand.Reader)
}

// generateCode maps random bytes onto the alphabet, discarding bytes past the
// largest multiple of its length so every character is equally likely.
func generateCode(random io.Reader) (string, error) {
	alphabet := models.RoomCodeAlphabet
	limit := 256 - 256%len(alphabet)

	code := make([]byte, 0, models.RoomCodeLength)
	buf := make([]byte, models.RoomCodeLength)
	for len(code) < models.RoomCodeLength {
		if _, err := io.ReadFull(random, buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, v := range buf {
			if int(v) >= limit {
				continue
			}
			code = append(code, alphabet[int(v)%len(alphabet)])
			if len(code) == models.RoomCodeLength {
				break
			}
		}
	}
	return string(code), nil
}
