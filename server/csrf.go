package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

const csrfTokenBytes = 18

// GenerateCSRFToken returns 18 bytes from crypto/rand encoded as URL-safe
// base64.
func GenerateCSRFToken() (string, error) {
	return generateCSRFToken(rand.Reader)
}

func generateCSRFToken(src io.Reader) (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
