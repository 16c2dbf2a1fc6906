package signature

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Prefix is the data-URI header the backend expects on every signature
// payload. Capture libraries disagree about whether they emit it, so the
// codec strips and re-applies it rather than trusting the input.
const Prefix = "data:image/png;base64,"

// EncodePNG wraps raw PNG bytes in the backend's data-URI format.
func EncodePNG(raw []byte) string {
	return Prefix + base64.StdEncoding.EncodeToString(raw)
}

// Normalize returns a well-formed data URI whether or not the input already
// carries the prefix.
func Normalize(s string) string {
	return Prefix + strings.TrimPrefix(s, Prefix)
}

// Decode recovers the raw PNG bytes from a data URI, with or without the
// prefix.
func Decode(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, Prefix))
	if err != nil {
		return nil, fmt.Errorf("invalid signature payload: %w", err)
	}
	return raw, nil
}
