// Package handle models the opaque public tenant identifier that appears in
// every public URL. Raw path input must pass through Parse before it reaches
// the limiter, cache or directory.
package handle

import (
	"errors"
	"fmt"
)

const (
	// MinLength and MaxLength bound the accepted handle size.
	MinLength = 16
	MaxLength = 64

	maskPrefix = 8
	maskSuffix = "****"
)

// ErrInvalid reports a handle outside the allow-listed charset or length.
var ErrInvalid = errors.New("handle: invalid public handle")

// Handle is a validated public tenant handle. The zero value is not valid.
type Handle struct {
	value string
}

// Parse validates raw and returns the handle it names.
func Parse(raw string) (Handle, error) {
	if len(raw) < MinLength || len(raw) > MaxLength {
		return Handle{}, fmt.Errorf("%w: length %d outside [%d,%d]", ErrInvalid, len(raw), MinLength, MaxLength)
	}
	for i := 0; i < len(raw); i++ {
		if !allowed(raw[i]) {
			return Handle{}, fmt.Errorf("%w: character at offset %d", ErrInvalid, i)
		}
	}
	return Handle{value: raw}, nil
}

// MustParse is Parse for tests and constants.
func MustParse(raw string) Handle {
	h, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return h
}

// Valid reports whether raw would be accepted by Parse.
func Valid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// String returns the full handle. Use Masked for logs and headers.
func (h Handle) String() string { return h.value }

// IsZero reports whether h was never parsed.
func (h Handle) IsZero() bool { return h.value == "" }

// Masked returns the first eight characters followed by "****".
func (h Handle) Masked() string {
	if len(h.value) <= maskPrefix {
		return maskSuffix
	}
	return h.value[:maskPrefix] + maskSuffix
}

// allowed covers the URL-safe base64 alphabet.
func allowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}
