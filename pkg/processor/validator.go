package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bft-labs/tashkil/pkg/batch"
)

// TextValidator rejects texts a text model cannot take.
type TextValidator struct {
	// MaxLength is the limit in characters. Zero means unbounded.
	MaxLength int
}

// Validate returns an error wrapping batch.ErrValidation for empty or
// whitespace-only text, invalid UTF-8, and text longer than MaxLength.
func (v TextValidator) Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is empty", batch.ErrValidation)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: text is not valid UTF-8", batch.ErrValidation)
	}
	if v.MaxLength > 0 {
		if n := utf8.RuneCountInString(text); n > v.MaxLength {
			return fmt.Errorf("%w: text has %d characters, limit is %d", batch.ErrValidation, n, v.MaxLength)
		}
	}
	return nil
}
