// Copyright (c) 2025 Sudo-Ivan
// Licensed under the MIT License

// Package naming turns free-form layer titles into identifiers that are
// safe to use as dataset and table names in the project datastore.
package naming

import (
	"strings"
	"unicode"
)

const (
	// MaxLength is the longest identifier SafeName returns.
	MaxLength = 63
	// Placeholder replaces titles that sanitize to nothing.
	Placeholder = "layer"
	// DigitPrefix is prepended to names that would otherwise start with a digit.
	DigitPrefix = "f_"
)

// SafeName maps a display name to an identifier made of ASCII letters,
// digits and single underscores. The result never starts with a digit,
// is never empty and is at most MaxLength bytes. SafeName is idempotent.
func SafeName(display string) string {
	var b strings.Builder
	b.Grow(len(display))
	lastUnderscore := false
	for _, r := range display {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	name := strings.Trim(b.String(), "_")
	if name == "" {
		return Placeholder
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = DigitPrefix + name
	}
	if len(name) > MaxLength {
		name = strings.TrimRight(name[:MaxLength], "_")
	}
	return name
}

// TempName returns the staging identifier used while a layer is rewritten.
// The suffix keeps concurrent or crashed runs from colliding.
func TempName(name, suffix string) string {
	return SafeName("tmp_extract_" + name + "_" + suffix)
}
