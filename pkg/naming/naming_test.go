package naming

import (
	"strings"
	"testing"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Address with punctuation", "123 Main St!!", "f_123_Main_St"},
		{"Plain identifier kept", "Biodiversity_Values", "Biodiversity_Values"},
		{"Spaces and dashes collapse", "Koala  -  Habitat", "Koala_Habitat"},
		{"Leading and trailing separators trimmed", "__Flood Zone__", "Flood_Zone"},
		{"Only punctuation", "!!!", Placeholder},
		{"Empty string", "", Placeholder},
		{"Non ASCII letters replaced", "Café Zone", "Caf_Zone"},
		{"Digit prefix", "2024 Fire", "f_2024_Fire"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeName(tt.input); got != tt.want {
				t.Errorf("SafeName(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSafeNameLength(t *testing.T) {
	long := strings.Repeat("Vegetation Layer ", 10)
	got := SafeName(long)
	if len(got) > MaxLength {
		t.Fatalf("SafeName length = %d; want <= %d", len(got), MaxLength)
	}
	if strings.HasSuffix(got, "_") {
		t.Errorf("SafeName(%q) = %q; should not end with underscore", long, got)
	}

	digits := strings.Repeat("9", 80)
	got = SafeName(digits)
	if len(got) != MaxLength || !strings.HasPrefix(got, DigitPrefix) {
		t.Errorf("SafeName(digits) = %q; want %d chars with %q prefix", got, MaxLength, DigitPrefix)
	}
}

func TestSafeNameIdempotent(t *testing.T) {
	inputs := []string{
		"123 Main St!!",
		"",
		"___",
		"Threatened Ecological Communities (TEC) - NSW",
		strings.Repeat("a b ", 40),
		strings.Repeat("1_", 40),
		"Ünïcödé / Layer",
	}
	for _, in := range inputs {
		once := SafeName(in)
		if twice := SafeName(once); twice != once {
			t.Errorf("SafeName not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestTempName(t *testing.T) {
	got := TempName("Flood_Zone", "a1b2c3d4")
	if got != "tmp_extract_Flood_Zone_a1b2c3d4" {
		t.Errorf("TempName = %q", got)
	}
	if len(TempName(strings.Repeat("x", 70), "a1b2c3d4")) > MaxLength {
		t.Error("TempName exceeds MaxLength")
	}
}
