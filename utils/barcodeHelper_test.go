package utils

import "testing"

func TestIsValidBarcode(t *testing.T) {
	cases := []struct {
		value    string
		expected bool
	}{
		{"", true},
		{"   ", true},
		{"12345678", true},       // EAN-8
		{"123456789012", true},   // UPC-A
		{"1234567890123", true},  // EAN-13
		{"12345678901234", true}, // GTIN-14
		{"1234567890", false},    // numeric but not a GTIN length
		{"123456789012345", false},
		{"ABC-1234", true}, // Code 39
		{"abc-1234", true}, // case folded before matching
		{"AB", false},      // too short for Code 39
		{"ABC_1234", false},
	}
	for _, tc := range cases {
		if got := IsValidBarcode(tc.value); got != tc.expected {
			t.Fatalf("IsValidBarcode(%q) expected %v, got %v", tc.value, tc.expected, got)
		}
	}
}
