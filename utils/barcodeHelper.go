package utils

import (
	"regexp"
	"strings"
)

// Recognized barcode shapes: fixed-length numeric GTINs (EAN-8, UPC-A, EAN-13,
// GTIN-14) or Code 39 alphanumeric codes. An empty value is always valid since
// the field is optional. An unrecognized non-empty value is an error, never a
// silent fallback.

var (
	gtinPattern    = regexp.MustCompile(`^[0-9]{8}$|^[0-9]{12}$|^[0-9]{13}$|^[0-9]{14}$`)
	code39Pattern  = regexp.MustCompile(`^[A-Z0-9\-\.\$\/\+\%\s]{4,43}$`)
	numericPattern = regexp.MustCompile(`^[0-9]+$`)
)

func IsValidBarcode(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return true
	}
	if numericPattern.MatchString(value) {
		// Numeric codes must be an exact GTIN length; a 10-digit value is a
		// typo, not a shorter symbology.
		return gtinPattern.MatchString(value)
	}
	return code39Pattern.MatchString(strings.ToUpper(value))
}
