// Package fingerprint derives stable vendor identity keys from document fields.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that carry no combining mark in NFD and would otherwise survive stripping.
var foldReplacer = strings.NewReplacer(
	"ł", "l", "Ł", "l",
	"ø", "o", "Ø", "o",
	"đ", "d", "Đ", "d",
	"ß", "ss",
	"æ", "ae", "Æ", "ae",
	"œ", "oe", "Œ", "oe",
)

var lower = cases.Lower(language.Und)

// NormalizeName lowercases a vendor name, strips diacritics and punctuation,
// and collapses whitespace.
func NormalizeName(name string) string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		foldReplacer.Replace(name),
	)
	if err != nil {
		stripped = name
	}
	stripped = lower.String(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeTaxID keeps only the letters and digits of a tax ID, lowercased.
func NormalizeTaxID(taxID string) string {
	var b strings.Builder
	for _, r := range lower.String(taxID) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Fingerprint identifies a vendor by its normalized name and tax ID.
func Fingerprint(vendorName, taxID string) string {
	return hash(NormalizeName(vendorName) + "|" + NormalizeTaxID(taxID))
}

// VendorOnly identifies a vendor by its normalized name alone. It groups documents
// whose tax ID was captured inconsistently.
func VendorOnly(vendorName string) string {
	return hash(NormalizeName(vendorName))
}

// Distinct derives the fingerprint of the n-th separate service split off a vendor.
func Distinct(base string, n int) string {
	return hash(fmt.Sprintf("%s#service-%d", base, n))
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
