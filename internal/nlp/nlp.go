// Package nlp holds the text normalisation used on both sides of the Index
// Store: the builder derives canonical PANs and names with it, and the search
// service canonicalises query values the same way so lookups are exact.
package nlp

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Scripts reported by DetectScript.
const (
	ScriptDevanagari = "devanagari"
	ScriptLatin      = "latin"
)

const maxNamesPerBlob = 3

var (
	panShape   = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	panInText  = regexp.MustCompile(`(?i)\b([A-Z]{5}[0-9]{4}[A-Z])\b`)
	nameMarker = regexp.MustCompile(`नाव[:-]\s*([^;:,\n]+?)\s*(?:वय|पत्ता|पॅन|,|;|\n)`)
	partySplit = regexp.MustCompile(`\b\d+\)\s*[:：]`)
)

// CanonicalizePAN removes all whitespace and upper-cases s.
func CanonicalizePAN(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// IsPAN reports whether s is already a canonical PAN such as ABCDE1234F.
func IsPAN(s string) bool {
	return panShape.MatchString(s)
}

// ExtractPANCodes returns every PAN-shaped code in blob, canonicalised and
// de-duplicated in order of first appearance.
func ExtractPANCodes(blob string) []string {
	matches := panInText.FindAllStringSubmatch(blob, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		pan := CanonicalizePAN(m[1])
		if _, ok := seen[pan]; ok {
			continue
		}
		seen[pan] = struct{}{}
		out = append(out, pan)
	}
	return out
}

// NormalizeName applies NFC, turns punctuation into spaces, collapses
// whitespace and lower-cases. Devanagari vowel signs survive.
func NormalizeName(s string) string {
	if s == "" {
		return ""
	}
	s = stripPunct(norm.NFC.String(s))
	return strings.ToLower(collapseSpace(s))
}

// IsDevanagari reports whether s contains any rune from the Devanagari block.
func IsDevanagari(s string) bool {
	for _, r := range s {
		if isDevanagariRune(r) {
			return true
		}
	}
	return false
}

// DetectScript classifies s as devanagari or latin.
func DetectScript(s string) string {
	if IsDevanagari(s) {
		return ScriptDevanagari
	}
	return ScriptLatin
}

// ExtractNames pulls party names out of a free-text buyer or seller blob.
// Marathi "नाव:-" fields are preferred; otherwise the blob is split on party
// markers like "1):" and short fragments are kept whole. At most three
// normalised, distinct names are returned.
func ExtractNames(blob string) []string {
	if strings.TrimSpace(blob) == "" {
		return nil
	}
	var candidates []string
	for _, m := range nameMarker.FindAllStringSubmatch(blob, -1) {
		candidates = append(candidates, NormalizeName(m[1]))
	}
	if len(candidates) == 0 {
		for _, part := range partySplit.Split(blob, -1) {
			words := strings.Fields(stripPunct(part))
			if len(words) >= 1 && len(words) <= 6 {
				candidates = append(candidates, NormalizeName(strings.Join(words, " ")))
			}
		}
	}
	return dedupe(candidates, maxNamesPerBlob)
}

func dedupe(in []string, limit int) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if keepRune(r) {
			return r
		}
		return ' '
	}, s)
}

func keepRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) ||
		unicode.IsSpace(r) || r == '_' || isDevanagariRune(r)
}

func isDevanagariRune(r rune) bool {
	return r >= 0x0900 && r <= 0x097F
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
