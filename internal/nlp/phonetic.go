package nlp

import (
	"strings"

	"github.com/antzucaro/matchr"
	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

const virama = '्'

var (
	devVowels = map[rune]string{
		'अ': "a", 'आ': "aa", 'इ': "i", 'ई': "ii", 'उ': "u", 'ऊ': "uu",
		'ऋ': "ri", 'ए': "e", 'ऐ': "ai", 'ओ': "o", 'औ': "au", 'ऍ': "e", 'ऑ': "o",
	}
	devSigns = map[rune]string{
		'ा': "aa", 'ि': "i", 'ी': "ii", 'ु': "u", 'ू': "uu", 'ृ': "ri",
		'े': "e", 'ै': "ai", 'ो': "o", 'ौ': "au", 'ॅ': "e", 'ॉ': "o",
	}
	devConsonants = map[rune]string{
		'क': "k", 'ख': "kh", 'ग': "g", 'घ': "gh", 'ङ': "ng",
		'च': "ch", 'छ': "chh", 'ज': "j", 'झ': "jh", 'ञ': "ny",
		'ट': "t", 'ठ': "th", 'ड': "d", 'ढ': "dh", 'ण': "n",
		'त': "t", 'थ': "th", 'द': "d", 'ध': "dh", 'न': "n",
		'प': "p", 'फ': "ph", 'ब': "b", 'भ': "bh", 'म': "m",
		'य': "y", 'र': "r", 'ल': "l", 'ळ': "l", 'व': "v",
		'श': "sh", 'ष': "sh", 'स': "s", 'ह': "h",
		'\u0958': "q", '\u0959': "kh", '\u095A': "g", '\u095B': "z", '\u095C': "r", '\u095D': "rh", '\u095E': "f",
	}
	devMarks = map[rune]string{
		'ं': "n", 'ँ': "n", 'ः': "h", 'ऽ': "", '\u093C': "", '।': " ", '॥': " ",
	}
)

// DevanagariToLatin romanises Devanagari text with an ITRANS-like scheme
// (inherent "a" kept, long vowels doubled). Other runes pass through.
func DevanagariToLatin(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if c, ok := devConsonants[r]; ok {
			b.WriteString(c)
			next := rune(0)
			j := i + 1
			for j < len(runes) && runes[j] == '\u093C' {
				j++
			}
			if j < len(runes) {
				next = runes[j]
			}
			switch {
			case next == virama:
				j++
			case devSigns[next] != "":
				b.WriteString(devSigns[next])
				j++
			default:
				b.WriteByte('a')
			}
			i = j - 1
			continue
		}
		if v, ok := devVowels[r]; ok {
			b.WriteString(v)
			continue
		}
		if m, ok := devMarks[r]; ok {
			b.WriteString(m)
			continue
		}
		if r >= '०' && r <= '९' {
			b.WriteRune('0' + (r - '०'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PhoneticKey returns the Double Metaphone key of a name, romanising
// Devanagari first so both scripts share one key space. The primary code is
// preferred; the alternate is used only when the primary is empty.
func PhoneticKey(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if DetectScript(name) == ScriptDevanagari {
		name = DevanagariToLatin(name)
	}
	primary, alternate := matchr.DoubleMetaphone(name)
	if primary != "" {
		return primary
	}
	return alternate
}

// FuzzyNameScore scores two names 0-100 with a token-set ratio, so word
// order and repeated tokens do not matter. Devanagari is romanised first.
func FuzzyNameScore(a, b string) int {
	a, b = fuzzyForm(a), fuzzyForm(b)
	if a == "" || b == "" {
		return 0
	}
	return fuzzy.TokenSetRatio(a, b)
}

func fuzzyForm(name string) string {
	name = NormalizeName(name)
	if DetectScript(name) == ScriptDevanagari {
		name = DevanagariToLatin(name)
	}
	return name
}
