package graph

import (
	"regexp"
	"strings"
	"unicode"
)

var cyrillicLatin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "yo",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "sch", 'ъ': "",
	'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
}

var unsafeUIDChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// maxTitleSegment caps the title part of minted uids.
const maxTitleSegment = 40

// Transliterate maps Cyrillic letters to Latin, preserving case.
func Transliterate(s string) string {
	var b strings.Builder
	for _, r := range s {
		lower := unicode.ToLower(r)
		latin, ok := cyrillicLatin[lower]
		if !ok {
			b.WriteRune(r)
			continue
		}
		if lower != r {
			latin = strings.ToUpper(latin)
		}
		b.WriteString(latin)
	}
	return b.String()
}

// MintUID derives a stable uid from a node type and title:
// "Спецификация API" of type Spec becomes "SPEC-SPETSIFIKATSIYA_API".
func MintUID(nodeType, title string) string {
	safe := unsafeUIDChars.ReplaceAllString(Transliterate(title), "_")
	safe = strings.ToUpper(strings.Trim(safe, "_"))
	if len(safe) > maxTitleSegment {
		safe = strings.TrimRight(safe[:maxTitleSegment], "_")
	}
	if safe == "" {
		safe = "UNTITLED"
	}
	return strings.ToUpper(nodeType) + "-" + safe
}
