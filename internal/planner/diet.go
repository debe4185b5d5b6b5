package planner

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9\s]+`)
	whitespaceRun   = regexp.MustCompile(`\s+`)

	noMeatRequest = regexp.MustCompile(`\bohne[\s-]*fleisch\b|\bfleischlos|\bvegetar|\bvegan|\bno\s+meat\b|\bmeat[\s-]*free\b|\bmeatless\b`)
)

// Substring keywords, matched anywhere on normalised text ("rinderbruhe", "schweinefilet").
var meatStems = []string{
	"hahnchen", "huhn", "pute", "rind", "schwein", "hackfleisch", "fleisch",
	"salami", "schinken", "wurst", "speck",
	"chicken", "beef", "pork", "turkey", "bacon",
}

// Keywords that only count at the start of a word ("Lammkeule", "Entenbrust"); inside
// words they hit "Flammkuchen" or "al dente".
var meatWordStarts = regexp.MustCompile(`\b(?:lamm|kalb|ente|gans|lamb|duck)`)

// Whole-word keywords; as substrings they would hit unrelated words ("champignon" has "ham").
var meatWords = regexp.MustCompile(`\b(?:ham|veal)\b`)

// Removed before scanning. Only the whole egg words: "Hühnereintopf" is still chicken.
var meatFalseFriends = regexp.MustCompile(`\bhuhnerei(?:er|ern)?\b|fleischtomate`)

// Word beginnings that make a hit plant-based ("Tofuwurst", "Sojahack").
var plantPrefixes = []string{"tofu", "soja", "seitan", "veggie", "vegan", "vegetar"}

// normalizeText lowercases s and strips diacritics ("Hähnchen" -> "hahnchen").
func normalizeText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// normalizeMealName reduces a dish name to its comparable key.
func normalizeMealName(name string) string {
	s := nonAlphanumeric.ReplaceAllString(normalizeText(name), " ")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// requestsNoMeat reports whether the free-text notes ask for a meat-free plan.
func requestsNoMeat(notes string) bool {
	if strings.TrimSpace(notes) == "" {
		return false
	}
	return noMeatRequest.MatchString(normalizeText(notes))
}

// hasFreeSuffix reports whether the keyword ending at rest is qualified as "free of",
// e.g. "fleischfrei", "fleischlose" or "meat-free".
func hasFreeSuffix(rest string) bool {
	for _, suffix := range []string{"frei", "free", "los", "-frei", "-free", " free"} {
		if strings.HasPrefix(rest, suffix) {
			return true
		}
	}
	return false
}

func isNotLetter(r rune) bool { return !unicode.IsLetter(r) }

// wordStart returns the byte offset where the word containing text[i] begins.
func wordStart(text string, i int) int {
	j := strings.LastIndexFunc(text[:i], isNotLetter)
	if j < 0 {
		return 0
	}
	_, size := utf8.DecodeRuneInString(text[j:])
	return j + size
}

// previousWord returns the word before offset i, skipping spaces and hyphens.
func previousWord(text string, i int) string {
	before := strings.TrimRightFunc(text[:i], isNotLetter)
	return before[wordStart(before, len(before)):]
}

// qualifiedHit reports whether the keyword at text[start:end] does not name meat:
// "fleischfrei", "ohne Fleisch", "vegane Wurst" or "Tofuwurst".
func qualifiedHit(text string, start, end int) bool {
	if hasFreeSuffix(text[end:]) {
		return true
	}
	ws := wordStart(text, start)
	word := text[ws:]
	for _, prefix := range plantPrefixes {
		if strings.HasPrefix(word, prefix) {
			return true
		}
	}
	prev := previousWord(text, ws)
	return prev == "ohne" || strings.HasPrefix(prev, "kein") ||
		strings.HasPrefix(prev, "vegan") || strings.HasPrefix(prev, "vegetar")
}

// containsMeat scans meal names, descriptions, recipes and ingredient names for meat keywords.
func containsMeat(day DayPlan) bool {
	var b strings.Builder
	for _, m := range day.Meals {
		b.WriteString(m.Name)
		b.WriteByte('\n')
		b.WriteString(m.Description)
		b.WriteByte('\n')
		b.WriteString(m.Recipe)
		b.WriteByte('\n')
		for _, ing := range m.Ingredients {
			b.WriteString(ing.Name)
			b.WriteByte('\n')
		}
	}
	text := meatFalseFriends.ReplaceAllString(normalizeText(b.String()), " ")

	for _, stem := range meatStems {
		for offset := 0; ; {
			idx := strings.Index(text[offset:], stem)
			if idx < 0 {
				break
			}
			start := offset + idx
			end := start + len(stem)
			if !qualifiedHit(text, start, end) {
				return true
			}
			offset = end
		}
	}
	for _, re := range []*regexp.Regexp{meatWordStarts, meatWords} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if !qualifiedHit(text, loc[0], loc[1]) {
				return true
			}
		}
	}
	return false
}
