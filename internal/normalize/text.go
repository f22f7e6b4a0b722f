package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var ligatures = strings.NewReplacer(
	"\ufb00", "ff",
	"\ufb01", "fi",
	"\ufb02", "fl",
	"\ufb03", "ffi",
	"\ufb04", "ffl",
	"\u00a0", " ",
)

// Fold composes text to NFC and folds full- and half-width forms. Ligatures
// are expanded; superscripts and subscripts are left alone.
func Fold(text string) string {
	return ligatures.Replace(width.Fold.String(norm.NFC.String(text)))
}

// Reconstruction counts line joins attempted and repaired while merging
// wrapped lines.
type Reconstruction struct {
	LineWrapAttempts      int `json:"line_wrap_attempts"`
	LineWrapSuccess       int `json:"line_wrap_success"`
	DehyphenationAttempts int `json:"dehyphenation_attempts"`
	DehyphenationSuccess  int `json:"dehyphenation_success"`
}

// Add accumulates o into r.
func (r *Reconstruction) Add(o Reconstruction) {
	r.LineWrapAttempts += o.LineWrapAttempts
	r.LineWrapSuccess += o.LineWrapSuccess
	r.DehyphenationAttempts += o.DehyphenationAttempts
	r.DehyphenationSuccess += o.DehyphenationSuccess
}

// endsWithHyphenatedWord reports a line broken inside a word, e.g. "require-".
func endsWithHyphenatedWord(text string) bool {
	if !strings.HasSuffix(text, "-") || len(text) < 2 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:len(text)-1])
	return unicode.IsLetter(r)
}

func startsLower(text string) bool {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(text))
	return unicode.IsLower(r)
}

func startsUpper(text string) bool {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(text))
	return unicode.IsUpper(r)
}

// Join appends next to text. A trailing hyphen is removed when the next line
// continues the word in lower case; otherwise it is kept as a compound.
func Join(text, next string, rec *Reconstruction) string {
	text = strings.TrimRight(text, " \t")
	next = strings.TrimSpace(next)
	if text == "" {
		return next
	}
	if endsWithHyphenatedWord(text) {
		rec.DehyphenationAttempts++
		if startsLower(next) {
			rec.DehyphenationSuccess++
			return text[:len(text)-1] + next
		}
		return text + next
	}
	return text + " " + next
}
