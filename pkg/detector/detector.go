// Package detector guesses the natural language of extracted page text.
package detector

import (
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

// minDetectChars is the shortest text worth running detection on.
const minDetectChars = 40

// maxDetectChars bounds the sample handed to lingua.
const maxDetectChars = 2000

var supported = []lingua.Language{
	lingua.English,
	lingua.German,
	lingua.French,
	lingua.Spanish,
	lingua.Portuguese,
	lingua.Italian,
	lingua.Dutch,
	lingua.Russian,
	lingua.Chinese,
	lingua.Japanese,
}

// Detector wraps a lazily built lingua detector. Building one loads
// language models, so it's deferred until the first call.
type Detector struct {
	once     sync.Once
	detector lingua.LanguageDetector
}

// New returns a Detector for a fixed set of common web languages.
func New() *Detector {
	return &Detector{}
}

// Language returns the lowercase ISO 639-1 code of text's language,
// or "" when the text is too short or no language is reliable.
func (d *Detector) Language(text string) string {
	text = strings.TrimSpace(text)
	if len(text) < minDetectChars {
		return ""
	}
	if len(text) > maxDetectChars {
		text = strings.ToValidUTF8(text[:maxDetectChars], "")
	}

	d.once.Do(func() {
		d.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(supported...).
			WithLowAccuracyMode().
			Build()
	})

	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
