package domain

import (
	"fmt"

	"golang.org/x/text/language"
)

// ParseLanguage validates a BCP-47 tag and returns its canonical form.
func ParseLanguage(tag string) (string, error) {
	t, err := language.Parse(tag)
	if err != nil || t == language.Und {
		return "", fmt.Errorf("%w: %q", ErrInvalidLang, tag)
	}
	return t.String(), nil
}

// SameLanguage compares base language and script, so en-US and en-GB match
// while zh-CN and zh-TW do not.
func SameLanguage(a, b string) bool {
	ta, errA := language.Parse(a)
	tb, errB := language.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	ba, _ := ta.Base()
	bb, _ := tb.Base()
	sa, _ := ta.Script()
	sb, _ := tb.Script()
	return ba == bb && sa == sb
}

// BaseLanguage returns the tag a translation service expects, e.g. "th" for
// "th-TH" and "zh-Hant" for "zh-TW".
func BaseLanguage(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	b, _ := t.Base()
	if b.String() == "zh" {
		s, _ := t.Script()
		return "zh-" + s.String()
	}
	return b.String()
}
