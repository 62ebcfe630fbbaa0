package parser

import (
	"regexp"
	"strings"
)

var (
	jsonFenceOpen   = regexp.MustCompile("^\\s*```(?:json|JSON)?[ \\t]*\\n?")
	jsonFenceClose  = regexp.MustCompile("\\n?[ \\t]*```\\s*$")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// SanitizeJSON repairs the well-formedness violations language models commonly
// emit in a JSON trailer: code fences around the payload, raw newlines inside
// string literals, carriage returns and trailing commas.
//
// The repair is best effort. The result is not guaranteed to be valid JSON and
// callers must still handle a decode error.
func SanitizeJSON(s string) string {
	s = jsonFenceOpen.ReplaceAllString(s, "")
	s = jsonFenceClose.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	var b strings.Builder
	b.Grow(len(s) + 16)

	inString := false
	backslashes := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\r':
			// dropped everywhere; does not break a backslash run
			continue
		case c == '"':
			if backslashes%2 == 0 {
				inString = !inString
			}
			b.WriteByte(c)
		case c == '\n' && inString:
			b.WriteString(`\n`)
		case c == '\t' && inString:
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}

		if c == '\\' {
			backslashes++
		} else {
			backslashes = 0
		}
	}

	return trailingCommaRe.ReplaceAllString(b.String(), "$1")
}
