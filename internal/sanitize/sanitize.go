package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

const (
	maxMessageLen    = 4000
	maxSuggestionLen = 2000
	maxRuleIDLen     = 200
)

// alreadyEncodedRe matches an entity we ourselves would have produced,
// so escapeHTML never double-escapes its own output and sanitization
// stays a fixed point of itself.
var alreadyEncodedRe = regexp.MustCompile(`^&(amp|lt|gt|quot|#39);`)

func escapeHTML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c == '&' {
			if loc := alreadyEncodedRe.FindStringIndex(s[i:]); loc != nil {
				b.WriteString(s[i : i+loc[1]])
				i += loc[1]
				continue
			}
			b.WriteString("&amp;")
			i++
			continue
		}
		switch c {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&#39;")
		default:
			b.WriteByte(c)
		}
		i++
	}
	return b.String()
}

func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// truncate caps s at max bytes, the "..." suffix included when cutting.
// The cut never lands inside an HTML entity escapeHTML produced or a
// multi-byte rune: a trailing partial entity/rune is dropped, so a second
// sanitization pass sees no orphaned "&" to re-escape and the truncated
// result is itself under max, keeping the whole pipeline a fixed point.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max-len("...")]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	if amp := strings.LastIndexByte(cut, '&'); amp >= 0 && !strings.ContainsRune(cut[amp:], ';') {
		cut = cut[:amp]
	}
	return cut + "..."
}

var dangerousSchemes = []struct{ from, to string }{
	{"javascript:", "javascript-blocked:"},
	{"data:", "data-blocked:"},
	{"vbscript:", "vbscript-blocked:"},
}

func rewriteDangerousSchemes(s string) string {
	lower := strings.ToLower(s)
	for _, scheme := range dangerousSchemes {
		idx := 0
		for {
			i := strings.Index(lower[idx:], scheme.from)
			if i < 0 {
				break
			}
			pos := idx + i
			s = s[:pos] + scheme.to + s[pos+len(scheme.from):]
			lower = lower[:pos] + strings.ToLower(scheme.to) + lower[pos+len(scheme.from):]
			idx = pos + len(scheme.to)
		}
	}
	return s
}

// cleanField runs the full per-field sanitization pipeline: NUL-strip,
// HTML-escape, dangerous-scheme rewrite, then truncate. Truncation runs
// last so the "..." suffix is never itself escaped; truncate's own
// entity-safe cut keeps the result stable under a repeat pass.
func cleanField(s string, maxLen int) string {
	s = stripNUL(s)
	s = escapeHTML(s)
	s = rewriteDangerousSchemes(s)
	return truncate(s, maxLen)
}

// Sanitize applies the field-level sanitization pass (HTML-escape,
// NUL-strip, truncation, dangerous-URL rewriting) to a Finding's free-text
// fields. It is idempotent: sanitizing an already-sanitized finding
// produces the same result, since every transform it applies is itself a
// fixed point on its own output.
func Sanitize(f models.Finding) models.Finding {
	out := f
	out.Message = cleanField(f.Message, maxMessageLen)
	if f.Suggestion != nil {
		s := cleanField(*f.Suggestion, maxSuggestionLen)
		out.Suggestion = &s
	}
	if f.RuleID != nil {
		r := cleanField(*f.RuleID, maxRuleIDLen)
		out.RuleID = &r
	}
	return out
}
