// Package sanitize computes finding fingerprints and sanitizes free-text
// fields and diffs before they reach a reporter or an LLM agent.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeMessage collapses whitespace runs and trims the result. This is
// the ONLY normalization applied before fingerprinting — fingerprints are
// computed on otherwise-raw text so they stay stable across the later
// HTML-escape sanitization pass.
func NormalizeMessage(msg string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(msg, " "))
}

// Fingerprint computes the first 128 bits of SHA-256 over
// (ruleId_or_empty, file, normalized_message, severity), as lowercase hex.
// crypto/sha256 is the standard library's fixed-output digest; there is no
// ecosystem replacement to reach for here.
func Fingerprint(ruleID string, file models.CanonicalPath, message string, severity models.Severity) string {
	h := sha256.New()
	h.Write([]byte(ruleID))
	h.Write([]byte{0})
	h.Write([]byte(file))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeMessage(message)))
	h.Write([]byte{0})
	h.Write([]byte(severity))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// FingerprintFinding computes and attaches a Finding's fingerprint,
// treating a nil RuleID as the empty string so rule-less findings
// still fingerprint deterministically.
func FingerprintFinding(f *models.Finding) {
	ruleID := ""
	if f.RuleID != nil {
		ruleID = *f.RuleID
	}
	f.Fingerprint = Fingerprint(ruleID, f.File, f.Message, f.Severity)
}

const markerPrefix = "odd-ai-reviewers:fingerprint:v1"

// markerRe is the strict marker wire-format regex: exactly 32 lowercase
// hex chars, no partial matches, no empty captures.
var markerRe = regexp.MustCompile(`<!--\s*` + regexp.QuoteMeta(markerPrefix) + `:([a-f0-9]{32}):([^:]+):(\d+)\s*-->`)

// BuildMarker renders the fingerprint marker HTML comment for a
// (fingerprint, file, line) triple. line 0 means file-level.
func BuildMarker(fingerprint string, file models.CanonicalPath, line int) string {
	return "<!-- " + markerPrefix + ":" + fingerprint + ":" + string(file) + ":" + strconv.Itoa(line) + " -->"
}

// ExtractMarkers scans a comment body for fingerprint markers and returns
// the DedupeKey string for each well-formed one. Malformed shapes (wrong
// hex length, empty captures) are silently skipped by construction of the
// regex — they never partially match.
func ExtractMarkers(body string) []string {
	matches := markerRe.FindAllStringSubmatch(body, -1)
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		fp, file, line := m[1], m[2], m[3]
		if fp == "" || file == "" || line == "" {
			continue
		}
		keys = append(keys, fp+":"+file+":"+line)
	}
	return keys
}

var htmlCommentRe = regexp.MustCompile(`(?s)<!--.*?-->`)

// HasMalformedMarkers reports whether body carries any marker-shaped
// content that fails the strict wire-format regex. The check is
// per-candidate, not all-or-nothing: a comment holding one well-formed
// marker and one corrupted one (e.g. truncated by a host's body-length
// limit) is malformed even though ExtractMarkers still yields the valid
// key.
func HasMalformedMarkers(body string) bool {
	total := strings.Count(body, markerPrefix)
	if total == 0 {
		return false
	}
	inComments := 0
	for _, c := range htmlCommentRe.FindAllString(body, -1) {
		n := strings.Count(c, markerPrefix)
		if n == 0 {
			continue
		}
		inComments += n
		if len(markerRe.FindAllString(c, -1)) != n {
			return true
		}
	}
	// A marker prefix outside any complete HTML comment means the comment
	// was cut off mid-marker.
	return inComments != total
}

// MarkerLineFinder returns a function that, given a single line of a
// comment body, returns the DedupeKey of the fingerprint marker it
// contains, or "" if the line carries none. Used by the reconciler's
// body rewriter to find which lines to strike through without re-scanning
// the whole body per marker.
func MarkerLineFinder() func(line string) string {
	return func(line string) string {
		m := markerRe.FindStringSubmatch(line)
		if m == nil {
			return ""
		}
		fp, file, ln := m[1], m[2], m[3]
		if fp == "" || file == "" || ln == "" {
			return ""
		}
		return fp + ":" + file + ":" + ln
	}
}
