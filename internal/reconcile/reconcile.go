// Package reconcile evaluates, per prior-run comment, whether its
// findings have resolved, partially resolved, or remain unchanged, and
// drives the Open-Active -> Open-Partial -> Resolved state machine. It
// never posts anything itself; internal/report renders the decisions
// into hosting-platform payloads.
package reconcile

import (
	"strings"

	"github.com/oddessentials/odd-ai-reviewers/internal/logging"
	"github.com/oddessentials/odd-ai-reviewers/internal/sanitize"
)

// CommentState is the reconciler's per-comment state machine position.
type CommentState string

const (
	StateOpenActive  CommentState = "Open-Active"
	StateOpenPartial CommentState = "Open-Partial"
	StateResolved    CommentState = "Resolved"
)

// Decision is the per-comment outcome of one reconciliation pass.
type Decision struct {
	CommentID        string
	NextState        CommentState
	Resolved         bool
	PartiallyResolved bool
	HasMalformed     bool
	StaleMarkers     []string // markers (DedupeKeys) in the stale set S
	AllMarkers       []string // every marker the comment carries, in body order
}

// Reconcile evaluates one prior comment's markers M against the current
// stale-key set S (the set of DedupeKeys with no matching current finding
// under the proximity rule — see internal/dedup.IsStale), and emits
// privacy-safe structured log events. It never logs raw fingerprints,
// file paths, or DedupeKeys.
func Reconcile(log *logging.Logger, platform, commentID string, markers []string, malformed bool, staleSet map[string]struct{}) Decision {
	d := Decision{CommentID: commentID, AllMarkers: markers, HasMalformed: malformed}

	if malformed {
		log.Record(logging.EventCommentResolutionWarning, map[string]any{
			"platform": platform, "commentId": commentID, "reason": "malformed_marker",
		})
	}

	if len(markers) == 0 || malformed {
		d.NextState = StateOpenActive
		logResolution(log, platform, commentID, len(markers), 0, false)
		return d
	}

	var stale []string
	for _, m := range markers {
		if _, isStale := staleSet[m]; isStale {
			stale = append(stale, m)
		}
	}
	d.StaleMarkers = stale

	resolved := len(stale) == len(markers)
	if resolved {
		d.Resolved = true
		d.NextState = StateResolved
		logResolution(log, platform, commentID, len(markers), len(stale), true)
		return d
	}

	if len(stale) > 0 {
		d.PartiallyResolved = true
		d.NextState = StateOpenPartial
		logResolution(log, platform, commentID, len(markers), len(stale), false)
		return d
	}

	d.NextState = StateOpenActive
	logResolution(log, platform, commentID, len(markers), 0, false)
	return d
}

func logResolution(log *logging.Logger, platform, commentID string, fingerprintCount, staleCount int, resolved bool) {
	log.Record(logging.EventCommentResolution, map[string]any{
		"platform":         platform,
		"commentId":        commentID,
		"fingerprintCount": fingerprintCount,
		"staleCount":       staleCount,
		"resolved":         resolved,
	})
}

// ExtractMarkers is re-exported from internal/sanitize for callers that
// only import internal/reconcile; the canonical implementation (and the
// strict regex/empty-capture guard) lives in sanitize so fingerprint
// building and marker extraction stay next to each other.
func ExtractMarkers(body string) []string {
	return sanitize.ExtractMarkers(body)
}

// RewritePartialResolution strikes through the finding text tied to each
// stale marker and appends a " _(resolved)_" indicator after the struck
// text, preserving every marker byte-for-byte.
//
// Both comment shapes internal/report produces are handled: a marker
// sharing its line with the finding text, and report's actual layout —
// all finding-text lines, a blank separator, then every marker on its own
// line in the same order as the findings they belong to (see
// BuildGroupedCommentBody). In the latter shape, the Nth marker-only line
// is matched to the Nth non-blank content line above the separator;
// arbitrary user content elsewhere in the body is left untouched.
func RewritePartialResolution(body string, staleMarkers []string) string {
	if len(staleMarkers) == 0 {
		return body
	}
	stale := make(map[string]struct{}, len(staleMarkers))
	for _, m := range staleMarkers {
		stale[m] = struct{}{}
	}

	lines := strings.Split(body, "\n")
	markerRe := sanitize.MarkerLineFinder()

	var markerIdxs, contentIdxs []int
	for i, line := range lines {
		if markerRe(line) != "" {
			markerIdxs = append(markerIdxs, i)
			continue
		}
		if len(markerIdxs) == 0 && strings.TrimSpace(line) != "" {
			contentIdxs = append(contentIdxs, i)
		}
	}
	ordered := len(contentIdxs) == len(markerIdxs)

	for pos, i := range markerIdxs {
		line := lines[i]
		key := markerRe(line)
		if _, isStale := stale[key]; !isStale {
			continue
		}

		target := i
		prefix := stripMarkerSuffix(line)
		suffix := " _(resolved)_ " + markerSuffix(line)
		if prefix == "" {
			// the marker lives alone on its own line (report's layout); find
			// the finding text it belongs to.
			switch {
			case ordered:
				target = contentIdxs[pos]
			case i > 0:
				target = i - 1
			default:
				continue
			}
			prefix = lines[target]
			suffix = " _(resolved)_"
		}

		if strings.Contains(lines[target], "~~") {
			continue // already struck through on a prior run
		}
		lines[target] = "~~" + prefix + "~~" + suffix
	}
	return strings.Join(lines, "\n")
}

func stripMarkerSuffix(line string) string {
	if idx := strings.Index(line, "<!--"); idx >= 0 {
		return strings.TrimRight(line[:idx], " ")
	}
	return line
}

func markerSuffix(line string) string {
	if idx := strings.Index(line, "<!--"); idx >= 0 {
		return line[idx:]
	}
	return ""
}
