package sanitize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

const (
	maxRedactedFiles = 50
	maxRedactedLines = 2000
)

// builtinSecretRes are the always-applied redaction rules: prefix-style
// bearer tokens and GITHUB_TOKEN=-style env assignments. These run
// regardless of whether the gitleaks detector initialized.
var builtinSecretRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)[A-Za-z0-9._\-]+`),
	regexp.MustCompile(`(?i)([A-Z_]*(?:TOKEN|SECRET|API_KEY|PASSWORD)[A-Z_]*\s*=\s*)\S+`),
}

func redactBuiltinPatterns(line string) string {
	out := line
	for _, re := range builtinSecretRes {
		out = re.ReplaceAllString(out, "$1[REDACTED]")
	}
	return out
}

// gitleaksDetector is built lazily and cached; if it fails to initialize
// (e.g. its embedded default ruleset cannot be loaded) the redaction falls
// back to the built-in patterns only; gitleaks is strictly additive,
// never a single point of failure for the core sanitizer.
var gitleaksDetector *detect.Detector

func init() {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		log.Warn().Err(err).Msg("gitleaks detector unavailable, falling back to built-in secret patterns only")
		return
	}
	gitleaksDetector = d
}

// redactGitleaks additionally blanks out any substring gitleaks' rule pack
// (AWS keys, PEM blocks, generic high-entropy secrets, …) flags within a
// single line, on top of the built-in patterns above.
func redactGitleaks(line string) string {
	if gitleaksDetector == nil {
		return line
	}
	findings := gitleaksDetector.DetectString(line)
	out := line
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		out = strings.ReplaceAll(out, f.Secret, "[REDACTED]")
	}
	return out
}

// RedactedFile is one file's line content after redaction, ready to be
// rendered into an LLM prompt.
type RedactedFile struct {
	Path  models.CanonicalPath
	Lines []string
}

// RedactionSummary documents which cap (if any) truncated the diff shown
// to the agent, and the original counts before truncation.
type RedactionSummary struct {
	TotalFilesOriginal int
	TotalLinesOriginal int
	FilesIncluded      int
	LinesIncluded      int
	TruncatedByFiles   bool
	TruncatedByLines   bool
}

// RedactDiffForLLM redacts secret-like content from every file's lines,
// sorts files alphabetically for determinism, and caps the result at 50
// files / 2000 total lines, recording which limit (if either) was hit.
func RedactDiffForLLM(files map[models.CanonicalPath][]string) ([]RedactedFile, RedactionSummary) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)

	summary := RedactionSummary{TotalFilesOriginal: len(paths)}
	for _, p := range paths {
		summary.TotalLinesOriginal += len(files[models.CanonicalPath(p)])
	}

	var out []RedactedFile
	lineBudget := maxRedactedLines
	for i, p := range paths {
		if i >= maxRedactedFiles {
			summary.TruncatedByFiles = true
			break
		}
		if lineBudget <= 0 {
			summary.TruncatedByLines = true
			break
		}
		path := models.CanonicalPath(p)
		src := files[path]
		take := len(src)
		if take > lineBudget {
			take = lineBudget
			summary.TruncatedByLines = true
		}
		redacted := make([]string, take)
		for j := 0; j < take; j++ {
			redacted[j] = redactGitleaks(redactBuiltinPatterns(src[j]))
		}
		out = append(out, RedactedFile{Path: path, Lines: redacted})
		lineBudget -= take
		summary.FilesIncluded++
		summary.LinesIncluded += take
	}
	return out, summary
}
