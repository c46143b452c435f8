// Package cache implements the orchestrator's fingerprint-keyed
// AgentResult cache: an interface over a keyed map with TTL, plus an
// in-memory reference implementation and a JSON-file-backed one. The
// engine treats the store as a leaf; persistence mechanics stay out of
// the review logic.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// Store is the keyed map the orchestrator consults before and after
// running an agent. Implementations must provide single-writer-per-key
// semantics; the in-memory and JSON-file implementations here satisfy
// that with a mutex.
type Store interface {
	Get(key string) (models.AgentResult, bool)
	Set(key string, result models.AgentResult, ttl time.Duration)
}

// FileStat is the subset of a DiffFile the cache key is computed over —
// just enough to distinguish "the same file was reviewed again" from "the
// diff changed", without pulling in the full Hunk structure.
type FileStat struct {
	Path      models.CanonicalPath
	Status    models.FileStatus
	Additions uint
	Deletions uint
}

// Key computes the cache key fingerprint of
// (agentId, effectiveModel, provider, sorted file stats, diff-content
// fingerprint), matching the agent orchestrator's cache-lookup step.
func Key(agentID, effectiveModel, provider string, files []FileStat, diffContentFingerprint string) string {
	sorted := append([]FileStat{}, files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", agentID, effectiveModel, provider)
	for _, f := range sorted {
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\x00", f.Path, f.Status, f.Additions, f.Deletions)
	}
	fmt.Fprintf(h, "%s", diffContentFingerprint)
	return hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	result    models.AgentResult
	expiresAt time.Time
}

// MemoryStore is an in-memory Store, the default used in tests and for a
// single-process run with no persistence configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]entry{}}
}

func (s *MemoryStore) Get(key string) (models.AgentResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return models.AgentResult{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return models.AgentResult{}, false
	}
	return e.result, true
}

func (s *MemoryStore) Set(key string, result models.AgentResult, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiresAt time.Time
	if ttl != 0 {
		expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = entry{result: result, expiresAt: expiresAt}
}

// fileRecord is the JSON-on-disk shape for FileStore entries. AgentResult
// itself is not directly JSON-friendly (it's a closed union with an
// unexported discriminant), so the store serializes through this explicit
// wire shape instead of relying on struct tags to paper over the kind.
type fileRecord struct {
	Kind            string           `json:"kind"`
	AgentID         string           `json:"agentId"`
	Findings        []models.Finding `json:"findings,omitempty"`
	Err             string           `json:"err,omitempty"`
	FailureStage    models.FailureStage `json:"failureStage,omitempty"`
	PartialFindings []models.Finding `json:"partialFindings,omitempty"`
	SkipReason      string           `json:"skipReason,omitempty"`
	Metrics         models.AgentMetrics `json:"metrics"`
	ExpiresAt       int64            `json:"expiresAt,omitempty"` // unix seconds, 0 = no TTL
}

func toFileRecord(key string, result models.AgentResult, expiresAt time.Time) fileRecord {
	rec := fileRecord{AgentID: result.AgentID, Metrics: result.Metrics}
	if !expiresAt.IsZero() {
		rec.ExpiresAt = expiresAt.Unix()
	}
	result.Visit(
		func(findings []models.Finding, m models.AgentMetrics) {
			rec.Kind = "success"
			rec.Findings = findings
		},
		func(err error, stage models.FailureStage, partial []models.Finding, m models.AgentMetrics) {
			rec.Kind = "failure"
			if err != nil {
				rec.Err = err.Error()
			}
			rec.FailureStage = stage
			rec.PartialFindings = partial
		},
		func(reason string, m models.AgentMetrics) {
			rec.Kind = "skipped"
			rec.SkipReason = reason
		},
	)
	return rec
}

func fromFileRecord(rec fileRecord) models.AgentResult {
	switch rec.Kind {
	case "success":
		return models.NewSuccess(rec.AgentID, rec.Findings, rec.Metrics)
	case "failure":
		var err error
		if rec.Err != "" {
			err = fmt.Errorf("%s", rec.Err)
		}
		return models.NewFailure(rec.AgentID, err, rec.FailureStage, rec.PartialFindings, rec.Metrics)
	default:
		return models.NewSkipped(rec.AgentID, rec.SkipReason, rec.Metrics)
	}
}

// FileStore is a JSON-file-backed Store: one file holds the entire keyed
// map, rewritten on every Set. Adequate for a single-process, one-PR-per-
// run engine; no attempt at fine-grained locking across processes.
type FileStore struct {
	mu   sync.Mutex
	path string
	data map[string]fileRecord
}

// NewFileStore loads (or initializes) a FileStore backed by path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: map[string]fileRecord{}}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("cache: reading %s: %w", path, err)
	}
	if len(b) == 0 {
		return fs, nil
	}
	if err := json.Unmarshal(b, &fs.data); err != nil {
		return nil, fmt.Errorf("cache: parsing %s: %w", path, err)
	}
	return fs, nil
}

func (s *FileStore) Get(key string) (models.AgentResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	if !ok {
		return models.AgentResult{}, false
	}
	if rec.ExpiresAt != 0 && time.Now().Unix() > rec.ExpiresAt {
		delete(s.data, key)
		s.flushLocked()
		return models.AgentResult{}, false
	}
	return fromFileRecord(rec), true
}

func (s *FileStore) Set(key string, result models.AgentResult, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	s.data[key] = toFileRecord(key, result, expiresAt)
	s.flushLocked()
}

func (s *FileStore) flushLocked() {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, b, 0o644)
}
