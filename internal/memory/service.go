// Package memory extracts durable user facts from conversation text and
// retrieves a context block for new objectives.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

const (
	retrieveTopN = 12
	retrieveCap  = 20
)

type extractor struct {
	pattern    *regexp.Regexp
	category   string
	confidence float64
	keyPrefix  string
}

// Extractors are applied in order; each match yields (category, key, value,
// confidence).
var extractors = []extractor{
	{regexp.MustCompile(`(?i)\bI prefer\s+([^.!\n]+)`), store.MemPreferences, 0.9, "prefers"},
	{regexp.MustCompile(`(?i)\bplease always\s+([^.!\n]+)`), store.MemPreferences, 0.85, "always"},
	{regexp.MustCompile(`(?i)\bthis is my workflow[:\s]+([^\n]+)`), store.MemWorkflows, 0.85, "workflow"},
	{regexp.MustCompile(`(?i)\bmy workflow (?:is|for [^:]+:)\s*([^\n]+)`), store.MemWorkflows, 0.8, "workflow"},
	{regexp.MustCompile(`(?i)\b(?:I'?m working on|my project (?:is|called))\s+([^.!\n]+)`), store.MemProjects, 0.75, "project"},
	{regexp.MustCompile(`(?i)\bremember that\s+([^.!\n]+)`), store.MemTaskStates, 0.8, "note"},
	{regexp.MustCompile(`(?i)\bactually,?\s+([^.!\n]+)`), store.MemConfirmedFacts, 0.95, "correction"},
}

// Fact is one extracted (category, key, value, confidence) tuple.
type Fact struct {
	Category   string
	Key        string
	Value      string
	Confidence float64
}

// RecordID is the stable id for one (user, category, key) tuple.
func RecordID(userID, category, key string) string {
	sum := sha256.Sum256([]byte(userID + "|" + category + "|" + key))
	return "mem_" + hex.EncodeToString(sum[:12])
}

// Extract pulls facts out of free text. Duplicate
// (category, key, lower(value)) hits keep the highest confidence.
func Extract(text string) []Fact {
	type dedupKey struct{ cat, key, val string }
	best := map[dedupKey]Fact{}
	var order []dedupKey

	for _, ex := range extractors {
		for _, m := range ex.pattern.FindAllStringSubmatch(text, -1) {
			value := strings.TrimSpace(m[1])
			if value == "" {
				continue
			}
			key := ex.keyPrefix + ":" + keySlug(value)
			f := Fact{Category: ex.category, Key: key, Value: value, Confidence: ex.confidence}
			dk := dedupKey{f.Category, f.Key, strings.ToLower(f.Value)}
			if prev, ok := best[dk]; !ok {
				best[dk] = f
				order = append(order, dk)
			} else if f.Confidence > prev.Confidence {
				best[dk] = f
			}
		}
	}

	out := make([]Fact, 0, len(order))
	for _, dk := range order {
		out = append(out, best[dk])
	}
	return out
}

// keySlug derives a short stable key from the first words of a value.
func keySlug(value string) string {
	words := strings.Fields(strings.ToLower(value))
	if len(words) > 4 {
		words = words[:4]
	}
	slug := strings.Join(words, "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}

// Service is the memory ingest/retrieve facade over the repository.
type Service struct {
	db   *store.DB
	home string
}

// New creates a memory Service.
func New(db *store.DB, home string) *Service {
	return &Service{db: db, home: home}
}

// Ingest extracts facts from text and upserts them for the user. Returns how
// many records were written. Ingesting the same text twice is idempotent.
func (s *Service) Ingest(userID, runID, text string) (int, error) {
	facts := Extract(text)
	for _, f := range facts {
		rec := &store.MemoryRecord{
			RecordID:    RecordID(userID, f.Category, f.Key),
			UserID:      userID,
			Category:    f.Category,
			Key:         f.Key,
			Value:       f.Value,
			Confidence:  f.Confidence,
			SourceRunID: runID,
		}
		if err := s.db.UpsertMemory(rec); err != nil {
			return 0, fmt.Errorf("ingest memory: %w", err)
		}
	}
	if len(facts) > 0 {
		s.db.AppendEvent(runID, store.EventMemoryIngested, map[string]any{
			"user_id": userID, "count": len(facts),
		})
	}
	return len(facts), nil
}

// RetrieveContext scores the user's records against an objective and returns
// a context block of the best matches. Score: 2·tokenHits + confidence +
// updatedAt/1e13.
func (s *Service) RetrieveContext(userID, objective string) (string, error) {
	records, err := s.db.ListMemory(userID, "")
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}

	tokens := objectiveTokens(objective)

	type scored struct {
		rec   *store.MemoryRecord
		score float64
	}
	var ranked []scored
	for _, rec := range records {
		hits := 0
		hay := strings.ToLower(rec.Key + " " + rec.Value)
		for tok := range tokens {
			if strings.Contains(hay, tok) {
				hits++
			}
		}
		score := float64(2*hits) + rec.Confidence + float64(rec.UpdatedAt.UnixMilli())/1e13
		ranked = append(ranked, scored{rec, score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	n := retrieveTopN
	if n > len(ranked) {
		n = len(ranked)
	}
	if n > retrieveCap {
		n = retrieveCap
	}

	var b strings.Builder
	b.WriteString("Relevant memory:\n")
	for _, sc := range ranked[:n] {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", sc.rec.Category, sc.rec.Key, sc.rec.Value)
	}
	return b.String(), nil
}

func objectiveTokens(objective string) map[string]bool {
	tokens := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(objective)) {
		w = strings.Trim(w, ".,!?:;\"'()")
		if len(w) >= 3 {
			tokens[w] = true
		}
	}
	return tokens
}
