package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// BM25 parameters and the per-field weights applied when a document's
// terms are counted. Title and tag matches count double.
const (
	bm25K1 = 1.2
	bm25B  = 0.75

	titleWeight = 2.0
	descWeight  = 1.0
	tagWeight   = 2.0
)

type posting struct {
	id   string
	freq float64
}

// Memory is an embedded BM25 index over the weighted record fields. It
// is the engine used when no external search backend is configured, and
// is rebuilt from the store on startup.
type Memory struct {
	mu          sync.RWMutex
	inverted    map[string][]posting
	docs        map[string]Document
	docLengths  map[string]float64
	totalLength float64
	// lastSeq carries the newest applied sequence per ID, including
	// deletes, so stale writes replayed out of order are dropped.
	lastSeq map[string]uint64
}

var _ Engine = (*Memory)(nil)

// NewMemory returns an empty in-memory engine.
func NewMemory() *Memory {
	return &Memory{
		inverted:   make(map[string][]posting),
		docs:       make(map[string]Document),
		docLengths: make(map[string]float64),
		lastSeq:    make(map[string]uint64),
	}
}

// Upsert replaces the indexed document unless a newer seq was already applied.
func (m *Memory) Upsert(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if doc.Seq != 0 && doc.Seq <= m.lastSeq[doc.ID] {
		return nil
	}
	m.removeLocked(doc.ID)

	freqs := make(map[string]float64)
	var length float64
	count := func(text string, weight float64) {
		for _, term := range Tokenize(text) {
			freqs[term] += weight
			length += weight
		}
	}
	count(doc.Title, titleWeight)
	count(doc.Description, descWeight)
	for _, tag := range doc.Tags {
		count(tag, tagWeight)
	}

	m.docs[doc.ID] = doc
	m.docLengths[doc.ID] = length
	m.totalLength += length
	for term, freq := range freqs {
		m.inverted[term] = append(m.inverted[term], posting{id: doc.ID, freq: freq})
	}
	if doc.Seq > m.lastSeq[doc.ID] {
		m.lastSeq[doc.ID] = doc.Seq
	}
	return nil
}

// Delete removes the document and records seq as a tombstone.
func (m *Memory) Delete(_ context.Context, id string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seq != 0 && seq <= m.lastSeq[id] {
		return nil
	}
	m.removeLocked(id)
	if seq > m.lastSeq[id] {
		m.lastSeq[id] = seq
	}
	return nil
}

// removeLocked drops id from the postings, doc table and length stats.
// Callers hold m.mu.
func (m *Memory) removeLocked(id string) {
	if _, ok := m.docs[id]; !ok {
		return
	}
	for term, postings := range m.inverted {
		kept := postings[:0]
		for _, p := range postings {
			if p.id != id {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(m.inverted, term)
		} else {
			m.inverted[term] = kept
		}
	}
	m.totalLength -= m.docLengths[id]
	delete(m.docLengths, id)
	delete(m.docs, id)
}

// Query scores every matching document with BM25 and returns the page
// [offset, offset+limit) ordered by score descending, ID ascending on ties.
func (m *Memory) Query(_ context.Context, text string, limit, offset int) ([]Hit, error) {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	docCount := len(m.docLengths)
	if docCount == 0 {
		return nil, nil
	}
	avgLength := m.totalLength / float64(docCount)

	scores := make(map[string]float64)
	for _, term := range terms {
		postings, ok := m.inverted[term]
		if !ok {
			continue
		}
		idf := idf(docCount, len(postings))
		for _, p := range postings {
			norm := p.freq + bm25K1*(1-bm25B+bm25B*(m.docLengths[p.id]/avgLength))
			scores[p.id] += idf * (p.freq * (bm25K1 + 1)) / norm
		}
	}
	if len(scores) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	hits := make([]Hit, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, Hit{
			ID:      id,
			Score:   scores[id],
			Snippet: MakeSnippet(m.docs[id].Description, terms),
		})
	}
	return hits, nil
}

// Ready always succeeds; the embedded engine has no external dependency.
func (m *Memory) Ready(_ context.Context) error { return nil }

// Len reports how many documents are indexed.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func idf(docCount, docFreq int) float64 {
	return math.Log(1 + (float64(docCount)-float64(docFreq)+0.5)/(float64(docFreq)+0.5))
}

// Tokenize lower-cases text and splits it on any run of characters that
// is neither a letter nor a digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
