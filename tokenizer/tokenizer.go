// Package tokenizer turns raw document text into the sparse (term_id, tf)
// vectors segment.DocVector and the growing log actually store, plus the
// process-wide term vocabulary that assigns each distinct term a stable
// numeric id.
package tokenizer

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"bm25idx/segment"
)

// Tokenizer splits a document's text into a stream of terms. Implementations
// are registered by name in the package registry so callers (principally
// bm25index, through Config.Tokenizer) can select one without importing every
// implementation directly.
type Tokenizer interface {
	Tokenize(text string) []string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Tokenizer{}
)

// Register adds a tokenizer under name, overwriting any previous
// registration -- the same "last registration wins" convention
// database/sql drivers follow.
func Register(name string, t Tokenizer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = t
}

// Lookup returns the tokenizer registered under name, or ok=false if none
// was registered.
func Lookup(name string) (Tokenizer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := registry[name]
	return t, ok
}

// Whitespace is the reference Tokenizer: lowercase, split on anything that
// isn't a letter or digit. It is registered under the name "whitespace" at
// package init so a fresh index can always find a usable default.
type Whitespace struct{}

// Tokenize implements Tokenizer.
func (Whitespace) Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func init() {
	Register("whitespace", Whitespace{})
}

// Vocabulary assigns every distinct term a stable, process-lifetime-unique
// term_id, growing monotonically as new terms are seen. Vocabulary does
// not persist itself; bm25index is responsible for saving and restoring it
// alongside the catalog, since term ids must stay stable across reopens
// for sealed-segment term-info tables to remain valid.
type Vocabulary struct {
	mu     sync.RWMutex
	termID map[string]uint32
	terms  []string
}

// NewVocabulary returns an empty vocabulary.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{termID: make(map[string]uint32)}
}

// Intern returns term's id, assigning it the next sequential id on first
// sight.
func (v *Vocabulary) Intern(term string) uint32 {
	v.mu.RLock()
	if id, ok := v.termID[term]; ok {
		v.mu.RUnlock()
		return id
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.termID[term]; ok {
		return id
	}
	id := uint32(len(v.terms))
	v.termID[term] = id
	v.terms = append(v.terms, term)
	return id
}

// Lookup returns the id already assigned to term, without assigning a new
// one.
func (v *Vocabulary) Lookup(term string) (uint32, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.termID[term]
	return id, ok
}

// Term returns the term string interned under id, or "" if id is out of
// range.
func (v *Vocabulary) Term(id uint32) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if int(id) >= len(v.terms) {
		return ""
	}
	return v.terms[id]
}

// Len reports how many distinct terms have been interned.
func (v *Vocabulary) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.terms)
}

// Snapshot returns every interned term in id order, for persistence.
func (v *Vocabulary) Snapshot() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}

// Restore repopulates the vocabulary from a previously saved Snapshot, in
// id order (terms[i] must resolve to id i).
func Restore(terms []string) *Vocabulary {
	v := &Vocabulary{termID: make(map[string]uint32, len(terms)), terms: append([]string(nil), terms...)}
	for i, t := range terms {
		v.termID[t] = uint32(i)
	}
	return v
}

// ToDocVector tokenizes text with tok, interns every distinct term into
// vocab, and folds repeats into a single TermFreq per term -- the sparse
// vector Insert appends to the growing segment. Terms are emitted in
// ascending term_id order, the sorted-unique-indexes shape the sparse
// vector invariant requires.
func ToDocVector(tok Tokenizer, vocab *Vocabulary, docID uint32, text string) segment.DocVector {
	counts := make(map[uint32]uint32)
	order := make([]uint32, 0)
	for _, term := range tok.Tokenize(text) {
		id := vocab.Intern(term)
		if _, seen := counts[id]; !seen {
			order = append(order, id)
		}
		counts[id]++
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	terms := make([]segment.TermFreq, len(order))
	for i, id := range order {
		terms[i] = segment.TermFreq{TermID: id, TF: counts[id]}
	}
	return segment.DocVector{DocID: docID, Terms: terms}
}
