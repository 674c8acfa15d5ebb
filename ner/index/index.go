package index

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/biomedical-ner/ner/recognizer"

	roaring "github.com/RoaringBitmap/roaring"
	"github.com/armon/go-radix"
	"github.com/rs/zerolog"
)

// DocID is the dense id assigned to each indexed result.
type DocID uint32

// Match is an entity text found by a prefix query.
type Match struct {
	Text  string   `json:"text"`
	Docs  int      `json:"docs"`
	Types []string `json:"types"`
}

// textEntry is stored in the radix tree under the lower-cased entity text.
type textEntry struct {
	text  string // first-seen surface form
	docs  *roaring.Bitmap
	types map[string]struct{}
}

// Index is an in-memory entity index over recognition results: one roaring
// bitmap of documents per entity type and a radix tree over entity text.
type Index struct {
	mu      sync.RWMutex
	results []recognizer.Result
	byType  map[string]*roaring.Bitmap
	texts   *radix.Tree
	log     zerolog.Logger
}

// New returns an empty index.
func New(log zerolog.Logger) *Index {
	return &Index{
		byType: make(map[string]*roaring.Bitmap),
		texts:  radix.New(),
		log:    log.With().Str("component", "index").Logger(),
	}
}

// Publish implements recognizer.Sink.
func (ix *Index) Publish(_ context.Context, res recognizer.Result) error {
	ix.Add(res)
	return nil
}

// Add indexes a result and returns its document id.
func (ix *Index) Add(res recognizer.Result) DocID {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	id := DocID(len(ix.results))
	ix.results = append(ix.results, res)
	for _, sp := range res.Spans {
		bm, ok := ix.byType[sp.Type]
		if !ok {
			bm = roaring.New()
			ix.byType[sp.Type] = bm
		}
		bm.Add(uint32(id))

		key := normalize(sp.Text)
		if key == "" {
			continue
		}
		var entry *textEntry
		if v, ok := ix.texts.Get(key); ok {
			entry = v.(*textEntry)
		} else {
			entry = &textEntry{text: sp.Text, docs: roaring.New(), types: make(map[string]struct{})}
			ix.texts.Insert(key, entry)
		}
		entry.docs.Add(uint32(id))
		entry.types[sp.Type] = struct{}{}
	}

	ix.log.Debug().Uint32("doc", uint32(id)).Int("spans", len(res.Spans)).Msg("indexed result")
	return id
}

// Len returns the number of indexed results.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.results)
}

// Result returns the result stored under id.
func (ix *Index) Result(id DocID) (recognizer.Result, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if int(id) >= len(ix.results) {
		return recognizer.Result{}, false
	}
	return ix.results[id], true
}

// WithTypes returns the documents containing every listed entity type.
func (ix *Index) WithTypes(types ...string) []DocID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(types) == 0 {
		return nil
	}
	res := clone(ix.byType[types[0]])
	for _, t := range types[1:] {
		bm, ok := ix.byType[t]
		if !ok {
			return nil
		}
		res.And(bm)
	}
	return toDocIDs(res)
}

// Types lists the entity types seen so far with their document counts.
func (ix *Index) Types() map[string]uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]uint64, len(ix.byType))
	for t, bm := range ix.byType {
		out[t] = bm.GetCardinality()
	}
	return out
}

// Prefix returns entity texts starting with prefix (case-insensitive),
// optionally restricted to one entity type, in lexical order.
func (ix *Index) Prefix(prefix, entityType string, limit int) []Match {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []Match
	ix.texts.WalkPrefix(normalize(prefix), func(_ string, v interface{}) bool {
		e := v.(*textEntry)
		if entityType != "" {
			if _, ok := e.types[entityType]; !ok {
				return false
			}
		}
		types := make([]string, 0, len(e.types))
		for t := range e.types {
			types = append(types, t)
		}
		sort.Strings(types)
		out = append(out, Match{Text: e.text, Docs: int(e.docs.GetCardinality()), Types: types})
		return limit > 0 && len(out) >= limit
	})
	return out
}

// DocsWithText returns documents containing the exact entity text.
func (ix *Index) DocsWithText(text string) []DocID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	v, ok := ix.texts.Get(normalize(text))
	if !ok {
		return nil
	}
	return toDocIDs(v.(*textEntry).docs)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func clone(b *roaring.Bitmap) *roaring.Bitmap {
	if b == nil {
		return roaring.New()
	}
	c := roaring.New()
	c.Or(b) // copy
	return c
}

func toDocIDs(b *roaring.Bitmap) []DocID {
	if b == nil || b.IsEmpty() {
		return nil
	}
	ids := make([]DocID, 0, b.GetCardinality())
	it := b.Iterator()
	for it.HasNext() {
		ids = append(ids, DocID(it.Next()))
	}
	return ids
}
