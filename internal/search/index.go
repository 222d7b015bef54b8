// Package search builds and queries per-crate inverted indexes over an item
// graph.
package search

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/markdown"
)

// Field is a bit set of the item fields a token was found in.
type Field uint8

const (
	FieldName Field = 1 << iota
	FieldPath
	FieldSignature
	FieldDocs
)

// Weights are the score contributions of a query token matching each field.
// Exact is added once when the whole query equals the item name.
type Weights struct {
	Exact     int `mapstructure:"exact"`
	Name      int `mapstructure:"name"`
	Path      int `mapstructure:"path"`
	Signature int `mapstructure:"signature"`
	Docs      int `mapstructure:"docs"`
}

func DefaultWeights() Weights {
	return Weights{Exact: 16, Name: 8, Path: 4, Signature: 2, Docs: 1}
}

func (w Weights) score(f Field) int {
	s := 0
	if f&FieldName != 0 {
		s += w.Name
	}
	if f&FieldPath != 0 {
		s += w.Path
	}
	if f&FieldSignature != 0 {
		s += w.Signature
	}
	if f&FieldDocs != 0 {
		s += w.Docs
	}
	return s
}

type Options struct {
	MinTokenLength int
	Weights        Weights
}

func DefaultOptions() Options {
	return Options{MinTokenLength: DefaultMinTokenLength, Weights: DefaultWeights()}
}

func (o Options) withDefaults() Options {
	if o.MinTokenLength <= 0 {
		o.MinTokenLength = DefaultMinTokenLength
	}
	if o.Weights == (Weights{}) {
		o.Weights = DefaultWeights()
	}
	return o
}

// Posting records that a token occurs in document Doc within Fields.
type Posting struct {
	Doc    uint32 `json:"d"`
	Fields Field  `json:"f"`
}

// Doc is the indexed view of one item.
type Doc struct {
	Item graph.ID   `json:"i"`
	Name string     `json:"n"`
	Path []string   `json:"p"`
	Kind graph.Kind `json:"k"`
}

// Hit is one query result.
type Hit struct {
	Crate graph.Identity
	Item  graph.ID
	Name  string
	Path  []string
	Kind  graph.Kind
	Score int
}

func (h Hit) PathString() string {
	return strings.Join(h.Path, "::")
}

// Index is an immutable inverted index over one crate. Queries are safe for
// concurrent use.
type Index struct {
	crate    graph.Identity
	fp       graph.Fingerprint
	opts     Options
	docs     []Doc
	postings map[string][]Posting
	bitmaps  map[string]*roaring.Bitmap
	vocab    *bloom.BloomFilter
}

func (idx *Index) Identity() graph.Identity       { return idx.crate }
func (idx *Index) Fingerprint() graph.Fingerprint { return idx.fp }
func (idx *Index) Len() int                       { return len(idx.docs) }
func (idx *Index) Tokens() int                    { return len(idx.postings) }

// indexable reports whether an item gets its own document. Trait impls,
// re-exports and the members of trait impls are not indexed.
func indexable(g *graph.Graph, it *graph.Item) bool {
	switch it.Kind {
	case graph.KindTraitImpl, graph.KindReexport:
		return false
	}
	if p, ok := g.Item(it.Parent); ok && p.Kind == graph.KindTraitImpl {
		return false
	}
	return true
}

// Build indexes every documentable item of g. The result depends only on the
// graph and opts. It checks ctx between items.
func Build(ctx context.Context, g *graph.Graph, opts Options) (*Index, error) {
	opts = opts.withDefaults()
	b := newBuilder(g.Identity(), g.Fingerprint(), opts)

	for i, it := range g.All() {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !indexable(g, it) {
			continue
		}
		doc := b.addDoc(Doc{Item: it.ID, Name: it.Name, Path: slices.Clone(it.Path), Kind: it.Kind})
		b.addField(doc, FieldName, it.Name)
		for _, seg := range it.Path {
			b.addField(doc, FieldPath, seg)
		}
		b.addField(doc, FieldSignature, it.Signature)
		if it.Docs != "" {
			b.addField(doc, FieldDocs, markdown.PlainText(it.Docs))
		}
	}
	return b.finish(), nil
}

type builder struct {
	idx *Index
}

func newBuilder(crate graph.Identity, fp graph.Fingerprint, opts Options) *builder {
	return &builder{
		idx: &Index{
			crate:    crate,
			fp:       fp,
			opts:     opts,
			postings: make(map[string][]Posting),
			bitmaps:  make(map[string]*roaring.Bitmap),
		},
	}
}

func (b *builder) addDoc(d Doc) uint32 {
	b.idx.docs = append(b.idx.docs, d)
	return uint32(len(b.idx.docs) - 1)
}

func (b *builder) addField(doc uint32, f Field, text string) {
	for _, tok := range Tokenize(text, b.idx.opts.MinTokenLength) {
		b.add(tok, doc, f)
	}
}

func (b *builder) add(tok string, doc uint32, f Field) {
	list := b.idx.postings[tok]
	if n := len(list); n > 0 && list[n-1].Doc == doc {
		list[n-1].Fields |= f
		return
	}
	b.idx.postings[tok] = append(list, Posting{Doc: doc, Fields: f})
}

// finish derives the bitmaps and the vocabulary filter from the postings.
func (b *builder) finish() *Index {
	idx := b.idx
	idx.vocab = bloom.NewWithEstimates(uint(max(len(idx.postings), 1)), 0.01)
	for tok, list := range idx.postings {
		bm := roaring.New()
		for _, p := range list {
			bm.Add(p.Doc)
		}
		bm.RunOptimize()
		idx.bitmaps[tok] = bm
		idx.vocab.AddString(tok)
	}
	return idx
}

// MayContain is a cheap negative check: false means no query for text can
// match anything in this index.
func (idx *Index) MayContain(text string) bool {
	toks := Tokenize(text, idx.opts.MinTokenLength)
	if len(toks) == 0 {
		return false
	}
	for _, tok := range toks {
		if !idx.vocab.TestString(tok) {
			return false
		}
	}
	return true
}

// Query returns the items matching every token of text, best first. A limit
// of zero or less returns all matches. Querying the same index with the same
// text always yields the same hits.
func (idx *Index) Query(text string, limit int) []Hit {
	toks := Tokenize(text, idx.opts.MinTokenLength)
	if len(toks) == 0 {
		return nil
	}
	bms := make([]*roaring.Bitmap, 0, len(toks))
	for _, tok := range toks {
		bm, ok := idx.bitmaps[tok]
		if !ok {
			return nil
		}
		bms = append(bms, bm)
	}
	matched := roaring.FastAnd(bms...)
	exact := strings.Join(strings.Fields(text), " ")

	hits := make([]Hit, 0, matched.GetCardinality())
	it := matched.Iterator()
	for it.HasNext() {
		doc := it.Next()
		score := 0
		for _, tok := range toks {
			score += idx.opts.Weights.score(idx.fields(tok, doc))
		}
		d := &idx.docs[doc]
		if strings.EqualFold(exact, d.Name) {
			score += idx.opts.Weights.Exact
		}
		hits = append(hits, Hit{
			Crate: idx.crate,
			Item:  d.Item,
			Name:  d.Name,
			Path:  d.Path,
			Kind:  d.Kind,
			Score: score,
		})
	}
	slices.SortFunc(hits, compareHits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (idx *Index) fields(tok string, doc uint32) Field {
	list := idx.postings[tok]
	i := sort.Search(len(list), func(i int) bool { return list[i].Doc >= doc })
	if i < len(list) && list[i].Doc == doc {
		return list[i].Fields
	}
	return 0
}

// compareHits orders by score, then fewer path segments, then name, then
// full path, then item id, then crate name.
func compareHits(a, b Hit) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(len(a.Path), len(b.Path)); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := slices.Compare(a.Path, b.Path); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Item, b.Item); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Crate.Name, b.Crate.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Crate.Version, b.Crate.Version)
}

// Merge combines per-crate results into one ranking for an "all loaded
// crates" query. Ties that survive every other rule are broken by crate.
func Merge(results ...[]Hit) []Hit {
	n := 0
	for _, r := range results {
		n += len(r)
	}
	out := make([]Hit, 0, n)
	for _, r := range results {
		out = append(out, r...)
	}
	slices.SortFunc(out, compareHits)
	return out
}
