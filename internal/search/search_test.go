package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
)

func testGraph(t *testing.T, name string) *graph.Graph {
	t.Helper()
	id := graph.Identity{Name: name, Version: "1.0.0", Revision: 57}
	b := graph.NewBuilder(id)
	b.SetFingerprint(graph.NewFingerprint(id, []byte(name)))
	root := b.Add(graph.NoID, graph.Item{Kind: graph.KindModule, RawKind: "mod", Name: graph.NormalizeName(name)})
	coll := b.Add(root, graph.Item{Kind: graph.KindModule, RawKind: "mod", Name: "collections", Docs: "Collection types."})
	hm := b.Add(coll, graph.Item{
		Kind: graph.KindType, RawKind: "struct", Name: "HashMap",
		Signature: "struct HashMap<K, V>",
		Docs:      "A hash map implemented with quadratic probing.",
	})
	b.Add(hm, graph.Item{
		Kind: graph.KindFunction, RawKind: "fn", Name: "insert",
		Signature: "fn insert(&mut self, k: K, v: V) -> Option<V>",
		Docs:      "Inserts a key-value pair into the map.",
	})
	impl := b.Add(hm, graph.Item{Kind: graph.KindTraitImpl, RawKind: "impl", Name: "impl Debug for HashMap"})
	b.Add(impl, graph.Item{Kind: graph.KindFunction, RawKind: "fn", Name: "fmt", Docs: "Formats the map."})
	b.Add(root, graph.Item{
		Kind: graph.KindFunction, RawKind: "fn", Name: "map_keys",
		Signature: "fn map_keys(m: &HashMap) -> Keys",
		Docs:      "Returns the keys of a [`HashMap`].",
	})
	b.Add(root, graph.Item{Kind: graph.KindReexport, RawKind: "use", Name: "Map", Target: &graph.Target{Kind: graph.TargetLocal, ID: hm}})
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func names(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.PathString()
	}
	return out
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"HashMap::insert", []string{"hashmap", "hash", "map", "insert"}},
		{"parseHTTPResponse", []string{"parsehttpresponse", "parse", "http", "response"}},
		{"snake_case name", []string{"snake", "case", "name"}},
		{"a b cd", []string{"cd"}},
		{"Map map MAP", []string{"map"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in, DefaultMinTokenLength))
		})
	}
}

func TestQuery_Ranking(t *testing.T) {
	t.Parallel()
	idx, err := Build(context.Background(), testGraph(t, "std"), Options{})
	require.NoError(t, err)

	hits := idx.Query("hashmap", 0)
	require.NotEmpty(t, hits)
	assert.Equal(t, "collections::HashMap", hits[0].PathString(), "name match outranks path and docs")
	assert.Equal(t, []string{"collections::HashMap", "collections::HashMap::insert", "map_keys"}, names(hits))

	assert.Empty(t, idx.Query("hashmap nonexistent", 0), "every token must match")
	assert.Empty(t, idx.Query("x", 0), "tokens below the minimum length are ignored")
	assert.Empty(t, idx.Query("fmt", 0), "trait impl members are not indexed")
	assert.Len(t, idx.Query("hashmap", 1), 1)
}

func TestQuery_ExactNameFirst(t *testing.T) {
	t.Parallel()
	id := graph.Identity{Name: "demo", Version: "1.0.0", Revision: 57}
	b := graph.NewBuilder(id)
	b.SetFingerprint(graph.NewFingerprint(id, []byte("demo")))
	root := b.Add(graph.NoID, graph.Item{Kind: graph.KindModule, RawKind: "mod", Name: "demo"})
	b.Add(root, graph.Item{Kind: graph.KindType, RawKind: "struct", Name: "HashMap"})
	maps := b.Add(root, graph.Item{Kind: graph.KindModule, RawKind: "mod", Name: "maps"})
	b.Add(maps, graph.Item{Kind: graph.KindType, RawKind: "struct", Name: "Map"})
	g, err := b.Build()
	require.NoError(t, err)

	idx, err := Build(context.Background(), g, DefaultOptions())
	require.NoError(t, err)

	for _, q := range []string{"map", "Map", " MAP "} {
		hits := idx.Query(q, 0)
		require.Len(t, hits, 2, q)
		assert.Equal(t, "maps::Map", hits[0].PathString(), q)
		assert.Greater(t, hits[0].Score, hits[1].Score, q)
	}

	noExact := DefaultOptions()
	noExact.Weights.Exact = 0
	idx, err = Build(context.Background(), g, noExact)
	require.NoError(t, err)
	assert.Equal(t, "HashMap", idx.Query("map", 0)[0].PathString(), "without the bonus the shorter path wins the tie")
}

func TestQuery_Idempotent(t *testing.T) {
	t.Parallel()
	idx, err := Build(context.Background(), testGraph(t, "std"), DefaultOptions())
	require.NoError(t, err)
	first := idx.Query("map", 0)
	for range 5 {
		assert.Equal(t, first, idx.Query("map", 0))
	}
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()
	g := testGraph(t, "std")
	a, err := Build(context.Background(), g, DefaultOptions())
	require.NoError(t, err)
	b, err := Build(context.Background(), g, DefaultOptions())
	require.NoError(t, err)

	sa, err := Serialize(a)
	require.NoError(t, err)
	sb, err := Serialize(b)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
}

func TestBuild_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idx, err := Build(ctx, testGraph(t, "std"), DefaultOptions())
	assert.Nil(t, idx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerialize_RoundTrip(t *testing.T) {
	t.Parallel()
	g := testGraph(t, "std")
	idx, err := Build(context.Background(), g, DefaultOptions())
	require.NoError(t, err)

	data, err := Serialize(idx)
	require.NoError(t, err)
	back, err := Deserialize(data, g.Fingerprint(), DefaultOptions())
	require.NoError(t, err)

	for _, q := range []string{"map", "hashmap insert", "collection", "keys"} {
		assert.Equal(t, idx.Query(q, 0), back.Query(q, 0), q)
	}
	assert.Equal(t, idx.Identity(), back.Identity())
	assert.True(t, back.MayContain("hashmap"))
}

func TestDeserialize_Stale(t *testing.T) {
	t.Parallel()
	g := testGraph(t, "std")
	idx, err := Build(context.Background(), g, DefaultOptions())
	require.NoError(t, err)
	data, err := Serialize(idx)
	require.NoError(t, err)

	other := g.Fingerprint()
	other.Revision = 56
	tests := map[string]struct {
		data []byte
		fp   graph.Fingerprint
		opts Options
	}{
		"fingerprint":  {data, other, DefaultOptions()},
		"token_length": {data, g.Fingerprint(), Options{MinTokenLength: 3}},
		"garbage":      {[]byte("nope"), g.Fingerprint(), DefaultOptions()},
		"truncated":    {data[:6], g.Fingerprint(), DefaultOptions()},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			back, err := Deserialize(tt.data, tt.fp, tt.opts)
			assert.Nil(t, back)
			require.ErrorIs(t, err, ErrStaleIndex)
			var se *StaleIndexError
			assert.True(t, errors.As(err, &se))
		})
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()
	a, err := Build(context.Background(), testGraph(t, "beta"), DefaultOptions())
	require.NoError(t, err)
	b, err := Build(context.Background(), testGraph(t, "alpha"), DefaultOptions())
	require.NoError(t, err)

	merged := Merge(a.Query("hashmap", 0), b.Query("hashmap", 0))
	require.Len(t, merged, 6)
	assert.Equal(t, "alpha", merged[0].Crate.Name, "crate name breaks remaining ties")
	assert.Equal(t, "beta", merged[1].Crate.Name)
	for i := 1; i < len(merged); i++ {
		assert.GreaterOrEqual(t, merged[i-1].Score, merged[i].Score)
	}

	assert.False(t, a.MayContain("zzzz"))
}
