package update

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(vals ...string) []ModuleID {
	out := make([]ModuleID, len(vals))
	for i, v := range vals {
		out[i] = ModuleID(v)
	}
	return out
}

var equateEmpty = cmpopts.EquateEmpty()

func TestMerge_AddedThenDeletedCancels(t *testing.T) {
	sets := [][]ModuleID{nil, ids("a"), ids("a", "b", "c")}
	for _, s := range sets {
		got, err := Merge(Added{Modules: s}, Deleted{Modules: s})
		require.NoError(t, err)
		assert.Nil(t, got, "added(%v)+deleted(%v)", s, s)

		got, err = Merge(Deleted{Modules: s}, Added{Modules: s})
		require.NoError(t, err)
		assert.Nil(t, got, "deleted(%v)+added(%v)", s, s)
	}
}

func TestMerge_AddedThenDeletedCancelsEvenWithDifferentModules(t *testing.T) {
	got, err := Merge(Added{Modules: ids("a")}, Deleted{Modules: ids("b")})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMerge_DeletedThenAddedSymmetricDifference(t *testing.T) {
	got, err := Merge(Deleted{Modules: ids("a", "b")}, Added{Modules: ids("b", "c")})
	require.NoError(t, err)

	want := Partial{Added: ids("c"), Deleted: ids("a")}
	if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
		t.Fatalf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_PartialPartial(t *testing.T) {
	tests := []struct {
		name string
		a, b Partial
		want Partial
	}{
		{
			name: "disjoint unions",
			a:    Partial{Added: ids("1"), Deleted: ids("2")},
			b:    Partial{Added: ids("3"), Deleted: ids("4")},
			want: Partial{Added: ids("1", "3"), Deleted: ids("2", "4")},
		},
		{
			name: "later add overrides pending delete",
			a:    Partial{Deleted: ids("1")},
			b:    Partial{Added: ids("1")},
			want: Partial{Added: ids("1")},
		},
		{
			name: "later delete of an added module cancels both",
			a:    Partial{Added: ids("1")},
			b:    Partial{Deleted: ids("1")},
			want: Partial{},
		},
		{
			name: "later delete keeps unrelated deletions",
			a:    Partial{Added: ids("1"), Deleted: ids("2")},
			b:    Partial{Deleted: ids("1", "3")},
			want: Partial{Deleted: ids("2", "3")},
		},
		{
			name: "empty partials stay empty",
			a:    Partial{},
			b:    Partial{},
			want: Partial{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Merge(tt.a, tt.b)
			require.NoError(t, err)
			require.NotNil(t, got, "partial+partial never cancels to nil")
			if diff := cmp.Diff(tt.want, got, equateEmpty); diff != "" {
				t.Fatalf("Merge mismatch (-want +got):\n%s", diff)
			}
			p := got.(Partial)
			for _, id := range p.Added {
				assert.NotContains(t, p.Deleted, id, "module in both added and deleted")
			}
		})
	}
}

func TestMerge_AddedPartial(t *testing.T) {
	got, err := Merge(Added{Modules: ids("1", "2")}, Partial{Added: ids("3", "1"), Deleted: ids("2")})
	require.NoError(t, err)

	want := Added{Modules: ids("1", "3")}
	if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
		t.Fatalf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_PartialDeleted(t *testing.T) {
	got, err := Merge(Partial{Added: ids("new"), Deleted: ids("old")}, Deleted{Modules: ids("base", "new")})
	require.NoError(t, err)

	want := Deleted{Modules: ids("base")}
	if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
		t.Fatalf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_OrderMatters(t *testing.T) {
	ab, err := Merge(Added{Modules: ids("1")}, Partial{Added: ids("2")})
	require.NoError(t, err)
	assert.Equal(t, KindAdded, ab.Kind())

	_, err = Merge(Partial{Added: ids("2")}, Added{Modules: ids("1")})
	require.Error(t, err)
}

func TestMerge_InvalidCombinations(t *testing.T) {
	pairs := [][2]ChunkUpdate{
		{Added{}, Added{}},
		{Deleted{}, Deleted{}},
		{Deleted{}, Partial{}},
		{Partial{}, Added{}},
		{Added{}, nil},
		{nil, Deleted{}},
	}
	for _, p := range pairs {
		got, err := Merge(p[0], p[1])
		assert.Nil(t, got)

		var iv *InvariantViolation
		require.True(t, errors.As(err, &iv), "expected InvariantViolation for %T+%T, got %v", p[0], p[1], err)
		assert.Equal(t, kindOf(p[0]), iv.Prev)
		assert.Equal(t, kindOf(p[1]), iv.Next)
		assert.Contains(t, err.Error(), "invariant violation")
	}
}

func TestFold_MatchesRepeatedPairwiseMerge(t *testing.T) {
	u1 := Partial{Added: ids("1", "2"), Deleted: ids("9")}
	u2 := Partial{Added: ids("3"), Deleted: ids("1")}
	u3 := Partial{Added: ids("9"), Deleted: ids("3", "4")}

	step, err := Merge(u1, u2)
	require.NoError(t, err)
	stepwise, err := Merge(step, u3)
	require.NoError(t, err)

	folded, err := Fold(u1, u2, u3)
	require.NoError(t, err)

	if diff := cmp.Diff(stepwise, folded, equateEmpty); diff != "" {
		t.Fatalf("Fold differs from pairwise merge (-pairwise +fold):\n%s", diff)
	}
	want := Partial{Added: ids("2", "9"), Deleted: ids("4")}
	if diff := cmp.Diff(want, folded, equateEmpty); diff != "" {
		t.Fatalf("Fold mismatch (-want +got):\n%s", diff)
	}

	// Reproducible across runs
	again, err := Fold(u1, u2, u3)
	require.NoError(t, err)
	assert.Equal(t, folded, again)
}

func TestFold_RestartsAfterCancellation(t *testing.T) {
	got, err := Fold(Added{Modules: ids("1")}, Deleted{Modules: ids("1")}, Added{Modules: ids("2")})
	require.NoError(t, err)
	if diff := cmp.Diff(Added{Modules: ids("2")}, got, equateEmpty); diff != "" {
		t.Fatalf("Fold mismatch (-want +got):\n%s", diff)
	}

	got, err = Fold()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMergeList_DropsCancelledAndEmptyChunks(t *testing.T) {
	a := ChunkListUpdate{Chunks: Chunks{
		"a.js": Partial{Added: ids("1")},
		"b.js": Added{Modules: ids("x")},
		"c.js": Deleted{Modules: ids("y")},
	}}
	b := ChunkListUpdate{Chunks: Chunks{
		"a.js": Partial{Deleted: ids("1")},
		"b.js": Deleted{Modules: ids("x")},
		"d.js": Added{Modules: ids("z")},
	}}

	got, err := MergeList(a, b)
	require.NoError(t, err)

	want := ChunkListUpdate{Chunks: Chunks{
		"c.js": Deleted{Modules: ids("y")},
		"d.js": Added{Modules: ids("z")},
	}}
	if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
		t.Fatalf("MergeList mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeList_AllCancelledLeavesNoChunks(t *testing.T) {
	a := ChunkListUpdate{Chunks: Chunks{"a.js": Partial{Added: ids("1")}}}
	b := ChunkListUpdate{Chunks: Chunks{"a.js": Partial{Deleted: ids("1")}}}

	got, err := MergeList(a, b)
	require.NoError(t, err)
	assert.NotContains(t, got.Chunks, ChunkPath("a.js"))
	assert.True(t, got.IsEmpty())
}

func TestMergeList_OneSidedChunksCarryThrough(t *testing.T) {
	only := Chunks{"a.js": Added{Modules: ids("1")}}

	got, err := MergeList(ChunkListUpdate{Chunks: only}, ChunkListUpdate{})
	require.NoError(t, err)
	assert.Equal(t, only, got.Chunks)

	got, err = MergeList(ChunkListUpdate{}, ChunkListUpdate{Chunks: only})
	require.NoError(t, err)
	assert.Equal(t, only, got.Chunks)
}

func TestMergeList_InvariantViolationNamesChunk(t *testing.T) {
	a := ChunkListUpdate{Chunks: Chunks{"a.js": Added{}}}
	b := ChunkListUpdate{Chunks: Chunks{"a.js": Added{}}}

	_, err := MergeList(a, b)
	var iv *InvariantViolation
	require.ErrorAs(t, err, &iv)
	assert.Contains(t, err.Error(), "a.js")
}

func TestMergeList_FoldsMergedPayloads(t *testing.T) {
	a := ChunkListUpdate{Merged: []MergedUpdate{
		{
			Entries: map[ModuleID]ModuleEntry{"1": {Code: "v1"}, "2": {Code: "v1"}},
			Chunks:  Chunks{"a.js": Partial{Added: ids("1")}},
		},
		{
			Entries: map[ModuleID]ModuleEntry{"2": {Code: "v2"}},
		},
	}}
	b := ChunkListUpdate{Merged: []MergedUpdate{
		{
			Entries: map[ModuleID]ModuleEntry{"1": {Code: "v3"}},
			Chunks: Chunks{
				"a.js": Partial{Added: ids("3")},
				"b.js": Deleted{Modules: ids("4")},
			},
		},
	}}

	got, err := MergeList(a, b)
	require.NoError(t, err)
	require.Len(t, got.Merged, 1)

	want := MergedUpdate{
		Entries: map[ModuleID]ModuleEntry{"1": {Code: "v3"}, "2": {Code: "v2"}},
		Chunks: Chunks{
			"a.js": Partial{Added: ids("1", "3")},
			"b.js": Deleted{Modules: ids("4")},
		},
	}
	if diff := cmp.Diff(want, got.Merged[0], equateEmpty); diff != "" {
		t.Fatalf("merged payload mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeList_EmptyMergedPayloadIsOmitted(t *testing.T) {
	a := ChunkListUpdate{Merged: []MergedUpdate{{Chunks: Chunks{"a.js": Added{Modules: ids("1")}}}}}
	b := ChunkListUpdate{Merged: []MergedUpdate{{Chunks: Chunks{"a.js": Deleted{Modules: ids("1")}}}}}

	got, err := MergeList(a, b)
	require.NoError(t, err)
	assert.Nil(t, got.Merged)
}

func TestMergeList_OneSidedMergedCarriesThrough(t *testing.T) {
	m := []MergedUpdate{{Entries: map[ModuleID]ModuleEntry{"1": {Code: "x"}}}, {}}

	got, err := MergeList(ChunkListUpdate{Merged: m}, ChunkListUpdate{})
	require.NoError(t, err)
	assert.Equal(t, m, got.Merged)
}

func TestMergeList_DoesNotMutateInputs(t *testing.T) {
	a := ChunkListUpdate{Chunks: Chunks{"a.js": Partial{Added: ids("1")}}}
	b := ChunkListUpdate{Chunks: Chunks{"a.js": Partial{Added: ids("2")}}}

	_, err := MergeList(a, b)
	require.NoError(t, err)
	assert.Equal(t, Partial{Added: ids("1")}, a.Chunks["a.js"])
	assert.Equal(t, Partial{Added: ids("2")}, b.Chunks["a.js"])
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "added", KindAdded.String())
	assert.Equal(t, "deleted", KindDeleted.String())
	assert.Equal(t, "partial", KindPartial.String())
	assert.Equal(t, "kind(0)", Kind(0).String())
}
