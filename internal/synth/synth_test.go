package synth

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/latgalenlp/saskana/internal/corpus"
)

func fourTurn() corpus.Dialogue {
	return corpus.Dialogue{
		{Speaker: "A", Text: "a1"},
		{Speaker: "B", Text: "b1"},
		{Speaker: "A", Text: "a2"},
		{Speaker: "B", Text: "b2"},
	}
}

func speakers(d corpus.Dialogue) []string {
	out := make([]string, len(d))
	for i, t := range d {
		out[i] = t.Speaker
	}
	return out
}

func sortedTexts(d corpus.Dialogue) []string {
	out := d.Texts()
	sort.Strings(out)
	return out
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSynthesizeFourTurnSwap(t *testing.T) {
	d := fourTurn()
	syn := New(rand.New(rand.NewSource(1)))

	neg, ok := syn.Synthesize(d, "A")
	if !ok {
		t.Fatal("Synthesize() failed on a permutable dialogue")
	}

	// A has exactly two utterances, so the only distinct permutation swaps
	// them; B's turns stay in place.
	want := corpus.Dialogue{
		{Speaker: "A", Text: "a2"},
		{Speaker: "B", Text: "b1"},
		{Speaker: "A", Text: "a1"},
		{Speaker: "B", Text: "b2"},
	}
	if !neg.Equal(want) {
		t.Errorf("Synthesize() = %v, want %v", neg, want)
	}
}

func TestSynthesizePreservesStructure(t *testing.T) {
	d := corpus.Dialogue{
		{Speaker: "A", Text: "a1"},
		{Speaker: "B", Text: "b1"},
		{Speaker: "A", Text: "a2"},
		{Speaker: "B", Text: "b2"},
		{Speaker: "A", Text: "a3"},
		{Speaker: "B", Text: "b3"},
		{Speaker: "A", Text: "a4"},
	}
	syn := New(rand.New(rand.NewSource(7)))

	for i := 0; i < 50; i++ {
		neg, ok := syn.Synthesize(d, "")
		if !ok {
			t.Fatal("Synthesize() failed on a permutable dialogue")
		}
		if neg.Equal(d) {
			t.Fatal("Synthesize() returned the original order")
		}
		if !equalSlices(speakers(neg), speakers(d)) {
			t.Fatalf("speaker sequence changed: %v", speakers(neg))
		}
		if !equalSlices(sortedTexts(neg), sortedTexts(d)) {
			t.Fatalf("utterance multiset changed: %v", neg.Texts())
		}
		if len(neg) != len(d) {
			t.Fatalf("length changed: got %d, want %d", len(neg), len(d))
		}
	}
}

func TestSynthesizeDoesNotMutateOriginal(t *testing.T) {
	d := fourTurn()
	snapshot := make(corpus.Dialogue, len(d))
	copy(snapshot, d)

	syn := New(rand.New(rand.NewSource(3)))
	if _, ok := syn.Synthesize(d, ""); !ok {
		t.Fatal("Synthesize() failed on a permutable dialogue")
	}
	if !d.Equal(snapshot) {
		t.Errorf("original dialogue mutated: %v", d)
	}
}

func TestSynthesizeNoQualifyingSpeaker(t *testing.T) {
	tests := []struct {
		name    string
		d       corpus.Dialogue
		speaker string
	}{
		{
			name: "every speaker appears once",
			d: corpus.Dialogue{
				{Speaker: "A", Text: "a1"},
				{Speaker: "B", Text: "b1"},
				{Speaker: "C", Text: "c1"},
			},
		},
		{
			name:    "forced speaker has one utterance",
			d:       fourTurn(),
			speaker: "C",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syn := New(rand.New(rand.NewSource(1)))
			if neg, ok := syn.Synthesize(tt.d, tt.speaker); ok {
				t.Errorf("Synthesize() = %v, want failure", neg)
			}
		})
	}
}

func TestSynthesizeIdenticalTextsGiveUp(t *testing.T) {
	// All of A's utterances are the same string, so no permutation can
	// differ and the retry loop must give up.
	d := corpus.Dialogue{
		{Speaker: "A", Text: "same"},
		{Speaker: "B", Text: "b1"},
		{Speaker: "A", Text: "same"},
		{Speaker: "B", Text: "b2"},
		{Speaker: "A", Text: "same"},
	}
	syn := New(rand.New(rand.NewSource(1)))
	if neg, ok := syn.Synthesize(d, "A"); ok {
		t.Errorf("Synthesize() = %v, want failure", neg)
	}
}
