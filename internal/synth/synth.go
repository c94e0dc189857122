// Package synth turns coherent dialogues into structurally plausible
// incoherent variants by permuting part of one speaker's utterance order.
// The turn-taking structure and every other speaker's turns are preserved,
// so the negatives differ from their sources only in intra-speaker order.
package synth

import (
	"math/rand"
	"sort"

	"github.com/latgalenlp/saskana/internal/corpus"
)

// MaxShuffleRetries bounds the attempts to find a permutation that actually
// differs from the original order before giving up on a dialogue.
const MaxShuffleRetries = 20

// Synthesizer produces permuted negatives. The random source is explicit:
// seed it for reproducible dataset construction, leave it free-running for
// per-epoch training-time sampling.
type Synthesizer struct {
	rng *rand.Rand
}

// New returns a synthesizer drawing from rng.
func New(rng *rand.Rand) *Synthesizer {
	return &Synthesizer{rng: rng}
}

// Synthesize permutes k of speaker's utterance slots, k drawn uniformly from
// [2, count(speaker)]. If speaker is empty, a target is chosen uniformly
// among speakers with at least 2 utterances. It returns (nil, false) when no
// speaker qualifies or no distinct permutation is found within
// MaxShuffleRetries; callers must treat that as "no negative available".
func (s *Synthesizer) Synthesize(d corpus.Dialogue, speaker string) (corpus.Dialogue, bool) {
	slots := d.SpeakerTurns()

	if speaker == "" {
		candidates := make([]string, 0, len(slots))
		for sp, idxs := range slots {
			if len(idxs) >= 2 {
				candidates = append(candidates, sp)
			}
		}
		if len(candidates) == 0 {
			return nil, false
		}
		// Map iteration order is random; sort for a reproducible draw.
		sort.Strings(candidates)
		speaker = candidates[s.rng.Intn(len(candidates))]
	}

	positions := slots[speaker]
	if len(positions) < 2 {
		return nil, false
	}

	k := 2 + s.rng.Intn(len(positions)-1) // uniform in [2, len(positions)]
	chosen := pick(s.rng, positions, k)

	texts := make([]string, len(chosen))
	for i, pos := range chosen {
		texts[i] = d[pos].Text
	}

	shuffled := make([]string, len(texts))
	for attempt := 0; attempt < MaxShuffleRetries; attempt++ {
		copy(shuffled, texts)
		s.rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		if !equalStrings(shuffled, texts) {
			return rebuild(d, chosen, shuffled), true
		}
	}
	return nil, false
}

// rebuild substitutes the shuffled texts back into their original slot
// indexes, leaving every other turn untouched.
func rebuild(d corpus.Dialogue, positions []int, texts []string) corpus.Dialogue {
	out := make(corpus.Dialogue, len(d))
	copy(out, d)
	for i, pos := range positions {
		out[pos] = corpus.Turn{Speaker: d[pos].Speaker, Text: texts[i]}
	}
	return out
}

// pick selects k positions without replacement, keeping slot order.
func pick(rng *rand.Rand, positions []int, k int) []int {
	perm := rng.Perm(len(positions))[:k]
	sort.Ints(perm)
	chosen := make([]int, k)
	for i, p := range perm {
		chosen[i] = positions[p]
	}
	return chosen
}

func equalStrings(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
