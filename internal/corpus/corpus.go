// Package corpus loads dialect dialogue corpora from newline-delimited JSON
// and defines the dialogue data model shared by the coherence models.
package corpus

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Turn is one utterance with its speaker label.
type Turn struct {
	Speaker string
	Text    string
}

// Dialogue is an ordered sequence of turns. Dialogues are treated as
// immutable once loaded; derived variants are new values.
type Dialogue []Turn

// ErrEmptyCorpus is returned when a source yields no usable dialogues.
var ErrEmptyCorpus = errors.New("corpus: no valid dialogues")

// MinTurns is the load-time floor: shorter dialogues are dropped.
const MinTurns = 2

// record mirrors one corpus line: a dialogue field holding an ordered list
// of single-key objects mapping a speaker identifier to an utterance.
type record struct {
	Dialogue []map[string]string `json:"dialogue"`
}

// Load reads dialogues from an NDJSON file. Lines that fail to parse are
// skipped with a warning; an empty result is an error.
func Load(path string, logger *slog.Logger) ([]Dialogue, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus %q: %w", path, err)
	}
	defer file.Close()

	dialogues, err := Read(file, logger)
	if err != nil {
		return nil, fmt.Errorf("read corpus %q: %w", path, err)
	}
	return dialogues, nil
}

// Read parses NDJSON dialogue records from r. Malformed lines (bad JSON, or
// a turn object without exactly one key) are skipped with a warning, never
// fatal; a corpus with no valid dialogues returns ErrEmptyCorpus.
func Read(r io.Reader, logger *slog.Logger) ([]Dialogue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dialogues []Dialogue
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warn("skipping malformed corpus line", "line", lineNo, "error", err)
			continue
		}

		dialogue, err := parseTurns(rec.Dialogue)
		if err != nil {
			logger.Warn("skipping malformed corpus line", "line", lineNo, "error", err)
			continue
		}
		if len(dialogue) < MinTurns {
			continue
		}
		dialogues = append(dialogues, dialogue)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan corpus: %w", err)
	}
	if len(dialogues) == 0 {
		return nil, ErrEmptyCorpus
	}
	return dialogues, nil
}

func parseTurns(raw []map[string]string) (Dialogue, error) {
	dialogue := make(Dialogue, 0, len(raw))
	for i, obj := range raw {
		if len(obj) != 1 {
			return nil, fmt.Errorf("turn %d: want exactly one speaker key, got %d", i, len(obj))
		}
		for speaker, text := range obj {
			dialogue = append(dialogue, Turn{Speaker: speaker, Text: text})
		}
	}
	return dialogue, nil
}

// Write emits dialogues as NDJSON in the same format Read accepts.
func Write(w io.Writer, dialogues []Dialogue) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, d := range dialogues {
		turns := make([]map[string]string, len(d))
		for j, turn := range d {
			turns[j] = map[string]string{turn.Speaker: turn.Text}
		}
		if err := enc.Encode(record{Dialogue: turns}); err != nil {
			return fmt.Errorf("write dialogue %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// Texts returns the utterance strings in order.
func (d Dialogue) Texts() []string {
	texts := make([]string, len(d))
	for i, turn := range d {
		texts[i] = turn.Text
	}
	return texts
}

// Truncate returns the dialogue limited to at most n turns. The original
// value is never modified.
func (d Dialogue) Truncate(n int) Dialogue {
	if n <= 0 || len(d) <= n {
		return d
	}
	return d[:n:n]
}

// SpeakerTurns maps each speaker to the indexes of their turns, in order.
func (d Dialogue) SpeakerTurns() map[string][]int {
	slots := make(map[string][]int)
	for i, turn := range d {
		slots[turn.Speaker] = append(slots[turn.Speaker], i)
	}
	return slots
}

// Equal reports whether two dialogues have identical turns.
func (d Dialogue) Equal(other Dialogue) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if d[i] != other[i] {
			return false
		}
	}
	return true
}
