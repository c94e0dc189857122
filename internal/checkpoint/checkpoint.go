// Package checkpoint persists model parameters as msgpack snapshots keyed
// by component name, so the encoder and each head can be restored
// independently.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/latgalenlp/saskana/internal/nn"
)

// Snapshot is the on-disk form: component name → parameter key → matrix.
type Snapshot map[string]map[string]nn.MatState

// Save writes the components to path atomically (temp file + rename), so a
// crash mid-write never truncates an existing checkpoint.
func Save(path string, components map[string]nn.Params) error {
	snap := make(Snapshot, len(components))
	for name, params := range components {
		snap[name] = params.State()
	}

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load restores a checkpoint into the given components. Every component in
// the snapshot must be present in components and every matrix must match
// its allocated shape; extra allocated components are left untouched.
func Load(path string, components map[string]nn.Params) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}

	for name, state := range snap {
		params, ok := components[name]
		if !ok {
			return fmt.Errorf("checkpoint component %q has no destination", name)
		}
		if err := params.LoadState(state); err != nil {
			return fmt.Errorf("load component %q: %w", name, err)
		}
	}
	return nil
}
