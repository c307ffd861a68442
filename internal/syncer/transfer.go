package syncer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
)

const ExportVersion = "1.0"

// ExportDocument is the downloadable form of a session.
type ExportDocument struct {
	engine.Snapshot
	ExportDate string `json:"exportDate"`
	Version    string `json:"version"`
}

func Export(snap engine.Snapshot, now time.Time) ([]byte, error) {
	doc := ExportDocument{
		Snapshot:   snap.Clone(),
		ExportDate: now.UTC().Format(time.RFC3339),
		Version:    ExportVersion,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return data, nil
}

// ParseImport decodes an exported document. The whole document is rejected
// unless it carries a combatants array; other missing fields take their
// defaults.
func ParseImport(data []byte) (engine.Snapshot, error) {
	var shape struct {
		Combatants json.RawMessage `json:"combatants"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return engine.Snapshot{}, fmt.Errorf("%w: %w", ErrImportFormat, err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(shape.Combatants), []byte("[")) {
		return engine.Snapshot{}, ErrImportFormat
	}

	var doc ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return engine.Snapshot{}, fmt.Errorf("%w: %w", ErrImportFormat, err)
	}
	return doc.Snapshot.Normalize(), nil
}
