package memory

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/modsync/vehicle/pkg/core"
)

// ExportVersion is bumped whenever the export layout changes.
const ExportVersion = 1

const exportBaseName = "snapshots"

// Export is the root JSON structure
type Export struct {
	Version int                      `json:"version"`
	Objects map[core.ObjectID]Record `json:"objects"`
}

func (b *Backend) exportFileName() string {
	if b.cfg.CompressOutput {
		return exportBaseName + ".json.gz"
	}
	return exportBaseName + ".json"
}

// exportJSON writes every record to OutputDir, gzipped when configured.
func (b *Backend) exportJSON() error {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, b.exportFileName())
	export := Export{Version: ExportVersion, Objects: b.records}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	if b.cfg.CompressOutput {
		gzWriter := gzip.NewWriter(f)
		defer gzWriter.Close()
		w = gzWriter
	}

	if err := json.NewEncoder(w).Encode(export); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	b.lastExportPath = outputPath
	return nil
}

// importJSON reads the export written by a previous run. A missing file
// yields no records.
func (b *Backend) importJSON() (map[core.ObjectID]Record, error) {
	path := filepath.Join(b.cfg.OutputDir, b.exportFileName())
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if b.cfg.CompressOutput {
		gzReader, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gzReader.Close()
		r = gzReader
	}

	var export Export
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if export.Version != ExportVersion {
		return nil, fmt.Errorf("unsupported export version %d", export.Version)
	}
	return export.Objects, nil
}
