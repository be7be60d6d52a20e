package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"duka/internal/model"
)

// Archiver persists a point-in-time copy of the order collection. The
// normalizer archives the raw union once before sweeping legacy keys, so a
// bad migration never loses records.
type Archiver interface {
	Archive(archiveID string, orders []model.Order) error
}

type FilesystemArchiver struct {
	baseDir string
}

func NewFilesystemArchiver(baseDir string) *FilesystemArchiver {
	return &FilesystemArchiver{baseDir: baseDir}
}

func (f *FilesystemArchiver) Archive(archiveID string, orders []model.Order) error {
	if err := os.MkdirAll(filepath.Join(f.baseDir, archiveID), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	file := filepath.Join(f.baseDir, archiveID, "orders.json")
	out, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(orders); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
