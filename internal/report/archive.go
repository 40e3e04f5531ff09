package report

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// ArchiveEntry is one file inside a report archive.
type ArchiveEntry struct {
	Name string
	Data []byte
}

// Archive packs entries into a deflated zip. Later entries with a name
// already written are skipped.
func Archive(entries []ArchiveEntry) ([]byte, error) {
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.Name]; dup {
			continue
		}
		seen[entry.Name] = struct{}{}

		w, err := writer.CreateHeader(&zip.FileHeader{Name: entry.Name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", entry.Name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("write %s: %w", entry.Name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
