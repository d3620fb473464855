package vault

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hutchvm/hutch/internal/models"
)

// Journal file names in the cache root.
const (
	imageRecordsFilename    = "multipassd-image-records.json"
	instanceRecordsFilename = "multipassd-instance-image-records.json"
)

// VaultRecord pairs a cached image with the query that produced it.
type VaultRecord struct {
	Image models.VMImage
	Query models.Query
}

// On-disk shape of one journal entry. The query's name is not persisted;
// the table's map key is authoritative and the reconstructed name is
// empty.
type recordJSON struct {
	Image imageJSON `json:"image"`
	Query queryJSON `json:"query"`
}

type imageJSON struct {
	Path       string `json:"path"`
	KernelPath string `json:"kernel_path"`
	InitrdPath string `json:"initrd_path"`
	ID         string `json:"id"`
}

type queryJSON struct {
	Release    string `json:"release"`
	Persistent *bool  `json:"persistent"`
}

// Load shape with optional members, so absent objects are detectable.
type recordLoadJSON struct {
	Image *imageJSON `json:"image"`
	Query *queryJSON `json:"query"`
}

// loadRecords reads a journal file into a table. The journal is a cache,
// not authority: a missing or unreadable file, a parse failure, or any
// record failing validation yields an empty table and the vault rebuilds
// over time.
func loadRecords(path string) map[string]VaultRecord {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]VaultRecord{}
	}

	var raw map[string]recordLoadJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]VaultRecord{}
	}

	records := make(map[string]VaultRecord, len(raw))
	for key, entry := range raw {
		if entry.Image == nil || entry.Image.Path == "" {
			return map[string]VaultRecord{}
		}
		if entry.Query == nil || entry.Query.Persistent == nil {
			return map[string]VaultRecord{}
		}

		records[key] = VaultRecord{
			Image: models.VMImage{
				ImagePath:  entry.Image.Path,
				KernelPath: entry.Image.KernelPath,
				InitrdPath: entry.Image.InitrdPath,
				ID:         entry.Image.ID,
			},
			Query: models.Query{
				Release:    entry.Query.Release,
				Persistent: *entry.Query.Persistent,
			},
		}
	}
	return records
}

// persistRecords rewrites a journal file with the full table. The write
// goes to a sibling temp path, is synced, then renamed over the target, so
// an abrupt termination mid-write leaves the previous journal intact.
func persistRecords(path string, records map[string]VaultRecord) error {
	doc := make(map[string]recordJSON, len(records))
	for key, record := range records {
		persistent := record.Query.Persistent
		doc[key] = recordJSON{
			Image: imageJSON{
				Path:       record.Image.ImagePath,
				KernelPath: record.Image.KernelPath,
				InitrdPath: record.Image.InitrdPath,
				ID:         record.Image.ID,
			},
			Query: queryJSON{
				Release:    record.Query.Release,
				Persistent: &persistent,
			},
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &LayoutError{Path: tmp, Err: err}
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return &LayoutError{Path: tmp, Err: err}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return &LayoutError{Path: tmp, Err: err}
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return &LayoutError{Path: tmp, Err: err}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &LayoutError{Path: path, Err: err}
	}
	return nil
}
