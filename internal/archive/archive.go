// Package archive models the immutable snapshot bundle: per-collection JSON
// exports, a _files attachment tree and a summary entry, packaged as a zip.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Kind distinguishes the three archive namespaces in the remote layout.
type Kind string

const (
	KindTenant Kind = "tenant"
	KindGlobal Kind = "global"
	KindFullDB Kind = "fulldb"
)

// Reserved top-level remote directories.
const (
	GlobalDir = "_global"
	FullDBDir = "_fulldb"
)

// Entry is one named blob inside an archive. Entry names are relative to
// the archive data root: "<collection>.json", "_files/<collection>/<record>/<name>"
// or "summary.json".
type Entry struct {
	Name string
	Data []byte
}

// Archive is a self-describing snapshot bundle. Once built it is never
// mutated, only serialized, uploaded, downloaded or deleted.
type Archive struct {
	Kind       Kind
	TenantID   string
	TenantName string
	CreatedAt  time.Time
	Entries    []Entry
	Summary    *Summary
}

// CollectionExport is the JSON document stored per collection.
type CollectionExport struct {
	Collection string           `json:"collection"`
	OwnerID    string           `json:"owner_id,omitempty"`
	ExportedAt time.Time        `json:"exported_at"`
	Count      int              `json:"count"`
	Records    []map[string]any `json:"records"`
}

// SummaryName is the archive entry carrying the Summary document.
const SummaryName = "summary.json"

// Summary records what an archive contains. The shape matches the backup
// tool's v2 summary.json so archives interoperate across versions.
type Summary struct {
	Tenant        string            `json:"tenant,omitempty"`
	OwnerID       string            `json:"owner_id,omitempty"`
	Date          string            `json:"date"`
	Collections   map[string]int    `json:"collections"`
	FilesCount    int               `json:"files_count"`
	MissingFiles  []string          `json:"missing_files,omitempty"`
	Checksums     map[string]string `json:"checksums,omitempty"`
	BackupVersion string            `json:"backup_version"`
}

// Version written into new summaries.
const SummaryVersion = "2.0"

// DateLayout names archives and the prefix directory inside the zip.
// Seconds keep repeated runs on distinct remote keys.
const DateLayout = "2006-01-02_150405"

// Name returns the archive filename for a timestamp: backup_<date>.zip.
func Name(ts time.Time) string {
	return fmt.Sprintf("backup_%s.zip", ts.UTC().Format(DateLayout))
}

// ParseName extracts the timestamp from an archive filename.
func ParseName(name string) (time.Time, error) {
	base := path.Base(name)
	if !strings.HasPrefix(base, "backup_") || !strings.HasSuffix(base, ".zip") {
		return time.Time{}, fmt.Errorf("not an archive name: %s", name)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(base, "backup_"), ".zip")
	ts, err := time.Parse(DateLayout, stamp)
	if err != nil {
		// Older archives carried minute precision.
		ts, err = time.Parse("2006-01-02_1504", stamp)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse archive name %s: %w", name, err)
		}
	}
	return ts.UTC(), nil
}

// FolderKey builds the tenant's remote directory: sanitized display name
// plus the first 8 characters of the tenant id.
func FolderKey(name, id string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '.' || c == '_' || c == '-':
			b.WriteRune(c)
		case c == ' ':
			b.WriteRune(' ')
		default:
			b.WriteRune('_')
		}
	}
	safe := strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return safe + "_" + short
}

// RemoteDir returns the archive's directory under the remote root.
func (a *Archive) RemoteDir() string {
	switch a.Kind {
	case KindGlobal:
		return GlobalDir
	case KindFullDB:
		return FullDBDir
	default:
		return FolderKey(a.TenantName, a.TenantID)
	}
}

// Payload serializes the archive for upload. Tenant and global archives
// zip their entries; a full-database archive is already an opaque zip blob
// and passes through untouched.
func (a *Archive) Payload() ([]byte, error) {
	if a.Kind == KindFullDB {
		if len(a.Entries) != 1 {
			return nil, fmt.Errorf("fulldb archive must hold exactly one blob, has %d", len(a.Entries))
		}
		return a.Entries[0].Data, nil
	}
	return a.Zip()
}

// Filename returns the remote object name: the blob's own name for
// full-database archives, a timestamped backup name otherwise.
func (a *Archive) Filename() string {
	if a.Kind == KindFullDB && len(a.Entries) == 1 {
		return a.Entries[0].Name
	}
	return Name(a.CreatedAt)
}

// Zip serializes the archive. Data entries live under a date-stamped
// directory, matching the layout produced since v1.
func (a *Archive) Zip() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	prefix := a.CreatedAt.UTC().Format(DateLayout)

	for _, e := range a.Entries {
		name := path.Join(prefix, e.Name)
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile zips the archive to a local path, creating parent directories.
func (a *Archive) WriteFile(dest string) (int64, error) {
	data, err := a.Payload()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Open parses zipped archive bytes. The data root is located via
// summary.json; without one, every entry is taken as-is (pre-v2 archives).
func Open(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	// Locate the data root.
	root := ""
	for _, f := range zr.File {
		if path.Base(f.Name) == SummaryName {
			root = path.Dir(f.Name)
			break
		}
	}

	a := &Archive{Kind: KindTenant}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := f.Name
		if root != "" && root != "." {
			rel, ok := strings.CutPrefix(name, root+"/")
			if !ok {
				continue
			}
			name = rel
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("read archive entry %s: %w", f.Name, err)
		}
		blob, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read archive entry %s: %w", f.Name, err)
		}
		a.Entries = append(a.Entries, Entry{Name: name, Data: blob})

		if name == SummaryName {
			var s Summary
			if err := json.Unmarshal(blob, &s); err != nil {
				return nil, fmt.Errorf("parse %s: %w", SummaryName, err)
			}
			a.Summary = &s
			a.TenantID = s.OwnerID
			a.TenantName = s.Tenant
			if ts, err := time.Parse(DateLayout, s.Date); err == nil {
				a.CreatedAt = ts
			}
		}
	}

	if a.Summary != nil && a.Summary.OwnerID == "" {
		a.Kind = KindGlobal
	}
	return a, nil
}

// OpenFile reads and parses a local zip archive.
func OpenFile(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive file: %w", err)
	}
	return Open(data)
}

// Collections returns the collection export entries in archive order.
func (a *Archive) Collections() ([]CollectionExport, error) {
	var exports []CollectionExport
	for _, e := range a.Entries {
		if e.Name == SummaryName || !strings.HasSuffix(e.Name, ".json") || strings.Contains(e.Name, "/") {
			continue
		}
		var ce CollectionExport
		if err := json.Unmarshal(e.Data, &ce); err != nil {
			return nil, fmt.Errorf("parse collection export %s: %w", e.Name, err)
		}
		if ce.Collection == "" {
			ce.Collection = strings.TrimSuffix(e.Name, ".json")
		}
		exports = append(exports, ce)
	}
	return exports, nil
}

// Files returns the attachment entries as (collection, recordID, filename,
// data) tuples, in archive order.
type File struct {
	Collection string
	RecordID   string
	Filename   string
	Data       []byte
}

// Files extracts the _files tree.
func (a *Archive) Files() []File {
	var files []File
	for _, e := range a.Entries {
		rest, ok := strings.CutPrefix(e.Name, "_files/")
		if !ok {
			continue
		}
		parts := strings.SplitN(rest, "/", 3)
		if len(parts) != 3 {
			continue
		}
		files = append(files, File{
			Collection: parts[0],
			RecordID:   parts[1],
			Filename:   parts[2],
			Data:       e.Data,
		})
	}
	return files
}
