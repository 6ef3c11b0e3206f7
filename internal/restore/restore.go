// Package restore replays archived snapshots back into the data source:
// list, latest, single tenant, explicit file, or the opaque full-database
// blob, each with a dry-run mode that performs zero writes.
package restore

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/storeops/tenant-backup/internal/archive"
	"github.com/storeops/tenant-backup/internal/metrics"
	"github.com/storeops/tenant-backup/internal/snapshot"
	"github.com/storeops/tenant-backup/internal/source"
	"github.com/storeops/tenant-backup/internal/storage"
)

// ErrTenantNotFound means no remote archive matched the tenant reference.
var ErrTenantNotFound = errors.New("restore: no archive found for tenant")

// ErrNoSnapshots means the remote store holds nothing to restore.
var ErrNoSnapshots = errors.New("restore: no snapshots in remote store")

// SnapshotInfo describes one remote archive.
type SnapshotInfo struct {
	Key       string
	Kind      archive.Kind
	Folder    string // tenant folder, _global or _fulldb
	CreatedAt time.Time
	Size      int64
}

// Report summarizes one restore invocation. Shape is identical for dry and
// real runs; Created/Updated stay zero under dry-run because no write ever
// resolves which of the two a record would be.
type Report struct {
	DryRun   bool
	Archives int
	Records  int
	Created  int
	Updated  int
	Skipped  int
	Files    int
	Errors   []string
}

func (r *Report) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Orchestrator restores snapshots from the remote store.
type Orchestrator struct {
	src    source.DataSource
	store  storage.Store
	logger *slog.Logger
}

// New wires a restore orchestrator.
func New(src source.DataSource, store storage.Store, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		src:    src,
		store:  store,
		logger: logger.With("component", "restore"),
	}
}

// ListSnapshots returns every remote archive, newest first.
func (o *Orchestrator) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	objects, err := o.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list remote store: %w", err)
	}

	var infos []SnapshotInfo
	for _, obj := range objects {
		folder, name := path.Split(obj.Key)
		folder = strings.TrimSuffix(folder, "/")
		if folder == "" || !strings.HasSuffix(name, ".zip") {
			continue
		}

		info := SnapshotInfo{
			Key:       obj.Key,
			Folder:    folder,
			CreatedAt: obj.LastModified,
			Size:      obj.Size,
		}
		switch folder {
		case archive.GlobalDir:
			info.Kind = archive.KindGlobal
		case archive.FullDBDir:
			info.Kind = archive.KindFullDB
		default:
			info.Kind = archive.KindTenant
		}
		// Archive names carry their own timestamp; prefer it over
		// object metadata. Full-database blobs keep the source's
		// auto_<ts> naming.
		if ts, err := archive.ParseName(name); err == nil {
			info.CreatedAt = ts
		} else if ts, err := time.Parse("auto_20060102_1504.zip", name); err == nil {
			info.CreatedAt = ts
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].Key > infos[j].Key
		}
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos, nil
}

// RestoreLatest replays the newest archive per tenant folder plus the
// newest global archive. Tenants present in the store but absent from the
// data source are recreated through the same upsert path.
func (o *Orchestrator) RestoreLatest(ctx context.Context, dryRun bool) (*Report, error) {
	infos, err := o.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	// Newest per folder; infos are already newest first.
	latest := make(map[string]SnapshotInfo)
	var order []string
	for _, info := range infos {
		if info.Kind == archive.KindFullDB {
			continue
		}
		if _, seen := latest[info.Folder]; !seen {
			latest[info.Folder] = info
			order = append(order, info.Folder)
		}
	}
	if len(latest) == 0 {
		return nil, ErrNoSnapshots
	}
	sort.Strings(order)

	report := &Report{DryRun: dryRun}
	for _, folder := range order {
		info := latest[folder]
		if err := o.replayRemote(ctx, info.Key, dryRun, report); err != nil {
			report.addError("%s: %v", info.Key, err)
			o.logger.Error("archive replay failed", "key", info.Key, "error", err)
		}
	}
	o.recordMetrics("latest", report)
	return report, nil
}

// RestoreTenant replays the newest archive whose folder matches the tenant
// reference: folder name, tenant id prefix, or display name.
func (o *Orchestrator) RestoreTenant(ctx context.Context, ref string, dryRun bool) (*Report, error) {
	infos, err := o.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	var match *SnapshotInfo
	for i, info := range infos {
		if info.Kind != archive.KindTenant {
			continue
		}
		if tenantFolderMatches(info.Folder, ref) {
			match = &infos[i]
			break
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, ref)
	}

	report := &Report{DryRun: dryRun}
	if err := o.replayRemote(ctx, match.Key, dryRun, report); err != nil {
		return nil, err
	}
	o.recordMetrics("tenant", report)
	return report, nil
}

// RestoreFile replays one explicit archive, local path or remote key.
func (o *Orchestrator) RestoreFile(ctx context.Context, ref string, dryRun bool) (*Report, error) {
	var data []byte
	if _, err := os.Stat(ref); err == nil {
		data, err = os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("read local archive: %w", err)
		}
	} else {
		var gerr error
		data, gerr = o.store.Get(ctx, ref)
		if gerr != nil {
			return nil, fmt.Errorf("fetch archive %s: %w", ref, gerr)
		}
	}

	report := &Report{DryRun: dryRun}
	if err := o.replay(ctx, data, dryRun, report); err != nil {
		return nil, err
	}
	o.recordMetrics("file", report)
	return report, nil
}

// RestoreFullDB stages the newest full-database blob back into the data
// source's import slot. Under dry-run the blob is only downloaded and
// validated: size against the store's accounting and zip readability.
// Activating a staged import is a deliberate operator action on the data
// source itself, not something this tool triggers.
func (o *Orchestrator) RestoreFullDB(ctx context.Context, dryRun bool) (*Report, error) {
	infos, err := o.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	var newest *SnapshotInfo
	for i, info := range infos {
		if info.Kind == archive.KindFullDB {
			newest = &infos[i]
			break
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("%w: no full-database archive", ErrNoSnapshots)
	}

	data, err := o.store.Get(ctx, newest.Key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", newest.Key, err)
	}
	if int64(len(data)) != newest.Size {
		return nil, fmt.Errorf("full-database blob %s: got %d bytes, store reports %d", newest.Key, len(data), newest.Size)
	}
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("full-database blob %s is not a readable zip: %w", newest.Key, err)
	}

	report := &Report{DryRun: dryRun, Archives: 1}
	if dryRun {
		o.logger.Info("full-database blob validated", "key", newest.Key, "size_bytes", len(data))
		o.recordMetrics("fulldb", report)
		return report, nil
	}

	name := path.Base(newest.Key)
	if err := o.src.StageFullImport(ctx, name, data); err != nil {
		return nil, fmt.Errorf("stage full-database import: %w", err)
	}
	o.logger.Info("full-database blob staged for import", "name", name, "size_bytes", len(data))
	o.recordMetrics("fulldb", report)
	return report, nil
}

func (o *Orchestrator) replayRemote(ctx context.Context, key string, dryRun bool, report *Report) error {
	data, err := o.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch archive: %w", err)
	}
	return o.replay(ctx, data, dryRun, report)
}

// replay upserts every archived record and re-uploads file attachments.
// Per-record failures are recorded and skipped; the rest of the archive
// still applies.
func (o *Orchestrator) replay(ctx context.Context, data []byte, dryRun bool, report *Report) error {
	a, err := archive.Open(data)
	if err != nil {
		return err
	}
	report.Archives++

	exports, err := a.Collections()
	if err != nil {
		return err
	}

	log := o.logger.With("tenant", a.TenantName, "dry_run", dryRun)
	for _, export := range exports {
		for _, record := range export.Records {
			id, _ := record["id"].(string)
			if id == "" {
				report.Skipped++
				continue
			}
			report.Records++
			if dryRun {
				continue
			}

			created, err := o.src.UpsertRecord(ctx, export.Collection, id, record)
			if err != nil {
				report.Skipped++
				report.addError("%s/%s: %v", export.Collection, id, err)
				log.Warn("record upsert failed", "collection", export.Collection, "id", id, "error", err)
				continue
			}
			if created {
				report.Created++
			} else {
				report.Updated++
			}
		}
		log.Debug("collection replayed", "collection", export.Collection, "records", len(export.Records))
	}

	for _, f := range a.Files() {
		report.Files++
		if dryRun {
			continue
		}
		field := fileField(f.Collection)
		if err := o.src.UploadFile(ctx, f.Collection, f.RecordID, field, f.Filename, f.Data); err != nil {
			report.addError("file %s/%s/%s: %v", f.Collection, f.RecordID, f.Filename, err)
			log.Warn("file re-upload failed", "collection", f.Collection, "record", f.RecordID, "file", f.Filename, "error", err)
		}
	}

	log.Info("archive replayed",
		"records", report.Records,
		"created", report.Created,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"files", report.Files,
	)
	return nil
}

func (o *Orchestrator) recordMetrics(mode string, report *Report) {
	metrics.RecordRestore(mode, len(report.Errors) == 0)
}

// fileField resolves which record field an archived attachment belongs to.
// Archives store files by collection/record/name only, so the field comes
// from the known file-field map; collections with one file field (the
// common case) resolve unambiguously.
func fileField(collection string) string {
	if fields := snapshot.FileFields[collection]; len(fields) > 0 {
		return fields[0]
	}
	return "file"
}

// tenantFolderMatches reports whether a remote tenant folder matches an
// operator-supplied reference: exact folder, the trailing id fragment, or a
// case-insensitive prefix of the display name.
func tenantFolderMatches(folder, ref string) bool {
	if ref == "" {
		return false
	}
	if folder == ref {
		return true
	}
	idx := strings.LastIndex(folder, "_")
	if idx < 0 {
		return false
	}
	// Folders are <sanitized name>_<first 8 chars of tenant id>.
	idFrag := folder[idx+1:]
	if idFrag == ref || strings.HasPrefix(ref, idFrag) {
		return true
	}
	name := folder[:idx]
	return strings.EqualFold(name, ref) || strings.EqualFold(name, strings.ReplaceAll(ref, " ", "_"))
}
