// Package snapshot converts one tenant (or the global scope, or the whole
// database) into an immutable archive.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/storeops/tenant-backup/internal/archive"
	"github.com/storeops/tenant-backup/internal/config"
	"github.com/storeops/tenant-backup/internal/source"
)

// Builder assembles snapshot archives from the data source.
type Builder struct {
	cfg    *config.Config
	src    source.DataSource
	logger *slog.Logger
	now    func() time.Time
}

// NewBuilder creates a snapshot builder.
func NewBuilder(cfg *config.Config, src source.DataSource, logger *slog.Logger) *Builder {
	return &Builder{
		cfg:    cfg,
		src:    src,
		logger: logger.With("component", "snapshot"),
		now:    time.Now,
	}
}

// BuildTenant exports every tenant collection owned by the tenant, plus
// referenced file attachments. A single missing file is recorded in the
// summary and does not fail the tenant; a whole-collection fetch failure
// does, and no archive is produced.
func (b *Builder) BuildTenant(ctx context.Context, tenant source.Tenant) (*archive.Archive, error) {
	createdAt := b.now().UTC()
	log := b.logger.With("tenant", tenant.Name, "tenant_id", tenant.ID)
	log.Info("building tenant snapshot")

	a := &archive.Archive{
		Kind:       archive.KindTenant,
		TenantID:   tenant.ID,
		TenantName: tenant.Name,
		CreatedAt:  createdAt,
	}
	summary := &archive.Summary{
		Tenant:        tenant.Name,
		OwnerID:       tenant.ID,
		Date:          createdAt.Format(archive.DateLayout),
		Collections:   make(map[string]int),
		Checksums:     make(map[string]string),
		BackupVersion: archive.SummaryVersion,
	}

	for _, collection := range TenantCollections {
		records, err := b.src.ListRecords(ctx, collection, tenant.OwnerRef)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: fetch %s: %w", tenant.Name, collection, err)
		}

		if err := b.appendCollection(a, summary, collection, tenant.OwnerRef, records, createdAt); err != nil {
			return nil, err
		}
		log.Debug("collection exported", "collection", collection, "records", len(records))

		if b.cfg.IncludeFiles && len(records) > 0 {
			b.appendFiles(ctx, a, summary, collection, records, log)
		}
	}

	if err := finalize(a, summary); err != nil {
		return nil, err
	}
	log.Info("tenant snapshot ready",
		"collections", len(summary.Collections),
		"files", summary.FilesCount,
		"missing_files", len(summary.MissingFiles),
	)
	return a, nil
}

// BuildGlobal exports the owner/user-level collections with no owner filter.
func (b *Builder) BuildGlobal(ctx context.Context) (*archive.Archive, error) {
	createdAt := b.now().UTC()
	b.logger.Info("building global snapshot")

	a := &archive.Archive{
		Kind:      archive.KindGlobal,
		CreatedAt: createdAt,
	}
	summary := &archive.Summary{
		Date:          createdAt.Format(archive.DateLayout),
		Collections:   make(map[string]int),
		Checksums:     make(map[string]string),
		BackupVersion: archive.SummaryVersion,
	}

	for _, collection := range GlobalCollections {
		records, err := b.src.ListRecords(ctx, collection, "")
		if err != nil {
			return nil, fmt.Errorf("global: fetch %s: %w", collection, err)
		}
		if err := b.appendCollection(a, summary, collection, "", records, createdAt); err != nil {
			return nil, err
		}
		if b.cfg.IncludeFiles && len(records) > 0 {
			b.appendFiles(ctx, a, summary, collection, records, b.logger)
		}
	}

	if err := finalize(a, summary); err != nil {
		return nil, err
	}
	return a, nil
}

// BuildFullDB delegates to the data source's native whole-database export.
// The blob is opaque: stored and retrieved, never parsed.
func (b *Builder) BuildFullDB(ctx context.Context) (*archive.Archive, error) {
	b.logger.Info("requesting full database export")
	name, blob, err := b.src.RequestFullExport(ctx)
	if err != nil {
		return nil, fmt.Errorf("full database export: %w", err)
	}
	b.logger.Info("full database export downloaded", "name", name, "size_bytes", len(blob))

	return &archive.Archive{
		Kind:      archive.KindFullDB,
		CreatedAt: b.now().UTC(),
		Entries:   []archive.Entry{{Name: name, Data: blob}},
	}, nil
}

func (b *Builder) appendCollection(a *archive.Archive, summary *archive.Summary, collection, ownerID string, records []source.Record, exportedAt time.Time) error {
	export := archive.CollectionExport{
		Collection: collection,
		OwnerID:    ownerID,
		ExportedAt: exportedAt,
		Count:      len(records),
		Records:    records,
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize %s export: %w", collection, err)
	}

	name := collection + ".json"
	a.Entries = append(a.Entries, archive.Entry{Name: name, Data: data})
	summary.Collections[collection] = len(records)
	summary.Checksums[name] = archive.SHA256(data)
	return nil
}

// appendFiles downloads the file attachments referenced by records. Each
// failed fetch is recorded as missing; the snapshot remains usable.
func (b *Builder) appendFiles(ctx context.Context, a *archive.Archive, summary *archive.Summary, collection string, records []source.Record, log *slog.Logger) {
	fields := FileFields[collection]
	if len(fields) == 0 {
		return
	}

	for _, record := range records {
		recordID, _ := record["id"].(string)
		if recordID == "" {
			continue
		}
		collectionID, _ := record["collectionId"].(string)
		if collectionID == "" {
			collectionID = collection
		}

		for _, field := range fields {
			for _, filename := range fileNames(record[field]) {
				data, err := b.src.FetchFile(ctx, collectionID, recordID, filename)
				if err != nil {
					ref := path.Join(collection, recordID, filename)
					summary.MissingFiles = append(summary.MissingFiles, ref)
					log.Warn("file fetch failed, recorded as missing", "file", ref, "error", err)
					continue
				}
				name := path.Join("_files", collection, recordID, filename)
				a.Entries = append(a.Entries, archive.Entry{Name: name, Data: data})
				summary.Checksums[name] = archive.SHA256(data)
				summary.FilesCount++
			}
		}
	}
}

// fileNames normalizes a file field value: single filename or list.
func fileNames(value any) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var names []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				names = append(names, s)
			}
		}
		return names
	default:
		return nil
	}
}

// finalize seals the archive with its summary entry.
func finalize(a *archive.Archive, summary *archive.Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize summary: %w", err)
	}
	a.Entries = append(a.Entries, archive.Entry{Name: archive.SummaryName, Data: data})
	a.Summary = summary
	return nil
}
