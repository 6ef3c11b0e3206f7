package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/storeops/tenant-backup/internal/archive"
	"github.com/storeops/tenant-backup/internal/config"
	"github.com/storeops/tenant-backup/internal/source"
)

// fakeSource implements source.DataSource in memory.
type fakeSource struct {
	tenants  []source.Tenant
	records  map[string][]source.Record // "collection|owner" -> records
	files    map[string][]byte          // "collection/record/name" -> data
	failList map[string]error           // collection -> error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		records:  make(map[string][]source.Record),
		files:    make(map[string][]byte),
		failList: make(map[string]error),
	}
}

func (f *fakeSource) Authenticate(context.Context) error { return nil }

func (f *fakeSource) ListTenants(context.Context) ([]source.Tenant, error) {
	return f.tenants, nil
}

func (f *fakeSource) ListRecords(_ context.Context, collection, owner string) ([]source.Record, error) {
	if err := f.failList[collection]; err != nil {
		return nil, err
	}
	return f.records[collection+"|"+owner], nil
}

func (f *fakeSource) FetchFile(_ context.Context, collection, recordID, filename string) ([]byte, error) {
	data, ok := f.files[fmt.Sprintf("%s/%s/%s", collection, recordID, filename)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrNotFound, filename)
	}
	return data, nil
}

func (f *fakeSource) UpsertRecord(context.Context, string, string, source.Record) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeSource) UploadFile(context.Context, string, string, string, string, []byte) error {
	return errors.New("not implemented")
}

func (f *fakeSource) RequestFullExport(context.Context) (string, []byte, error) {
	return "auto_20260301_0200.zip", []byte("opaque database blob"), nil
}

func (f *fakeSource) StageFullImport(context.Context, string, []byte) error {
	return errors.New("not implemented")
}

func testBuilder(src source.DataSource) *Builder {
	cfg := config.Default()
	cfg.AdminEmail = "a"
	cfg.AdminPassword = "b"
	return NewBuilder(cfg, src, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBuildTenantEmptyDataset(t *testing.T) {
	src := newFakeSource()
	tenant := source.Tenant{ID: "own1", Name: "Empty Shop", OwnerRef: "own1"}

	a, err := testBuilder(src).BuildTenant(context.Background(), tenant)
	if err != nil {
		t.Fatalf("BuildTenant() error: %v", err)
	}

	if a.Summary == nil {
		t.Fatal("missing summary")
	}
	if len(a.Summary.Collections) != len(TenantCollections) {
		t.Errorf("expected %d collections in summary, got %d", len(TenantCollections), len(a.Summary.Collections))
	}
	for name, count := range a.Summary.Collections {
		if count != 0 {
			t.Errorf("collection %s should report zero records, got %d", name, count)
		}
	}
	if a.Summary.FilesCount != 0 {
		t.Errorf("expected zero files, got %d", a.Summary.FilesCount)
	}
	// One entry per collection plus the summary.
	if len(a.Entries) != len(TenantCollections)+1 {
		t.Errorf("expected %d entries, got %d", len(TenantCollections)+1, len(a.Entries))
	}
}

func TestBuildTenantCollectionOrderFixed(t *testing.T) {
	src := newFakeSource()
	tenant := source.Tenant{ID: "own1", Name: "Shop", OwnerRef: "own1"}

	a, err := testBuilder(src).BuildTenant(context.Background(), tenant)
	if err != nil {
		t.Fatalf("BuildTenant() error: %v", err)
	}

	for i, collection := range TenantCollections {
		want := collection + ".json"
		if a.Entries[i].Name != want {
			t.Fatalf("entry %d is %s, want %s", i, a.Entries[i].Name, want)
		}
	}
}

func TestBuildTenantWithFiles(t *testing.T) {
	src := newFakeSource()
	tenant := source.Tenant{ID: "own1", Name: "Shop", OwnerRef: "own1"}
	src.records["users|own1"] = []source.Record{
		{"id": "u1", "avatar": "face.png"},
		{"id": "u2", "avatar": []any{"a.png", "b.png"}},
		{"id": "u3"}, // no avatar
	}
	src.files["users/u1/face.png"] = []byte("png1")
	src.files["users/u2/a.png"] = []byte("png2")
	src.files["users/u2/b.png"] = []byte("png3")

	a, err := testBuilder(src).BuildTenant(context.Background(), tenant)
	if err != nil {
		t.Fatalf("BuildTenant() error: %v", err)
	}

	if a.Summary.FilesCount != 3 {
		t.Errorf("expected 3 files, got %d", a.Summary.FilesCount)
	}
	if len(a.Summary.MissingFiles) != 0 {
		t.Errorf("unexpected missing files: %v", a.Summary.MissingFiles)
	}

	var fileEntries []string
	for _, e := range a.Entries {
		if strings.HasPrefix(e.Name, "_files/") {
			fileEntries = append(fileEntries, e.Name)
		}
	}
	if len(fileEntries) != 3 {
		t.Errorf("expected 3 file entries, got %v", fileEntries)
	}
	if fileEntries[0] != "_files/users/u1/face.png" {
		t.Errorf("unexpected file entry name: %s", fileEntries[0])
	}
}

func TestBuildTenantMissingFileIsNotFatal(t *testing.T) {
	src := newFakeSource()
	tenant := source.Tenant{ID: "own1", Name: "Shop", OwnerRef: "own1"}
	src.records["users|own1"] = []source.Record{
		{"id": "u1", "avatar": "present.png"},
		{"id": "u2", "avatar": "gone.png"},
	}
	src.files["users/u1/present.png"] = []byte("png")

	a, err := testBuilder(src).BuildTenant(context.Background(), tenant)
	if err != nil {
		t.Fatalf("missing file must not fail the tenant: %v", err)
	}

	if a.Summary.FilesCount != 1 {
		t.Errorf("expected 1 file, got %d", a.Summary.FilesCount)
	}
	if len(a.Summary.MissingFiles) != 1 || a.Summary.MissingFiles[0] != "users/u2/gone.png" {
		t.Errorf("missing file not recorded: %v", a.Summary.MissingFiles)
	}
}

func TestBuildTenantCollectionFailureAborts(t *testing.T) {
	src := newFakeSource()
	src.failList["inventory"] = fmt.Errorf("%w: boom", source.ErrUnavailable)
	tenant := source.Tenant{ID: "own1", Name: "Shop", OwnerRef: "own1"}

	a, err := testBuilder(src).BuildTenant(context.Background(), tenant)
	if err == nil {
		t.Fatal("expected error when a collection fetch fails")
	}
	if a != nil {
		t.Error("no archive may be produced on collection failure")
	}
	if !errors.Is(err, source.ErrUnavailable) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestBuildTenantFilesDisabled(t *testing.T) {
	src := newFakeSource()
	src.records["users|own1"] = []source.Record{{"id": "u1", "avatar": "face.png"}}
	src.files["users/u1/face.png"] = []byte("png")

	cfg := config.Default()
	cfg.IncludeFiles = false
	b := NewBuilder(cfg, src, slog.New(slog.NewTextHandler(io.Discard, nil)))

	a, err := b.BuildTenant(context.Background(), source.Tenant{ID: "own1", Name: "Shop", OwnerRef: "own1"})
	if err != nil {
		t.Fatalf("BuildTenant() error: %v", err)
	}
	if a.Summary.FilesCount != 0 {
		t.Errorf("files must not be fetched when disabled, got %d", a.Summary.FilesCount)
	}
}

func TestBuildGlobal(t *testing.T) {
	src := newFakeSource()
	src.records["owners|"] = []source.Record{{"id": "own1"}, {"id": "own2"}}
	src.records["plan_configs|"] = []source.Record{{"id": "p1"}}

	a, err := testBuilder(src).BuildGlobal(context.Background())
	if err != nil {
		t.Fatalf("BuildGlobal() error: %v", err)
	}
	if a.Kind != archive.KindGlobal {
		t.Errorf("unexpected kind: %s", a.Kind)
	}
	if a.Summary.Collections["owners"] != 2 || a.Summary.Collections["plan_configs"] != 1 {
		t.Errorf("unexpected counts: %v", a.Summary.Collections)
	}
	if a.Summary.OwnerID != "" || a.Summary.Tenant != "" {
		t.Error("global summary must not carry tenant identity")
	}
}

func TestBuildFullDBOpaque(t *testing.T) {
	src := newFakeSource()

	a, err := testBuilder(src).BuildFullDB(context.Background())
	if err != nil {
		t.Fatalf("BuildFullDB() error: %v", err)
	}
	if a.Kind != archive.KindFullDB {
		t.Errorf("unexpected kind: %s", a.Kind)
	}

	payload, err := a.Payload()
	if err != nil {
		t.Fatalf("Payload() error: %v", err)
	}
	if string(payload) != "opaque database blob" {
		t.Error("fulldb blob must pass through unmodified")
	}
	if a.Filename() != "auto_20260301_0200.zip" {
		t.Errorf("fulldb filename must keep the source name, got %s", a.Filename())
	}
}
