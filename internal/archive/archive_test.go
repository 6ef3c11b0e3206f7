package archive

import (
	"encoding/json"
	"testing"
	"time"
)

func sampleArchive(t *testing.T) *Archive {
	t.Helper()
	export := CollectionExport{
		Collection: "inventory",
		OwnerID:    "own12345678",
		ExportedAt: time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC),
		Count:      2,
		Records: []map[string]any{
			{"id": "i1", "name": "screen"},
			{"id": "i2", "name": "battery"},
		},
	}
	exportJSON, err := json.Marshal(export)
	if err != nil {
		t.Fatalf("marshal export: %v", err)
	}
	summary := Summary{
		Tenant:        "Main Street Repairs",
		OwnerID:       "own12345678",
		Date:          "2026-03-01_020000",
		Collections:   map[string]int{"inventory": 2},
		FilesCount:    1,
		Checksums:     map[string]string{"inventory.json": SHA256(exportJSON)},
		BackupVersion: SummaryVersion,
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		t.Fatalf("marshal summary: %v", err)
	}
	return &Archive{
		Kind:       KindTenant,
		TenantID:   "own12345678",
		TenantName: "Main Street Repairs",
		CreatedAt:  time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC),
		Entries: []Entry{
			{Name: "inventory.json", Data: exportJSON},
			{Name: "_files/users/u1/avatar.png", Data: []byte("png")},
			{Name: SummaryName, Data: summaryJSON},
		},
		Summary: &summary,
	}
}

func TestZipRoundTrip(t *testing.T) {
	a := sampleArchive(t)

	data, err := a.Zip()
	if err != nil {
		t.Fatalf("Zip() error: %v", err)
	}

	got, err := Open(data)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if got.Summary == nil {
		t.Fatal("summary not recovered")
	}
	if got.Summary.Tenant != "Main Street Repairs" || got.Summary.OwnerID != "own12345678" {
		t.Errorf("summary mismatch: %+v", got.Summary)
	}
	if got.TenantID != "own12345678" {
		t.Errorf("tenant id not recovered: %q", got.TenantID)
	}
	if !got.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("created_at mismatch: %v vs %v", got.CreatedAt, a.CreatedAt)
	}

	exports, err := got.Collections()
	if err != nil {
		t.Fatalf("Collections() error: %v", err)
	}
	if len(exports) != 1 || exports[0].Collection != "inventory" || exports[0].Count != 2 {
		t.Errorf("unexpected collection exports: %+v", exports)
	}
	if exports[0].Records[0]["name"] != "screen" {
		t.Errorf("record fields not preserved: %v", exports[0].Records[0])
	}

	files := got.Files()
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	f := files[0]
	if f.Collection != "users" || f.RecordID != "u1" || f.Filename != "avatar.png" || string(f.Data) != "png" {
		t.Errorf("unexpected file entry: %+v", f)
	}
}

func TestOpenWithoutSummary(t *testing.T) {
	a := &Archive{
		Kind:      KindTenant,
		CreatedAt: time.Now(),
		Entries: []Entry{
			{Name: "customers.json", Data: []byte(`{"collection":"customers","count":0,"records":[]}`)},
		},
	}
	data, err := a.Zip()
	if err != nil {
		t.Fatalf("Zip() error: %v", err)
	}
	got, err := Open(data)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	exports, err := got.Collections()
	if err != nil {
		t.Fatalf("Collections() error: %v", err)
	}
	if len(exports) != 1 || exports[0].Collection != "customers" {
		t.Errorf("pre-v2 archive not readable: %+v", exports)
	}
}

func TestNameRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 2, 30, 45, 0, time.UTC)
	name := Name(ts)
	if name != "backup_2026-03-01_023045.zip" {
		t.Errorf("unexpected name: %s", name)
	}
	got, err := ParseName(name)
	if err != nil {
		t.Fatalf("ParseName() error: %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("round trip mismatch: %v vs %v", got, ts)
	}
}

func TestParseNameLegacyMinutePrecision(t *testing.T) {
	got, err := ParseName("Main_Street_own12345/backup_2025-11-02_0230.zip")
	if err != nil {
		t.Fatalf("ParseName() error: %v", err)
	}
	want := time.Date(2025, 11, 2, 2, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseNameRejectsForeign(t *testing.T) {
	for _, name := range []string{"notes.txt", "backup_garbage.zip", "snapshot_2026.zip"} {
		if _, err := ParseName(name); err == nil {
			t.Errorf("ParseName(%q) should fail", name)
		}
	}
}

func TestFolderKey(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"Main Street Repairs", "own1234567890", "Main_Street_Repairs_own12345"},
		{"Büro/Laden #2", "abcdefgh", "B_ro_Laden__2_abcdefgh"},
		{"short", "id1", "short_id1"},
	}
	for _, tt := range tests {
		if got := FolderKey(tt.name, tt.id); got != tt.want {
			t.Errorf("FolderKey(%q, %q) = %q, want %q", tt.name, tt.id, got, tt.want)
		}
	}
}

func TestSHA256(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := SHA256([]byte("abc")); got != want {
		t.Errorf("SHA256 = %s, want %s", got, want)
	}
}

func TestRemoteDir(t *testing.T) {
	tenant := sampleArchive(t)
	if got := tenant.RemoteDir(); got != "Main_Street_Repairs_own12345" {
		t.Errorf("tenant RemoteDir = %q", got)
	}
	if got := (&Archive{Kind: KindGlobal}).RemoteDir(); got != GlobalDir {
		t.Errorf("global RemoteDir = %q", got)
	}
	if got := (&Archive{Kind: KindFullDB}).RemoteDir(); got != FullDBDir {
		t.Errorf("fulldb RemoteDir = %q", got)
	}
}
