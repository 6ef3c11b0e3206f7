// Package source talks to the application's admin HTTP API: tenant
// discovery, record export/import, file attachments and the native
// full-database backup primitive.
package source

import (
	"context"
	"errors"
)

// Record is an open key/value mapping. Collections carry arbitrary fields;
// only ids and file references are interpreted.
type Record = map[string]any

// Tenant is one owner whose data is isolated in its own archive namespace.
type Tenant struct {
	ID       string
	Name     string
	OwnerRef string
}

// DataSource is the admin API surface the backup and restore flows consume.
type DataSource interface {
	// Authenticate obtains an admin session. Must be called before any
	// other operation.
	Authenticate(ctx context.Context) error

	// ListTenants returns all owner-scoped tenants, exhausting pagination.
	ListTenants(ctx context.Context) ([]Tenant, error)

	// ListRecords returns every record of a collection, exhausting
	// pagination. ownerFilter restricts to one tenant's records; empty
	// means no filter. A collection that does not exist yields an empty
	// slice, not an error.
	ListRecords(ctx context.Context, collection, ownerFilter string) ([]Record, error)

	// FetchFile downloads one file attachment.
	FetchFile(ctx context.Context, collection, recordID, filename string) ([]byte, error)

	// UpsertRecord creates the record under the given id if absent,
	// otherwise overwrites its fields. Reports whether it was created.
	UpsertRecord(ctx context.Context, collection, id string, fields Record) (created bool, err error)

	// UploadFile re-attaches a file to its original field slot.
	UploadFile(ctx context.Context, collection, recordID, field, filename string, data []byte) error

	// RequestFullExport triggers the native whole-database backup and
	// downloads it as an opaque blob.
	RequestFullExport(ctx context.Context) (name string, data []byte, err error)

	// StageFullImport uploads an opaque full-database blob back into the
	// data source's backup slot. The destructive import itself remains an
	// explicit operator action.
	StageFullImport(ctx context.Context, name string, data []byte) error
}

// Sentinel errors for collaborator failure classification.
var (
	// ErrAuth means credentials were rejected. Permanent, never retried.
	ErrAuth = errors.New("data source: authentication failed")

	// ErrUnavailable means the data source could not be reached or
	// answered with a server error. Transient.
	ErrUnavailable = errors.New("data source: unavailable")

	// ErrNotFound means the requested record, file or backup is absent.
	ErrNotFound = errors.New("data source: not found")
)

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
