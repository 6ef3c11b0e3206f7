// Package backup drives one backup run end to end: enumerate tenants, build
// and upload snapshots with bounded parallelism, then the global and
// full-database phases, then a single notification.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/storeops/tenant-backup/internal/archive"
	"github.com/storeops/tenant-backup/internal/config"
	"github.com/storeops/tenant-backup/internal/metrics"
	"github.com/storeops/tenant-backup/internal/notify"
	"github.com/storeops/tenant-backup/internal/ratelimit"
	"github.com/storeops/tenant-backup/internal/retry"
	"github.com/storeops/tenant-backup/internal/snapshot"
	"github.com/storeops/tenant-backup/internal/source"
	"github.com/storeops/tenant-backup/internal/storage"
	"github.com/storeops/tenant-backup/internal/upload"
)

// TenantOutcome records one tenant's result within a run.
type TenantOutcome struct {
	TenantID   string
	TenantName string
	OK         bool
	Reason     string
	RemotePath string
}

// PhaseOutcome records the global or full-database phase result.
type PhaseOutcome struct {
	Ran        bool
	OK         bool
	Reason     string
	RemotePath string
}

// RunResult aggregates one run. It is built incrementally under the mutex
// and finalized exactly once; aggregation is independent of tenant
// completion order.
type RunResult struct {
	StartedAt  time.Time
	FinishedAt time.Time

	Suppressed     bool
	SuppressReason string

	mu      sync.Mutex
	Tenants map[string]TenantOutcome
	Global  PhaseOutcome
	FullDB  PhaseOutcome
}

func (r *RunResult) recordTenant(o TenantOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Tenants[o.TenantID] = o
}

// FailedTenants returns the names of tenants that failed, sorted.
func (r *RunResult) FailedTenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, o := range r.Tenants {
		if !o.OK {
			names = append(names, o.TenantName)
		}
	}
	sort.Strings(names)
	return names
}

// Success reports whether every attempted phase and tenant succeeded.
func (r *RunResult) Success() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.Tenants {
		if !o.OK {
			return false
		}
	}
	if r.Global.Ran && !r.Global.OK {
		return false
	}
	if r.FullDB.Ran && !r.FullDB.OK {
		return false
	}
	return true
}

// Status returns success, partial or failure for metrics and notification.
func (r *RunResult) Status() string {
	if r.Success() {
		return "success"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	anyOK := (r.Global.Ran && r.Global.OK) || (r.FullDB.Ran && r.FullDB.OK)
	for _, o := range r.Tenants {
		if o.OK {
			anyOK = true
		}
	}
	if anyOK {
		return "partial"
	}
	return "failure"
}

// ExitCode maps the run outcome to the process exit code: 0 full success,
// 2 partial failure. Fatal pre-run errors exit 1 at the entry point.
func (r *RunResult) ExitCode() int {
	if r.Success() {
		return 0
	}
	return 2
}

// Orchestrator runs backups.
type Orchestrator struct {
	cfg      *config.Config
	src      source.DataSource
	store    storage.Store
	builder  *snapshot.Builder
	uploader *upload.Manager
	notifier *notify.Notifier
	limiter  ratelimit.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// New wires an orchestrator from its collaborators.
func New(cfg *config.Config, src source.DataSource, store storage.Store, logger *slog.Logger) *Orchestrator {
	policy := retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay(), Jitter: true}
	return &Orchestrator{
		cfg:      cfg,
		src:      src,
		store:    store,
		builder:  snapshot.NewBuilder(cfg, src, logger),
		uploader: upload.NewManager(store, policy, logger),
		notifier: notify.New(cfg.WebhookURL, cfg.WebhookOnSuccess, cfg.WebhookOnFailure, policy, logger),
		limiter: ratelimit.NewWindow(ratelimit.Config{
			MinInterval: cfg.RunInterval(),
			Force:       cfg.ForceBackup,
		}),
		logger: logger.With("component", "backup"),
		now:    time.Now,
	}
}

// Run executes one backup run. A returned error means the run could not
// start (auth, enumeration); per-tenant and per-phase failures are recorded
// in the RunResult instead.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		StartedAt: o.now().UTC(),
		Tenants:   make(map[string]TenantOutcome),
	}
	defer func() { result.FinishedAt = o.now().UTC() }()

	if err := o.src.Authenticate(ctx); err != nil {
		o.notifier.Send(ctx, notify.Event{
			Title:   "Backup Failed",
			Message: "authentication with the data source was rejected",
			IsError: true,
		})
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	if skip, reason := o.checkRunWindow(ctx); skip {
		o.logger.Info("run suppressed", "reason", reason)
		metrics.RunsSuppressed.Inc()
		result.Suppressed = true
		result.SuppressReason = reason
		return result, nil
	}

	tenants, err := o.src.ListTenants(ctx)
	if err != nil {
		o.notifier.Send(ctx, notify.Event{
			Title:   "Backup Failed",
			Message: "tenant enumeration failed",
			IsError: true,
		})
		return nil, fmt.Errorf("enumerate tenants: %w", err)
	}
	o.logger.Info("run started", "tenants", len(tenants), "workers", o.cfg.Workers)

	runDir := filepath.Join(o.cfg.LocalTempDir, uuid.NewString())

	o.runTenantPhase(ctx, result, tenants, runDir)
	o.runGlobalPhase(ctx, result, runDir)
	o.runFullDBPhase(ctx, result, runDir)

	result.FinishedAt = o.now().UTC()
	status := result.Status()
	metrics.RecordRun(status)
	if result.Success() {
		metrics.LastRunTimestamp.SetToCurrentTime()
		o.pruneLocal()
	}

	o.notify(ctx, result)
	o.logger.Info("run finished",
		"status", status,
		"tenants_ok", len(result.Tenants)-len(result.FailedTenants()),
		"tenants_failed", len(result.FailedTenants()),
		"duration", result.FinishedAt.Sub(result.StartedAt).String(),
	)
	return result, nil
}

// checkRunWindow consults the newest remote object's age. A store error here
// is not fatal: the run proceeds rather than being wedged by a listing
// hiccup.
func (o *Orchestrator) checkRunWindow(ctx context.Context) (bool, string) {
	if o.limiter.MinInterval() <= 0 && !o.cfg.ForceBackup {
		return false, ""
	}
	last, err := storage.NewestObjectTime(ctx, o.store)
	if err != nil {
		o.logger.Warn("could not determine last backup time, proceeding", "error", err)
		return false, ""
	}
	allow, reason := o.limiter.ShouldRun(last)
	return !allow, reason
}

// runTenantPhase backs up every tenant with a bounded worker pool. One
// tenant's failure never cancels the others.
func (o *Orchestrator) runTenantPhase(ctx context.Context, result *RunResult, tenants []source.Tenant, runDir string) {
	phaseStart := o.now()
	defer func() {
		metrics.RunDuration.WithLabelValues("tenants").Observe(o.now().Sub(phaseStart).Seconds())
	}()

	g, gctx := errgroup.WithContext(ctx)
	workers := o.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, tenant := range tenants {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				result.recordTenant(TenantOutcome{
					TenantID:   tenant.ID,
					TenantName: tenant.Name,
					Reason:     "run interrupted before tenant started",
				})
				return nil
			}
			o.backupTenant(gctx, result, tenant, runDir)
			return nil
		})
	}
	// Workers record their own outcomes and never return errors.
	_ = g.Wait()
}

func (o *Orchestrator) backupTenant(ctx context.Context, result *RunResult, tenant source.Tenant, runDir string) {
	outcome := TenantOutcome{TenantID: tenant.ID, TenantName: tenant.Name}

	a, err := o.builder.BuildTenant(ctx, tenant)
	if err != nil {
		outcome.Reason = fmt.Sprintf("snapshot build failed: %v", err)
		o.logger.Error("tenant backup failed", "tenant", tenant.Name, "error", err)
		metrics.RecordTenant(false)
		result.recordTenant(outcome)
		return
	}
	metrics.MissingFiles.Add(float64(len(a.Summary.MissingFiles)))

	res, err := o.uploadArchive(ctx, a, runDir)
	if err != nil {
		outcome.Reason = fmt.Sprintf("upload failed: %v", err)
		o.logger.Error("tenant upload failed", "tenant", tenant.Name, "error", err)
		metrics.RecordTenant(false)
		result.recordTenant(outcome)
		return
	}

	outcome.OK = true
	outcome.RemotePath = res.RemotePath
	metrics.RecordTenant(true)
	metrics.ArchiveSize.WithLabelValues(string(a.Kind)).Set(float64(res.Size))
	result.recordTenant(outcome)
}

// runGlobalPhase backs up the cross-tenant collections. It runs regardless
// of tenant outcomes.
func (o *Orchestrator) runGlobalPhase(ctx context.Context, result *RunResult, runDir string) {
	phaseStart := o.now()
	defer func() {
		metrics.RunDuration.WithLabelValues("global").Observe(o.now().Sub(phaseStart).Seconds())
	}()
	result.Global.Ran = true

	a, err := o.builder.BuildGlobal(ctx)
	if err != nil {
		result.Global.Reason = fmt.Sprintf("snapshot build failed: %v", err)
		o.logger.Error("global backup failed", "error", err)
		return
	}
	res, err := o.uploadArchive(ctx, a, runDir)
	if err != nil {
		result.Global.Reason = fmt.Sprintf("upload failed: %v", err)
		o.logger.Error("global upload failed", "error", err)
		return
	}
	result.Global.OK = true
	result.Global.RemotePath = res.RemotePath
	metrics.ArchiveSize.WithLabelValues(string(a.Kind)).Set(float64(res.Size))
}

// runFullDBPhase stores the data source's native whole-database export.
func (o *Orchestrator) runFullDBPhase(ctx context.Context, result *RunResult, runDir string) {
	if !o.cfg.IncludeFullDB {
		return
	}
	phaseStart := o.now()
	defer func() {
		metrics.RunDuration.WithLabelValues("fulldb").Observe(o.now().Sub(phaseStart).Seconds())
	}()
	result.FullDB.Ran = true

	a, err := o.builder.BuildFullDB(ctx)
	if err != nil {
		result.FullDB.Reason = fmt.Sprintf("export failed: %v", err)
		o.logger.Error("full database backup failed", "error", err)
		return
	}
	res, err := o.uploadArchive(ctx, a, runDir)
	if err != nil {
		result.FullDB.Reason = fmt.Sprintf("upload failed: %v", err)
		o.logger.Error("full database upload failed", "error", err)
		return
	}
	result.FullDB.OK = true
	result.FullDB.RemotePath = res.RemotePath
	metrics.ArchiveSize.WithLabelValues(string(a.Kind)).Set(float64(res.Size))
}

// uploadArchive writes a local copy under the run's scratch directory, then
// uploads and verifies. The local copy survives until retention pruning so
// a failed upload can be replayed with restore --file.
func (o *Orchestrator) uploadArchive(ctx context.Context, a *archive.Archive, runDir string) (*upload.Result, error) {
	local := filepath.Join(runDir, a.RemoteDir(), a.Filename())
	if _, err := a.WriteFile(local); err != nil {
		o.logger.Warn("could not write local archive copy", "path", local, "error", err)
	}
	return o.uploader.Upload(ctx, a)
}

// pruneLocal removes scratch files older than keep_local_days. Called only
// after a fully successful run.
func (o *Orchestrator) pruneLocal() {
	if o.cfg.KeepLocalDays <= 0 {
		return
	}
	cutoff := o.now().Add(-time.Duration(o.cfg.KeepLocalDays) * 24 * time.Hour)
	pruned := 0

	entries, err := os.ReadDir(o.cfg.LocalTempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			o.logger.Warn("local retention scan failed", "dir", o.cfg.LocalTempDir, "error", err)
		}
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(o.cfg.LocalTempDir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			o.logger.Warn("could not prune local snapshot", "path", p, "error", err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		o.logger.Info("pruned old local snapshots", "count", pruned, "keep_days", o.cfg.KeepLocalDays)
	}
}

// notify sends at most one webhook summarizing the run.
func (o *Orchestrator) notify(ctx context.Context, result *RunResult) {
	if result.Success() {
		o.notifier.Send(ctx, notify.Event{
			Title:   "Backup Complete",
			Message: successMessage(result),
			At:      result.FinishedAt,
		})
		return
	}
	o.notifier.Send(ctx, notify.Event{
		Title:   "Backup Finished With Errors",
		Message: failureMessage(result),
		IsError: true,
		At:      result.FinishedAt,
	})
}

func successMessage(r *RunResult) string {
	parts := []string{fmt.Sprintf("%d tenants backed up", len(r.Tenants))}
	if r.Global.Ran {
		parts = append(parts, "global data backed up")
	}
	if r.FullDB.Ran {
		parts = append(parts, "full database exported")
	}
	parts = append(parts, fmt.Sprintf("duration %s", r.FinishedAt.Sub(r.StartedAt).Round(time.Second)))
	return strings.Join(parts, "\n")
}

// failureMessage names failing tenants and phases without leaking record
// contents or credentials.
func failureMessage(r *RunResult) string {
	var parts []string
	failed := r.FailedTenants()
	if len(failed) > 0 {
		parts = append(parts, fmt.Sprintf("failed tenants (%d): %s", len(failed), strings.Join(failed, ", ")))
	}
	if r.Global.Ran && !r.Global.OK {
		parts = append(parts, "global backup failed: "+r.Global.Reason)
	}
	if r.FullDB.Ran && !r.FullDB.OK {
		parts = append(parts, "full database backup failed: "+r.FullDB.Reason)
	}
	parts = append(parts, fmt.Sprintf("%d of %d tenants succeeded", len(r.Tenants)-len(failed), len(r.Tenants)))
	return strings.Join(parts, "\n")
}
