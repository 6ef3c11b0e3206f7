// Package ratelimit provides respawn protection for backup runs: a crashed
// and restarting scheduler must not hammer the data source with back-to-back
// full exports.
package ratelimit

import (
	"fmt"
	"time"
)

// Limiter decides whether a backup run may proceed.
type Limiter interface {
	// ShouldRun reports whether a run may start given when the previous
	// archive landed in the remote store. The string holds a
	// human-readable reason when the run is suppressed.
	ShouldRun(lastRun time.Time) (bool, string)

	// MinInterval returns the minimum spacing between runs.
	MinInterval() time.Duration
}

// Config holds run suppression settings.
type Config struct {
	// MinInterval is the minimum time between runs.
	MinInterval time.Duration

	// Force overrides suppression when true.
	Force bool
}

// Window implements Limiter with a fixed time window.
type Window struct {
	config Config
}

// NewWindow creates a time-window limiter.
func NewWindow(config Config) *Window {
	return &Window{config: config}
}

// ShouldRun implements Limiter.
func (w *Window) ShouldRun(lastRun time.Time) (bool, string) {
	if w.config.Force {
		return true, "forced run requested"
	}
	if lastRun.IsZero() {
		return true, "no previous backup found"
	}

	elapsed := time.Since(lastRun)
	if elapsed < w.config.MinInterval {
		remaining := w.config.MinInterval - elapsed
		return false, fmt.Sprintf(
			"last backup was %s ago, next run allowed in %s",
			formatDuration(elapsed),
			formatDuration(remaining),
		)
	}
	return true, fmt.Sprintf("last backup was %s ago", formatDuration(elapsed))
}

// MinInterval implements Limiter.
func (w *Window) MinInterval() time.Duration {
	return w.config.MinInterval
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0f minutes", d.Minutes())
	}
	return fmt.Sprintf("%.1f hours", d.Hours())
}
