package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func TestWindowShouldRun(t *testing.T) {
	tests := []struct {
		name           string
		config         Config
		lastRun        time.Time
		wantAllow      bool
		wantReasonPart string
	}{
		{
			name:           "no previous backup",
			config:         Config{MinInterval: 6 * time.Hour},
			lastRun:        time.Time{},
			wantAllow:      true,
			wantReasonPart: "no previous backup",
		},
		{
			name:           "forced run",
			config:         Config{MinInterval: 6 * time.Hour, Force: true},
			lastRun:        time.Now().Add(-1 * time.Hour),
			wantAllow:      true,
			wantReasonPart: "forced run",
		},
		{
			name:           "run too recent",
			config:         Config{MinInterval: 6 * time.Hour},
			lastRun:        time.Now().Add(-2 * time.Hour),
			wantAllow:      false,
			wantReasonPart: "next run allowed in",
		},
		{
			name:           "run allowed after interval",
			config:         Config{MinInterval: 6 * time.Hour},
			lastRun:        time.Now().Add(-7 * time.Hour),
			wantAllow:      true,
			wantReasonPart: "ago",
		},
		{
			name:           "zero interval always allows",
			config:         Config{MinInterval: 0},
			lastRun:        time.Now().Add(-time.Second),
			wantAllow:      true,
			wantReasonPart: "ago",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWindow(tt.config)
			allow, reason := w.ShouldRun(tt.lastRun)
			if allow != tt.wantAllow {
				t.Errorf("ShouldRun() allow = %v, want %v (reason: %s)", allow, tt.wantAllow, reason)
			}
			if !strings.Contains(reason, tt.wantReasonPart) {
				t.Errorf("ShouldRun() reason = %q, want substring %q", reason, tt.wantReasonPart)
			}
		})
	}
}

func TestWindowMinInterval(t *testing.T) {
	w := NewWindow(Config{MinInterval: 30 * time.Minute})
	if got := w.MinInterval(); got != 30*time.Minute {
		t.Errorf("MinInterval() = %v", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45 seconds"},
		{5 * time.Minute, "5 minutes"},
		{90 * time.Minute, "1.5 hours"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
