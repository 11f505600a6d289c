package scheduler

import (
	"testing"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
)

func TestDueWindowsDisabledSchedule(t *testing.T) {
	topic := core.Topic{ID: "t1", DigestScheduleEnabled: false, DigestIntervalMinutes: 60}
	windows := DueWindows(topic, time.Now(), DefaultConfig())
	if windows != nil {
		t.Fatalf("expected nil windows for disabled schedule, got %v", windows)
	}
}

func TestDueWindowsFreshTopicEmitsOneWindow(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	topic := core.Topic{
		ID:                    "t1",
		DigestScheduleEnabled: true,
		DigestIntervalMinutes: 60,
		DigestMode:            core.TierNormal,
	}
	// Zero lag: the fresh cursor is 11:00, so the 11:00-12:00 window is
	// due exactly at now. With the default 60s lag it would not be due yet.
	cfg := Config{MaxBackfillWindows: 6, MinWindowSeconds: 60, LagSeconds: 0}
	windows := DueWindows(topic, now, cfg)
	if len(windows) != 1 {
		t.Fatalf("expected exactly one window for a fresh topic, got %d: %v", len(windows), windows)
	}
	w := windows[0]
	if !w.End.Before(now) && !w.End.Equal(now) {
		t.Errorf("expected window end at or before now, got %v vs now %v", w.End, now)
	}
	if w.Trigger != "scheduled" {
		t.Errorf("expected trigger scheduled, got %q", w.Trigger)
	}
	if w.Mode != core.TierNormal {
		t.Errorf("expected mode to mirror topic digest mode, got %v", w.Mode)
	}
}

func TestDueWindowsBackfillCappedAndOrdered(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	cursor := now.Add(-10 * time.Hour)
	topic := core.Topic{
		ID:                    "t1",
		DigestScheduleEnabled: true,
		DigestIntervalMinutes: 60,
		DigestCursorEnd:       &cursor,
	}
	cfg := Config{MaxBackfillWindows: 3, MinWindowSeconds: 60, LagSeconds: 60}
	windows := DueWindows(topic, now, cfg)
	if len(windows) != 3 {
		t.Fatalf("expected backfill cap of 3 windows, got %d", len(windows))
	}
	for i := 1; i < len(windows); i++ {
		if !windows[i].End.After(windows[i-1].End) {
			t.Errorf("expected strictly increasing window end, got %v then %v", windows[i-1].End, windows[i].End)
		}
		if !windows[i].Start.Equal(windows[i-1].End) {
			t.Errorf("expected contiguous windows, got start %v after previous end %v", windows[i].Start, windows[i-1].End)
		}
	}
}

func TestDueWindowsRespectsLag(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 30, 0, time.UTC)
	cursor := now.Add(-90 * time.Second)
	topic := core.Topic{
		ID:                    "t1",
		DigestScheduleEnabled: true,
		DigestIntervalMinutes: 1,
		DigestCursorEnd:       &cursor,
	}
	cfg := Config{MaxBackfillWindows: 6, MinWindowSeconds: 60, LagSeconds: 60}
	windows := DueWindows(topic, now, cfg)
	for _, w := range windows {
		if w.End.After(now.Add(-time.Duration(cfg.LagSeconds) * time.Second)) {
			t.Errorf("window end %v violates lag cutoff relative to now %v", w.End, now)
		}
	}
}

func TestDueWindowsRejectsIntervalBelowMinimum(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	topic := core.Topic{
		ID:                    "t1",
		DigestScheduleEnabled: true,
		DigestIntervalMinutes: 1,
	}
	cfg := Config{MaxBackfillWindows: 6, MinWindowSeconds: 120, LagSeconds: 0}
	windows := DueWindows(topic, now, cfg)
	if len(windows) != 0 {
		t.Fatalf("expected no windows when interval is below minWindowSeconds, got %d", len(windows))
	}
}
