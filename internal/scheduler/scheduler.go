// Package scheduler produces the due windows a pipeline run processes for
// one topic, and the catch-up pack decision for topics that have fallen
// behind their cadence. Grounded on jamyct-fleet's scheduler framework: a
// cycle collects inputs, classifies them, and emits a bounded, ordered
// result set with start/end structured logging around the cycle.
package scheduler

import (
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/logger"
)

// Config holds the tunables for due-window production.
type Config struct {
	MaxBackfillWindows int
	MinWindowSeconds   int
	LagSeconds         int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{MaxBackfillWindows: 6, MinWindowSeconds: 60, LagSeconds: 60}
}

// Window is one due [Start, End) interval a pipeline run should process.
type Window struct {
	Start   time.Time
	End     time.Time
	Mode    core.Tier
	Trigger string
}

// DueWindows produces the set of due windows for one topic as of now,
// without mutating any cursor; the caller advances Topic.DigestCursorEnd
// only after a window completes successfully.
func DueWindows(topic core.Topic, now time.Time, cfg Config) []Window {
	startTime := now
	defer func() {
		logger.Debug("scheduler cycle completed", "topic_id", topic.ID, "latency_ms", time.Since(startTime).Milliseconds())
	}()

	if !topic.DigestScheduleEnabled {
		return nil
	}

	intervalMs := int64(topic.DigestIntervalMinutes) * 60_000
	if intervalMs <= 0 {
		return nil
	}

	var cursorEndMs int64
	if topic.DigestCursorEnd != nil {
		cursorEndMs = topic.DigestCursorEnd.UnixMilli()
	} else {
		nowMs := now.UnixMilli()
		cursorEndMs = (nowMs/60_000)*60_000 - intervalMs
	}

	nowMs := now.UnixMilli()
	minWindowMs := int64(cfg.MinWindowSeconds) * 1000
	lagMs := int64(cfg.LagSeconds) * 1000
	maxBackfill := cfg.MaxBackfillWindows
	if maxBackfill <= 0 {
		maxBackfill = DefaultConfig().MaxBackfillWindows
	}

	windows := make([]Window, 0, maxBackfill)
	for i := 0; i < maxBackfill; i++ {
		windowStartMs := cursorEndMs
		windowEndMs := cursorEndMs + intervalMs

		if windowEndMs <= nowMs-lagMs && intervalMs >= minWindowMs {
			windows = append(windows, Window{
				Start:   time.UnixMilli(windowStartMs).UTC(),
				End:     time.UnixMilli(windowEndMs).UTC(),
				Mode:    topic.DigestMode,
				Trigger: "scheduled",
			})
		}
		cursorEndMs = windowEndMs
	}

	return windows
}
