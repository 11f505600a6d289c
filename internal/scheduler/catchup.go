package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/llm"
	"github.com/lamosty/aharadar-go/internal/logger"
)

// BacklogWindow is a due window that has not yet been processed because
// it falls beyond the current cycle's backfill cap.
type BacklogWindow struct {
	Start time.Time
	End   time.Time
}

// CatchupDecision records how one backlog window should be handled.
type CatchupDecision struct {
	Window  BacklogWindow
	FullRun bool
	Tier    core.Tier
}

// SelectCatchupPack asks the LLM router which backlog windows are worth a
// full pipeline run versus a cheap heuristic-only catch-up summary, and
// at what tier the chosen ones should run. When paid calls are not
// allowed, no router call is made: every window gets a low-tier
// decision, and only the most recent window is marked as a full run.
func SelectCatchupPack(ctx context.Context, router *llm.TracedRouter, topic core.Topic, backlog []BacklogWindow, paidCallsAllowed bool) ([]CatchupDecision, error) {
	if len(backlog) == 0 {
		return nil, nil
	}

	if !paidCallsAllowed {
		logger.Info("catchup pack falling back to heuristic-only selection", "topic_id", topic.ID, "backlog_size", len(backlog))
		return heuristicCatchupPack(backlog), nil
	}

	selectPrompt := catchupSelectPrompt(topic, backlog)
	selectResult, err := router.CatchupPackSelect(ctx, llm.TierLow, selectPrompt)
	if err != nil {
		return nil, fmt.Errorf("catchup pack select: %w", err)
	}
	chosen := parseChosenIndices(selectResult.RawText, len(backlog))

	decisions := make([]CatchupDecision, len(backlog))
	for i, window := range backlog {
		decisions[i] = CatchupDecision{Window: window, Tier: core.TierLow}
	}
	if len(chosen) == 0 {
		return decisions, nil
	}

	tierPrompt := catchupTierPrompt(topic, backlog, chosen)
	tierResult, err := router.CatchupPackTier(ctx, llm.TierLow, tierPrompt)
	if err != nil {
		return nil, fmt.Errorf("catchup pack tier: %w", err)
	}
	tiers := parseChosenTiers(tierResult.RawText, chosen)

	for _, idx := range chosen {
		if idx < 0 || idx >= len(decisions) {
			continue
		}
		decisions[idx].FullRun = true
		if tier, ok := tiers[idx]; ok {
			decisions[idx].Tier = tier
		} else {
			decisions[idx].Tier = core.TierNormal
		}
	}
	return decisions, nil
}

// heuristicCatchupPack keeps the most recent window as a full run and
// downgrades everything older to a heuristic-only summary, since the
// newest window is the most likely to still be relevant to the user.
func heuristicCatchupPack(backlog []BacklogWindow) []CatchupDecision {
	decisions := make([]CatchupDecision, len(backlog))
	for i, window := range backlog {
		decisions[i] = CatchupDecision{Window: window, Tier: core.TierLow}
	}
	if len(decisions) > 0 {
		decisions[len(decisions)-1].FullRun = true
		decisions[len(decisions)-1].Tier = core.TierLow
	}
	return decisions
}

func catchupSelectPrompt(topic core.Topic, backlog []BacklogWindow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic %q has %d backlogged digest windows. List which windows (by index, 0-based) deserve a full pipeline run versus a cheap summary. Reply with one line: SELECT: <comma-separated indices>.\n\n", topic.Name, len(backlog))
	for i, window := range backlog {
		fmt.Fprintf(&b, "%d: %s to %s\n", i, window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
	}
	return b.String()
}

func catchupTierPrompt(topic core.Topic, backlog []BacklogWindow, chosen []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic %q selected these backlog windows for a full run. For each, choose a depth tier (low, normal, high). Reply with one line per index: TIER: <index>=<tier>.\n\n", topic.Name)
	for _, idx := range chosen {
		if idx < 0 || idx >= len(backlog) {
			continue
		}
		fmt.Fprintf(&b, "%d: %s to %s\n", idx, backlog[idx].Start.Format(time.RFC3339), backlog[idx].End.Format(time.RFC3339))
	}
	return b.String()
}

func parseChosenIndices(text string, backlogSize int) []int {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		if !strings.HasPrefix(upper, "SELECT:") {
			continue
		}
		rest := strings.TrimSpace(line[len("SELECT:"):])
		if rest == "" {
			return nil
		}
		var indices []int
		for _, part := range strings.Split(rest, ",") {
			part = strings.TrimSpace(part)
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= backlogSize {
				continue
			}
			indices = append(indices, idx)
		}
		return indices
	}
	return nil
}

func parseChosenTiers(text string, chosen []int) map[int]core.Tier {
	tiers := make(map[int]core.Tier)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		if !strings.HasPrefix(upper, "TIER:") {
			continue
		}
		rest := strings.TrimSpace(line[len("TIER:"):])
		idxStr, tierStr, ok := strings.Cut(rest, "=")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(tierStr)) {
		case "low":
			tiers[idx] = core.TierLow
		case "normal":
			tiers[idx] = core.TierNormal
		case "high":
			tiers[idx] = core.TierHigh
		}
	}
	return tiers
}
