// Package crontool exposes cron job management to the Channel LLM: create,
// list, enable, disable, and trigger recurring jobs.
package crontool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/store/sqlite"
)

// Scheduler is the subset of the cron scheduler the tool drives.
type Scheduler interface {
	Register(ctx context.Context, row sqlite.CronJob) error
	Unregister(jobID string)
	SetEnabled(ctx context.Context, jobID string, enabled bool) error
	TriggerNow(ctx context.Context, jobID string) error
}

// Tool is the cron management tool.
type Tool struct {
	scheduler Scheduler
	store     *sqlite.Store
	// defaultTarget is used when the LLM omits delivery_target; typically
	// the conversation the tool call came from.
	defaultTarget string
}

// New creates a cron tool. defaultTarget may be empty.
func New(scheduler Scheduler, store *sqlite.Store, defaultTarget string) *Tool {
	return &Tool{scheduler: scheduler, store: store, defaultTarget: defaultTarget}
}

func (t *Tool) Definitions() []spacebot.ToolDefinition {
	return []spacebot.ToolDefinition{{
		Name:        "cron",
		Description: "Manage recurring jobs. action is one of create, list, enable, disable, delete, trigger. Jobs run their prompt on an interval and deliver the result to adapter:target.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"action":{"type":"string","enum":["create","list","enable","disable","delete","trigger"]},
			"id":{"type":"string"},
			"prompt":{"type":"string"},
			"interval_secs":{"type":"integer"},
			"delivery_target":{"type":"string","description":"adapter:target, e.g. discord:123456"},
			"active_hours":{"type":"array","items":{"type":"integer"},"description":"[start, end) wall-clock hours"},
			"run_once":{"type":"boolean"},
			"timeout_secs":{"type":"integer"}},
			"required":["action"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (spacebot.ToolResult, error) {
	var p struct {
		Action         string `json:"action"`
		ID             string `json:"id"`
		Prompt         string `json:"prompt"`
		IntervalSecs   int    `json:"interval_secs"`
		DeliveryTarget string `json:"delivery_target"`
		ActiveHours    []int  `json:"active_hours"`
		RunOnce        bool   `json:"run_once"`
		TimeoutSecs    int    `json:"timeout_secs"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return spacebot.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	switch p.Action {
	case "create":
		if p.ID == "" || p.Prompt == "" {
			return spacebot.ToolResult{Error: "id and prompt are required"}, nil
		}
		if p.IntervalSecs <= 0 {
			p.IntervalSecs = 3600
		}
		target := p.DeliveryTarget
		if target == "" {
			target = t.defaultTarget
		}
		if target == "" {
			return spacebot.ToolResult{Error: "delivery_target is required"}, nil
		}
		row := sqlite.CronJob{
			ID:             p.ID,
			Prompt:         p.Prompt,
			IntervalSecs:   p.IntervalSecs,
			DeliveryTarget: target,
			Enabled:        true,
			RunOnce:        p.RunOnce,
			TimeoutSecs:    p.TimeoutSecs,
		}
		if len(p.ActiveHours) == 2 {
			row.ActiveStart, row.ActiveEnd = &p.ActiveHours[0], &p.ActiveHours[1]
		}
		if err := t.scheduler.Register(ctx, row); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: fmt.Sprintf("cron job %s created (every %ds)", p.ID, p.IntervalSecs)}, nil

	case "list":
		rows, err := t.store.LoadCronJobs(ctx, false)
		if err != nil {
			return spacebot.ToolResult{}, err
		}
		if len(rows) == 0 {
			return spacebot.ToolResult{Content: "no cron jobs"}, nil
		}
		var b strings.Builder
		for _, r := range rows {
			state := "disabled"
			if r.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(&b, "- %s: every %ds → %s (%s) %q\n",
				r.ID, r.IntervalSecs, r.DeliveryTarget, state, firstWords(r.Prompt, 10))
		}
		return spacebot.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil

	case "enable", "disable":
		if p.ID == "" {
			return spacebot.ToolResult{Error: "id is required"}, nil
		}
		if err := t.scheduler.SetEnabled(ctx, p.ID, p.Action == "enable"); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: "cron job " + p.ID + " " + p.Action + "d"}, nil

	case "delete":
		if p.ID == "" {
			return spacebot.ToolResult{Error: "id is required"}, nil
		}
		t.scheduler.Unregister(p.ID)
		if err := t.store.DeleteCronJob(ctx, p.ID); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: "cron job " + p.ID + " deleted"}, nil

	case "trigger":
		if p.ID == "" {
			return spacebot.ToolResult{Error: "id is required"}, nil
		}
		if err := t.scheduler.TriggerNow(ctx, p.ID); err != nil {
			return spacebot.ToolResult{Error: err.Error()}, nil
		}
		return spacebot.ToolResult{Content: "cron job " + p.ID + " triggered"}, nil
	}
	return spacebot.ToolResult{Error: "invalid action: " + p.Action}, nil
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ") + "…"
}
