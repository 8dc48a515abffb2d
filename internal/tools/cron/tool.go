// Package cron provides the tool agents use to manage scheduled jobs.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/clawcore/internal/agent"
	croncore "github.com/haasonsaas/clawcore/internal/cron"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// Tool exposes cron service actions.
type Tool struct {
	service *croncore.Service
	now     func() time.Time
}

// NewTool creates a cron tool.
func NewTool(service *croncore.Service) *Tool {
	return &Tool{service: service, now: time.Now}
}

func (t *Tool) Name() string { return "cron" }

func (t *Tool) Description() string {
	return "Schedule tasks for later: one-time delays or timestamps, fixed intervals, or cron expressions. " +
		"Actions: add, list, remove, enable, disable."
}

func (t *Tool) Capability() models.Capability { return models.CapabilitySchedule }

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": []string{"add", "list", "remove", "enable", "disable"},
			},
			"name":    map[string]interface{}{"type": "string", "description": "Job name (add)."},
			"message": map[string]interface{}{"type": "string", "description": "Task prompt, or the text to send when deliver is true (add)."},
			"at_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Run once this many seconds from now (add).",
			},
			"at": map[string]interface{}{
				"type":        "string",
				"description": "Run once at an RFC3339 or 'YYYY-MM-DD HH:MM' time (add).",
			},
			"every_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Repeat at this interval in seconds (add).",
			},
			"cron_expr": map[string]interface{}{
				"type":        "string",
				"description": "Cron expression such as '0 9 * * *' (add).",
			},
			"tz": map[string]interface{}{
				"type":        "string",
				"description": "IANA time zone for at and cron_expr (add).",
			},
			"deliver": map[string]interface{}{
				"type":        "boolean",
				"description": "Send message to the chat verbatim instead of running it as a task (default false).",
			},
			"job_id": map[string]interface{}{
				"type":        "string",
				"description": "Job id or unique prefix (remove, enable, disable).",
			},
		},
		"required": []string{"action"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

type input struct {
	Action       string `json:"action"`
	Name         string `json:"name"`
	Message      string `json:"message"`
	AtSeconds    int64  `json:"at_seconds"`
	At           string `json:"at"`
	EverySeconds int64  `json:"every_seconds"`
	CronExpr     string `json:"cron_expr"`
	TZ           string `json:"tz"`
	Deliver      bool   `json:"deliver"`
	JobID        string `json:"job_id"`
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.service == nil {
		return toolError("cron service unavailable"), nil
	}
	var in input
	if err := json.Unmarshal(params, &in); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}

	switch strings.ToLower(strings.TrimSpace(in.Action)) {
	case "add":
		return t.add(ctx, in), nil
	case "list":
		return t.list(), nil
	case "remove":
		if err := t.service.Remove(in.JobID); err != nil {
			return jobError(err), nil
		}
		return jsonResult(map[string]interface{}{"status": "removed", "job_id": in.JobID}), nil
	case "enable", "disable":
		enable := strings.EqualFold(strings.TrimSpace(in.Action), "enable")
		var (
			job *croncore.Job
			err error
		)
		if enable {
			job, err = t.service.Enable(in.JobID)
		} else {
			job, err = t.service.Disable(in.JobID)
		}
		if err != nil {
			return jobError(err), nil
		}
		return jsonResult(summarize(*job)), nil
	case "":
		return toolError("action is required"), nil
	default:
		return toolError(fmt.Sprintf("unsupported action %q", in.Action)), nil
	}
}

func (t *Tool) add(ctx context.Context, in input) *agent.ToolResult {
	schedule, err := t.schedule(in)
	if err != nil {
		return toolError(err.Error())
	}
	ec, _ := agent.ExecContextFrom(ctx)
	job, err := t.service.Add(croncore.AddRequest{
		Name:     in.Name,
		Schedule: schedule,
		Message:  in.Message,
		Channel:  string(ec.Channel),
		To:       ec.ChatID,
		Deliver:  in.Deliver,
	})
	if err != nil {
		return toolError(err.Error())
	}
	return jsonResult(summarize(*job))
}

func (t *Tool) schedule(in input) (croncore.Schedule, error) {
	set := 0
	for _, given := range []bool{in.AtSeconds > 0, strings.TrimSpace(in.At) != "", in.EverySeconds > 0, strings.TrimSpace(in.CronExpr) != ""} {
		if given {
			set++
		}
	}
	if set != 1 {
		return croncore.Schedule{}, errors.New("exactly one of at_seconds, at, every_seconds or cron_expr is required")
	}
	switch {
	case in.AtSeconds > 0:
		return croncore.AtSchedule(t.now().Add(time.Duration(in.AtSeconds) * time.Second)), nil
	case strings.TrimSpace(in.At) != "":
		at, err := croncore.ParseAt(in.At, in.TZ)
		if err != nil {
			return croncore.Schedule{}, err
		}
		return croncore.AtSchedule(at), nil
	case in.EverySeconds > 0:
		return croncore.EverySchedule(time.Duration(in.EverySeconds) * time.Second), nil
	default:
		return croncore.CronSchedule(in.CronExpr, in.TZ), nil
	}
}

func (t *Tool) list() *agent.ToolResult {
	jobs := t.service.List(true)
	out := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, summarize(job))
	}
	return jsonResult(map[string]interface{}{"jobs": out})
}

func summarize(job croncore.Job) map[string]interface{} {
	entry := map[string]interface{}{
		"id":       job.ID,
		"name":     job.Name,
		"enabled":  job.Enabled,
		"schedule": job.Schedule.String(),
		"deliver":  job.Payload.Deliver,
	}
	if job.State.NextRun != nil {
		entry["next_run"] = job.State.NextRun.Format(time.RFC3339)
	}
	if job.State.LastStatus != "" {
		entry["last_status"] = job.State.LastStatus
	}
	if job.State.LastError != "" {
		entry["last_error"] = job.State.LastError
	}
	return entry
}

func jobError(err error) *agent.ToolResult {
	if errors.Is(err, croncore.ErrJobNotFound) {
		return toolError(err.Error())
	}
	return toolError(fmt.Sprintf("cron: %v", err))
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

func jsonResult(payload any) *agent.ToolResult {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(encoded)}
}
