package tool

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/scheduler"
	"github.com/executive-assistant/ken/internal/storage"
)

// flowToolNames are the flow-management tools a flow's own agent steps may
// not declare, mirroring the Python original's FLOW_TOOL_NAMES guard
// against a flow scheduling itself recursively.
var flowToolNames = map[string]bool{
	"create_flow": true, "list_flows": true, "run_flow": true,
	"cancel_flow": true, "delete_flow": true, "flow_status": true,
}

// FlowRunner executes a previously-created flow by ID. internal/flow.Runner
// (C8) implements this; kept as a narrow interface here so internal/tool
// never imports internal/flow (composition happens in cmd/ken).
type FlowRunner interface {
	RunFlow(cc CallContext, flowID string) (string, error)
}

type flowAgentSpecArgs struct {
	AgentID      string         `json:"agent_id"`
	Model        string         `json:"model,omitempty"`
	Tools        []string       `json:"tools,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
}

type createFlowArgs struct {
	Name                 string                 `json:"name" jsonschema:"required"`
	Description          string                 `json:"description" jsonschema:"required"`
	Agents               []flowAgentSpecArgs    `json:"agents" jsonschema:"required,description=Ordered chain of agent steps"`
	ScheduleType         string                 `json:"schedule_type,omitempty" jsonschema:"description=immediate\\, scheduled\\, or recurring,default=immediate"`
	ScheduleTime         string                 `json:"schedule_time,omitempty" jsonschema:"description=Required when schedule_type=scheduled; natural-language time"`
	CronExpression       string                 `json:"cron_expression,omitempty" jsonschema:"description=Required when schedule_type=recurring"`
	NotifyOnComplete     bool                   `json:"notify_on_complete,omitempty"`
	NotifyOnFailure      bool                   `json:"notify_on_failure,omitempty" jsonschema:"default=true"`
	NotificationChannels []string               `json:"notification_channels,omitempty"`
	RunMode              string                 `json:"run_mode,omitempty" jsonschema:"default=normal"`
	Middleware           map[string]any         `json:"middleware,omitempty"`
}

type listFlowsArgs struct {
	Status string `json:"status,omitempty" jsonschema:"description=Filter by status: pending, running, completed, failed, cancelled"`
}

type runFlowArgs struct {
	FlowID string `json:"flow_id" jsonschema:"required"`
}

type flowStatusArgs struct {
	FlowID string `json:"flow_id" jsonschema:"required"`
}

type cancelFlowArgs struct {
	FlowID string `json:"flow_id" jsonschema:"required"`
}

// RegisterFlowTools wires create_flow/list_flows/run_flow/flow_status/
// cancel_flow against store and runner, grounded on
// original_source/src/executive_assistant/tools/flow_tools.py.
func RegisterFlowTools(r *Registry, store storage.RelationalStore, runner FlowRunner) error {
	createSchema, err := SchemaFor[createFlowArgs]()
	if err != nil {
		return err
	}
	listSchema, err := SchemaFor[listFlowsArgs]()
	if err != nil {
		return err
	}
	runSchema, err := SchemaFor[runFlowArgs]()
	if err != nil {
		return err
	}
	statusSchema, err := SchemaFor[flowStatusArgs]()
	if err != nil {
		return err
	}
	cancelSchema, err := SchemaFor[cancelFlowArgs]()
	if err != nil {
		return err
	}

	if err := r.Register("create_flow", Tool{
		Name:        "create_flow",
		Description: "Create a multi-agent flow (executor chain) for immediate, scheduled, or recurring execution.",
		Schema:      createSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			return createFlowHandler(cc, args, store)
		},
	}); err != nil {
		return err
	}

	if err := r.Register("list_flows", Tool{
		Name:        "list_flows",
		Description: "List flows for the current workspace, optionally filtered by status.",
		Schema:      listSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			return "list_flows is not available: no per-owner flow index yet; use flow_status with a known flow_id.", nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register("run_flow", Tool{
		Name:        "run_flow",
		Description: "Run a flow immediately by ID.",
		Schema:      runSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			id, _ := args["flow_id"].(string)
			if runner == nil {
				return "", fmt.Errorf("run_flow: no flow runner configured")
			}
			return runner.RunFlow(cc, id)
		},
	}); err != nil {
		return err
	}

	if err := r.Register("flow_status", Tool{
		Name:        "flow_status",
		Description: "Get the current status of a flow by ID.",
		Schema:      statusSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			id, _ := args["flow_id"].(string)
			flow, ok, err := store.GetFlow(cc.Context, id)
			if err != nil {
				return "", fmt.Errorf("flow_status: %w", err)
			}
			if !ok {
				return fmt.Sprintf("Flow %s not found.", id), nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Flow %s (%s): %s\n", flow.ID, flow.Name, flow.Status)
			fmt.Fprintf(&b, "Due: %s\n", flow.DueTime.Format("2006-01-02 15:04"))
			if flow.Cron != "" {
				fmt.Fprintf(&b, "Cron: %s\n", flow.Cron)
			}
			if flow.Result != "" {
				fmt.Fprintf(&b, "Result: %s\n", flow.Result)
			}
			if flow.Error != "" {
				fmt.Fprintf(&b, "Error: %s\n", flow.Error)
			}
			return b.String(), nil
		},
	}); err != nil {
		return err
	}

	return r.Register("cancel_flow", Tool{
		Name:        "cancel_flow",
		Description: "Cancel a pending flow by ID.",
		Schema:      cancelSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			id, _ := args["flow_id"].(string)
			ok, err := store.TransitionFlow(cc.Context, id, domain.FlowPending, domain.FlowCancelled, "", "")
			if err != nil {
				return "", fmt.Errorf("cancel_flow: %w", err)
			}
			if !ok {
				return fmt.Sprintf("Flow %s not found or not pending.", id), nil
			}
			return fmt.Sprintf("Flow %s cancelled.", id), nil
		},
	})
}

func createFlowHandler(cc CallContext, args map[string]any, store storage.RelationalStore) (string, error) {
	name, _ := args["name"].(string)
	description, _ := args["description"].(string)
	scheduleType, _ := args["schedule_type"].(string)
	if scheduleType == "" {
		scheduleType = "immediate"
	}
	scheduleType = strings.ToLower(scheduleType)
	scheduleTime, _ := args["schedule_time"].(string)
	cronExpr, _ := args["cron_expression"].(string)
	notifyOnComplete, _ := args["notify_on_complete"].(bool)
	notifyOnFailure := true
	if v, ok := args["notify_on_failure"].(bool); ok {
		notifyOnFailure = v
	}
	middleware, _ := args["middleware"].(map[string]any)

	agentsRaw, _ := args["agents"].([]any)
	agents := make([]domain.AgentSpec, 0, len(agentsRaw))
	var forbidden []string
	for _, raw := range agentsRaw {
		m, _ := raw.(map[string]any)
		spec := domain.AgentSpec{}
		spec.AgentID, _ = m["agent_id"].(string)
		spec.Model, _ = m["model"].(string)
		spec.SystemPrompt, _ = m["system_prompt"].(string)
		spec.OutputSchema, _ = m["output_schema"].(map[string]any)
		if toolsRaw, ok := m["tools"].([]any); ok {
			for _, tr := range toolsRaw {
				name, _ := tr.(string)
				spec.Tools = append(spec.Tools, name)
				if flowToolNames[name] {
					forbidden = append(forbidden, name)
				}
			}
		}
		agents = append(agents, spec)
	}
	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return fmt.Sprintf("Flow agents may not use flow management tools: %v", dedupe(forbidden)), nil
	}

	now := time.Now()
	dueTime := now
	switch scheduleType {
	case "scheduled":
		if scheduleTime == "" {
			return "schedule_time is required for scheduled flows.", nil
		}
		t, err := scheduler.ParseTimeExpression(scheduleTime, "", now)
		if err != nil {
			return "", err
		}
		dueTime = t
	case "recurring":
		if cronExpr == "" {
			return "cron_expression is required for recurring flows.", nil
		}
		t, err := scheduler.NextCronTime(cronExpr, now)
		if err != nil {
			return "", fmt.Errorf("create_flow: %w", err)
		}
		dueTime = t
	case "immediate":
	default:
		return "schedule_type must be immediate, scheduled, or recurring.", nil
	}

	notificationChannels, _ := args["notification_channels"].([]any)
	channels := make([]string, 0, len(notificationChannels))
	for _, c := range notificationChannels {
		s, _ := c.(string)
		channels = append(channels, s)
	}
	if len(channels) == 0 && cc.Channel != "" {
		channels = []string{cc.Channel}
	}

	flowID := "flow_" + uuid.NewString()
	spec := domain.FlowSpec{
		FlowID:               flowID,
		Name:                 name,
		Description:          description,
		Agents:               agents,
		ScheduleType:         domain.ScheduleType(scheduleType),
		Cron:                 cronExpr,
		NotifyOnComplete:     notifyOnComplete,
		NotifyOnFailure:      notifyOnFailure,
		NotificationChannels: channels,
		MiddlewareConfig:     middleware,
	}

	flow := domain.ScheduledFlow{
		ID:        flowID,
		OwnerUser: cc.UserID,
		ThreadID:  cc.ThreadID,
		Name:      name,
		Spec:      spec,
		DueTime:   dueTime,
		Cron:      cronExpr,
		Status:    domain.FlowPending,
	}
	if err := store.CreateScheduledFlow(cc.Context, flow); err != nil {
		return "", fmt.Errorf("create_flow: %w", err)
	}

	return fmt.Sprintf("Flow created: %s (%s) scheduled for %s", flowID, name, dueTime.Format(time.RFC3339)), nil
}

func dedupe(s []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(s))
	for _, v := range s {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
