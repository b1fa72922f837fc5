package mcptools

import (
	"context"

	"github.com/dorkos/dorkos/internal/pulse"
)

// PulseContributor exposes spec §4.5 "Pulse": list_schedules,
// create_schedule, update_schedule, delete_schedule, get_run_history.
type PulseContributor struct {
	Store *pulse.Store
}

var _ ToolContributor = (*PulseContributor)(nil)

func (c *PulseContributor) Tools() []ToolSpec {
	if c.Store == nil {
		return nil
	}
	return []ToolSpec{
		{
			Name:        "list_schedules",
			Description: "List all Pulse schedules.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				all, err := c.Store.ListSchedules()
				if err != nil {
					return err.Error(), true
				}
				return marshalOrError(all)
			},
		},
		{
			Name:        "create_schedule",
			Description: "Create a Pulse schedule. Schedules created by an agent start pending approval.",
			SchemaJSON: []byte(`{
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"name": {"type": "string"},
					"cronExpr": {"type": "string"},
					"timezone": {"type": "string"},
					"workingDir": {"type": "string"},
					"prompt": {"type": "string"},
					"model": {"type": "string"},
					"creator": {"type": "string"}
				},
				"required": ["id", "name", "cronExpr", "prompt"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				if err := pulse.ValidateCronExpr(strArg(args, "cronExpr")); err != nil {
					return err.Error(), true
				}
				sched := pulse.Schedule{
					ID:         strArg(args, "id"),
					Name:       strArg(args, "name"),
					CronExpr:   strArg(args, "cronExpr"),
					Timezone:   strArg(args, "timezone"),
					WorkingDir: strArg(args, "workingDir"),
					Prompt:     strArg(args, "prompt"),
					Model:      strArg(args, "model"),
					Creator:    strArg(args, "creator"),
					Enabled:    true,
					Status:     pulse.StatusPendingApproval,
				}
				created, err := c.Store.CreateSchedule(sched)
				if err != nil {
					return err.Error(), true
				}
				return marshalOrError(created)
			},
		},
		{
			Name:        "update_schedule",
			Description: "Update an existing Pulse schedule's fields.",
			SchemaJSON: []byte(`{
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"name": {"type": "string"},
					"cronExpr": {"type": "string"},
					"prompt": {"type": "string"},
					"status": {"type": "string"},
					"enabled": {"type": "boolean"}
				},
				"required": ["id"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				sched, ok, err := c.Store.GetSchedule(strArg(args, "id"))
				if err != nil {
					return err.Error(), true
				}
				if !ok {
					return "schedule not found", true
				}
				if v := strArg(args, "name"); v != "" {
					sched.Name = v
				}
				if v := strArg(args, "cronExpr"); v != "" {
					if err := pulse.ValidateCronExpr(v); err != nil {
						return err.Error(), true
					}
					sched.CronExpr = v
				}
				if v := strArg(args, "prompt"); v != "" {
					sched.Prompt = v
				}
				if v := strArg(args, "status"); v != "" {
					sched.Status = pulse.Status(v)
				}
				if v, ok := args["enabled"].(bool); ok {
					sched.Enabled = v
				}
				if err := c.Store.UpdateSchedule(sched); err != nil {
					return err.Error(), true
				}
				return marshalOrError(sched)
			},
		},
		{
			Name:        "delete_schedule",
			Description: "Delete a Pulse schedule by ID.",
			SchemaJSON:  []byte(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				if err := c.Store.DeleteSchedule(strArg(args, "id")); err != nil {
					return err.Error(), true
				}
				return "deleted", false
			},
		},
		{
			Name:        "get_run_history",
			Description: "List paginated Pulse runs, optionally filtered by schedule or status.",
			SchemaJSON: []byte(`{
				"type": "object",
				"properties": {
					"scheduleId": {"type": "string"},
					"status": {"type": "string"},
					"limit": {"type": "integer"},
					"offset": {"type": "integer"}
				}
			}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				runs, err := c.Store.ListRuns(pulse.ListRunsOptions{
					ScheduleID: strArg(args, "scheduleId"),
					Status:     pulse.RunStatus(strArg(args, "status")),
					Limit:      intArg(args, "limit"),
					Offset:     intArg(args, "offset"),
				})
				if err != nil {
					return err.Error(), true
				}
				return marshalOrError(runs)
			},
		},
	}
}
