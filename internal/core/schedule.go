package core

import "time"

// Schedule is a cron trigger for an agent. At most one schedule exists per
// agent; creating a second one is a conflict.
type Schedule struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	UserID    string         `json:"user_id"`
	CronExpr  string         `json:"cron_expr"`
	Timezone  string         `json:"timezone"`
	Input     map[string]any `json:"input,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ScheduleUsage summarizes a user's scheduling activity.
type ScheduleUsage struct {
	Schedules      int `json:"schedules"`
	RunsToday      int `json:"runs_today"`
	RemainingToday int `json:"remaining_today"`
}
