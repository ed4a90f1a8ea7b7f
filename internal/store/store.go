package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an instance id does not exist.
var ErrNotFound = errors.New("instance not found")

// Session types recorded when a session closes.
const (
	SessionManual     = "manual"
	SessionBackground = "background"
	SessionShutdown   = "shutdown"
)

// Instance is a persisted browser target. Active is true while exactly one
// live session for the instance exists in the orchestrator.
type Instance struct {
	ID                  int64      `json:"id"`
	URL                 string     `json:"url"`
	Name                string     `json:"name,omitempty"`
	Description         string     `json:"description,omitempty"`
	GroupName           string     `json:"group_name,omitempty"`
	Tags                string     `json:"tags,omitempty"`
	Priority            int        `json:"priority"`
	CreatedAt           time.Time  `json:"created_at"`
	LastOpenedAt        *time.Time `json:"last_opened_at,omitempty"`
	LastClosedAt        *time.Time `json:"last_closed_at,omitempty"`
	TotalOpenCount      int        `json:"total_open_count"`
	TotalRuntimeMinutes int        `json:"total_runtime_minutes"`
	Active              bool       `json:"is_active"`

	// derived on listing
	SessionCount   int        `json:"session_count"`
	LastSessionEnd *time.Time `json:"last_session_end,omitempty"`
}

// Metadata is the descriptive part of an instance supplied on creation.
type Metadata struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	GroupName   string `json:"group_name,omitempty"`
	Tags        string `json:"tags,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// InstancePatch updates only the non-nil fields.
type InstancePatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	GroupName   *string `json:"group_name,omitempty"`
	Tags        *string `json:"tags,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
}

// SessionRecord is the append-only history row written when a session ends.
type SessionRecord struct {
	ID             int64     `json:"id"`
	InstanceID     int64     `json:"instance_id"`
	OpenedAt       time.Time `json:"opened_at"`
	ClosedAt       time.Time `json:"closed_at"`
	RuntimeMinutes int       `json:"runtime_minutes"`
	CookiesCount   int       `json:"cookies_count"`
	SessionType    string    `json:"session_type"`
}

// Statistics is the rollup over all instances.
type Statistics struct {
	TotalInstances      int `json:"total_instances"`
	ActiveInstances     int `json:"active_instances"`
	TotalSessions       int `json:"total_sessions"`
	TotalRuntimeMinutes int `json:"total_runtime"`
	TotalGroups         int `json:"total_groups"`
}

// GroupSummary aggregates the instances sharing a group name.
type GroupSummary struct {
	GroupName           string     `json:"group_name"`
	InstanceCount       int        `json:"instance_count"`
	TotalRuntimeMinutes int        `json:"total_runtime"`
	LastActivity        *time.Time `json:"last_activity,omitempty"`
}

// Repository persists instances and session history. Timestamps are passed
// in by the caller so that the orchestrator's clock is the single source of
// time. Implementations must be safe for concurrent use.
type Repository interface {
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// CreateInstance inserts an active instance with an open count of 1.
	CreateInstance(ctx context.Context, url string, meta Metadata, now time.Time) (int64, error)
	GetInstance(ctx context.Context, id int64) (Instance, error)
	// ListInstances orders by last_closed_at ascending; never-closed instances last.
	ListInstances(ctx context.Context) ([]Instance, error)
	UpdateInstance(ctx context.Context, id int64, patch InstancePatch) error
	UpdateInstanceURL(ctx context.Context, id int64, url string) error
	// MarkOpened sets last_opened_at, increments the open count and marks active.
	MarkOpened(ctx context.Context, id int64, now time.Time) error
	SetInactive(ctx context.Context, id int64) error
	// RecordSession appends rec and, in the same transaction, sets the
	// instance's last_closed_at, adds the runtime and marks it inactive.
	RecordSession(ctx context.Context, rec SessionRecord) (int64, error)
	ListSessions(ctx context.Context, instanceID int64, limit int) ([]SessionRecord, error)
	// ListClosedForRotation returns up to limit inactive instances that have
	// been closed at least once, oldest close first (ties by id).
	ListClosedForRotation(ctx context.Context, limit int) ([]Instance, error)
	ListActive(ctx context.Context) ([]Instance, error)
	// DeleteInstance removes the instance and its session records.
	DeleteInstance(ctx context.Context, id int64) error
	Statistics(ctx context.Context) (Statistics, error)
	GroupSummaries(ctx context.Context) ([]GroupSummary, error)
}
