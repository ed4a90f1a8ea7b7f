package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// CreateRequest opens a new instance.
type CreateRequest struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	GroupName   string `json:"groupName,omitempty"`
	Tags        string `json:"tags,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// UpdateRequest changes only the non-nil fields.
type UpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	GroupName   *string `json:"groupName,omitempty"`
	Tags        *string `json:"tags,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
}

// Status is the daemon-wide snapshot.
type Status struct {
	IsRunning             bool   `json:"isRunning"`
	URL                   string `json:"url"`
	CurrentInstanceID     int64  `json:"currentInstanceId,omitempty"`
	HasInstance           bool   `json:"hasInstance"`
	ClientsConnected      int    `json:"clientsConnected"`
	BackgroundTaskActive  bool   `json:"backgroundTaskActive"`
	RunningInstancesCount int    `json:"runningInstancesCount"`
}

// RunningSession describes one live browser session.
type RunningSession struct {
	InstanceID int64     `json:"instanceId"`
	URL        string    `json:"url"`
	StartTime  time.Time `json:"startTime"`
	Status     string    `json:"status"`
}

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
	SessionCount        int        `json:"session_count"`
	LastSessionEnd      *time.Time `json:"last_session_end,omitempty"`
}

type SessionRecord struct {
	ID             int64     `json:"id"`
	InstanceID     int64     `json:"instance_id"`
	OpenedAt       time.Time `json:"opened_at"`
	ClosedAt       time.Time `json:"closed_at"`
	RuntimeMinutes int       `json:"runtime_minutes"`
	CookiesCount   int       `json:"cookies_count"`
	SessionType    string    `json:"session_type"`
}

type Statistics struct {
	TotalInstances      int `json:"total_instances"`
	ActiveInstances     int `json:"active_instances"`
	TotalSessions       int `json:"total_sessions"`
	TotalRuntimeMinutes int `json:"total_runtime"`
	TotalGroups         int `json:"total_groups"`
}

type GroupSummary struct {
	GroupName           string     `json:"group_name"`
	InstanceCount       int        `json:"instance_count"`
	TotalRuntimeMinutes int        `json:"total_runtime"`
	LastActivity        *time.Time `json:"last_activity,omitempty"`
}

type RotationStats struct {
	Active            bool  `json:"active"`
	Index             int64 `json:"index"`
	Pass              int   `json:"pass"`
	VisitedInPass     int   `json:"visitedInPass"`
	LastInstanceID    int64 `json:"lastInstanceId,omitempty"`
	CurrentInstanceID int64 `json:"currentInstanceId,omitempty"`
}

// ClosedInstances is the rotation view of closed instances.
type ClosedInstances struct {
	Total     int        `json:"totalClosed"`
	Index     int64      `json:"currentIndex"`
	Instances []Instance `json:"instances"`
}

type Content struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	HTML  string `json:"content"`
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Result is the acknowledgement returned by mutating calls.
type Result struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	InstanceID int64  `json:"instance_id,omitempty"`
}

type envelope struct {
	Result
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
