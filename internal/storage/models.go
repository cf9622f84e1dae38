// Package storage implements HiveBoard's in-memory tables with JSON
// write-through persistence, the event query primitives, derived aggregates,
// and the retention engine.
package storage

import (
	"errors"
	"time"

	"github.com/hiveboard/hiveboard/internal/events"
)

// Sentinel errors surfaced to the API layer.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrCannotDeleteDefault = errors.New("cannot delete default project")
	ErrUnknownProject      = errors.New("unknown project")
)

// Tenant is the billing and data-isolation unit.
type Tenant struct {
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"` // free, pro, enterprise
	CreatedAt time.Time `json:"created_at"`
}

// APIKey is a bearer credential scoped to a tenant. Only the sha256 of the
// raw key is stored; the raw key is shown to the user exactly once.
type APIKey struct {
	KeyID     string         `json:"key_id"`
	TenantID  string         `json:"tenant_id"`
	KeyHash   string         `json:"key_hash"` // sha256(raw_key), hex
	KeyType   events.KeyType `json:"key_type"` // live, test, read
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	Revoked   bool           `json:"revoked"`
}

// DefaultProjectSlug exists implicitly for every tenant and cannot be deleted.
const DefaultProjectSlug = "default"

// Project is a named namespace within a tenant with a unique slug per tenant.
type Project struct {
	ProjectID string    `json:"project_id"`
	TenantID  string    `json:"tenant_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentRecord is the cache row keyed by (tenant_id, agent_id). It is an
// accelerator, not a source of truth; all canonical state is derivable from
// the event stream.
type AgentRecord struct {
	TenantID       string     `json:"tenant_id"`
	AgentID        string     `json:"agent_id"`
	AgentType      *string    `json:"agent_type"`
	AgentVersion   *string    `json:"agent_version"`
	Framework      *string    `json:"framework"`
	Environment    *string    `json:"environment"`
	Group          *string    `json:"group"`
	FirstSeen      time.Time  `json:"first_seen"`
	LastSeen       time.Time  `json:"last_seen"`
	LastHeartbeat  *time.Time `json:"last_heartbeat"`
	LastEventType  string     `json:"last_event_type"`
	LastTaskID     *string    `json:"last_task_id"`
	LastProjectID  *string    `json:"last_project_id"`
	PreviousStatus string     `json:"previous_status"`
}

// ProjectAgent is the many-to-many junction auto-populated on ingestion.
type ProjectAgent struct {
	TenantID  string    `json:"tenant_id"`
	ProjectID string    `json:"project_id"`
	AgentID   string    `json:"agent_id"`
	FirstSeen time.Time `json:"first_seen"`
}

// AlertRule is a tenant-scoped alerting rule.
type AlertRule struct {
	RuleID          string         `json:"rule_id"`
	TenantID        string         `json:"tenant_id"`
	Name            string         `json:"name"`
	ConditionType   string         `json:"condition_type"`
	ConditionParams map[string]any `json:"condition_params"`
	Severity        string         `json:"severity"`
	Channels        []string       `json:"channels"`
	Enabled         bool           `json:"enabled"`
	CreatedAt       time.Time      `json:"created_at"`
}

// AlertHistoryEntry records one rule firing. Append-only.
type AlertHistoryEntry struct {
	EventID            string     `json:"event_id"`
	RuleID             string     `json:"rule_id"`
	TenantID           string     `json:"tenant_id"`
	FiredAt            time.Time  `json:"fired_at"`
	TriggeringEventIDs []string   `json:"triggering_event_ids"`
	ResolvedAt         *time.Time `json:"resolved_at"`
}
