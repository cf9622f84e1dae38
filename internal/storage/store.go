package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
)

// CostEstimator prices an llm_call without an explicit cost. The bool is
// false when the model is unknown to the pricing catalog.
type CostEstimator func(model string, tokensIn, tokensOut int64) (float64, bool)

// Store owns all in-memory tables. Each table has its own lock; batch-level
// linearization (previous-status capture atomic with the append) is the
// ingestion pipeline's responsibility.
type Store struct {
	dataDir string
	log     *logger.Logger

	events        *table[*events.Event]
	tenants       *table[*Tenant]
	apiKeys       *table[*APIKey]
	projects      *table[*Project]
	agents        *table[*AgentRecord]
	projectAgents *table[*ProjectAgent]
	alertRules    *table[*AlertRule]
	alertHistory  *table[*AlertHistoryEntry]

	// eventIndex tracks (tenant_id, event_id) pairs for dedup. Guarded by
	// the events table lock.
	eventIndex map[string]struct{}

	estimate CostEstimator
}

// New loads all tables from dataDir, creating it if needed.
func New(dataDir string, estimate CostEstimator, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	s := &Store{
		dataDir:    dataDir,
		log:        log.WithFields(zap.String("component", "storage")),
		eventIndex: make(map[string]struct{}),
		estimate:   estimate,
	}

	var err error
	if s.events, err = loadTable[*events.Event](dataDir, "events"); err != nil {
		return nil, err
	}
	if s.tenants, err = loadTable[*Tenant](dataDir, "tenants"); err != nil {
		return nil, err
	}
	if s.apiKeys, err = loadTable[*APIKey](dataDir, "api_keys"); err != nil {
		return nil, err
	}
	if s.projects, err = loadTable[*Project](dataDir, "projects"); err != nil {
		return nil, err
	}
	if s.agents, err = loadTable[*AgentRecord](dataDir, "agents"); err != nil {
		return nil, err
	}
	if s.projectAgents, err = loadTable[*ProjectAgent](dataDir, "project_agents"); err != nil {
		return nil, err
	}
	if s.alertRules, err = loadTable[*AlertRule](dataDir, "alert_rules"); err != nil {
		return nil, err
	}
	if s.alertHistory, err = loadTable[*AlertHistoryEntry](dataDir, "alert_history"); err != nil {
		return nil, err
	}

	for _, e := range s.events.rows {
		s.eventIndex[eventKey(e.TenantID, e.EventID)] = struct{}{}
	}

	s.log.Info("Storage loaded",
		zap.Int("events", len(s.events.rows)),
		zap.Int("tenants", len(s.tenants.rows)),
		zap.Int("agents", len(s.agents.rows)))
	return s, nil
}

func eventKey(tenantID, eventID string) string {
	return tenantID + "\x00" + eventID
}

// HashKey returns the hex sha256 of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TableCounts returns row counts per table, for the health endpoint.
func (s *Store) TableCounts() map[string]int {
	return map[string]int{
		"events":         s.events.count(),
		"tenants":        s.tenants.count(),
		"api_keys":       s.apiKeys.count(),
		"projects":       s.projects.count(),
		"agents":         s.agents.count(),
		"project_agents": s.projectAgents.count(),
		"alert_rules":    s.alertRules.count(),
		"alert_history":  s.alertHistory.count(),
	}
}

// InsertEvents appends events, silently skipping (tenant_id, event_id)
// duplicates, and persists the table. Returns the number actually inserted.
func (s *Store) InsertEvents(evs []*events.Event) (int, error) {
	inserted := 0
	err := s.events.mutate(func() (bool, error) {
		for _, e := range evs {
			key := eventKey(e.TenantID, e.EventID)
			if _, dup := s.eventIndex[key]; dup {
				continue
			}
			s.eventIndex[key] = struct{}{}
			s.events.rows = append(s.events.rows, e)
			inserted++
		}
		return inserted > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Tenants

// GetTenant returns the tenant by ID.
func (s *Store) GetTenant(tenantID string) (*Tenant, error) {
	s.tenants.mu.RLock()
	defer s.tenants.mu.RUnlock()
	for _, t := range s.tenants.rows {
		if t.TenantID == tenantID {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

// CreateTenant adds a tenant along with its implicit default project.
func (s *Store) CreateTenant(t *Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	err := s.tenants.mutate(func() (bool, error) {
		for _, existing := range s.tenants.rows {
			if existing.TenantID == t.TenantID {
				return false, ErrConflict
			}
		}
		s.tenants.rows = append(s.tenants.rows, t)
		return true, nil
	})
	if err != nil {
		return err
	}
	return s.projects.mutate(func() (bool, error) {
		s.projects.rows = append(s.projects.rows, &Project{
			ProjectID: uuid.New().String(),
			TenantID:  t.TenantID,
			Slug:      DefaultProjectSlug,
			Name:      "Default",
			CreatedAt: t.CreatedAt,
		})
		return true, nil
	})
}

// API keys

// GetKeyByHash looks up a non-revoked API key by its sha256 hash.
func (s *Store) GetKeyByHash(hash string) (*APIKey, error) {
	s.apiKeys.mu.RLock()
	defer s.apiKeys.mu.RUnlock()
	for _, k := range s.apiKeys.rows {
		if k.KeyHash == hash && !k.Revoked {
			return k, nil
		}
	}
	return nil, ErrNotFound
}

// CreateAPIKey stores a key record (the hash, never the raw key).
func (s *Store) CreateAPIKey(k *APIKey) error {
	if k.KeyID == "" {
		k.KeyID = uuid.New().String()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	return s.apiKeys.mutate(func() (bool, error) {
		for _, existing := range s.apiKeys.rows {
			if existing.KeyHash == k.KeyHash {
				return false, ErrConflict
			}
		}
		s.apiKeys.rows = append(s.apiKeys.rows, k)
		return true, nil
	})
}

// EnsureDevTenant bootstraps the dev tenant and its live key from an injected
// raw key. Idempotent: an existing key hash or tenant is left alone.
func (s *Store) EnsureDevTenant(rawKey string) error {
	const devTenantID = "dev"
	if _, err := s.GetTenant(devTenantID); err == ErrNotFound {
		err := s.CreateTenant(&Tenant{
			TenantID: devTenantID,
			Name:     "Development",
			Plan:     "enterprise",
		})
		if err != nil && err != ErrConflict {
			return err
		}
	}
	hash := HashKey(rawKey)
	if _, err := s.GetKeyByHash(hash); err == nil {
		return nil
	}
	err := s.CreateAPIKey(&APIKey{
		TenantID: devTenantID,
		KeyHash:  hash,
		KeyType:  events.KeyTypeLive,
		Name:     "dev bootstrap key",
	})
	if err == ErrConflict {
		return nil
	}
	return err
}

// Agents

// GetAgent returns the cache row for (tenantID, agentID).
func (s *Store) GetAgent(tenantID, agentID string) (*AgentRecord, error) {
	s.agents.mu.RLock()
	defer s.agents.mu.RUnlock()
	for _, a := range s.agents.rows {
		if a.TenantID == tenantID && a.AgentID == agentID {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

// UpsertAgent replaces or inserts the cache row for (rec.TenantID,
// rec.AgentID). Records are never deleted.
func (s *Store) UpsertAgent(rec *AgentRecord) error {
	return s.agents.mutate(func() (bool, error) {
		for i, a := range s.agents.rows {
			if a.TenantID == rec.TenantID && a.AgentID == rec.AgentID {
				s.agents.rows[i] = rec
				return true, nil
			}
		}
		s.agents.rows = append(s.agents.rows, rec)
		return true, nil
	})
}

// AgentRecords returns the cache rows for a tenant.
func (s *Store) AgentRecords(tenantID string) []*AgentRecord {
	s.agents.mu.RLock()
	defer s.agents.mu.RUnlock()
	var out []*AgentRecord
	for _, a := range s.agents.rows {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out
}

// Project-agent junction

// EnsureProjectAgent records the (tenant, project, agent) triple when new.
func (s *Store) EnsureProjectAgent(tenantID, projectID, agentID string) error {
	return s.projectAgents.mutate(func() (bool, error) {
		for _, pa := range s.projectAgents.rows {
			if pa.TenantID == tenantID && pa.ProjectID == projectID && pa.AgentID == agentID {
				return false, nil
			}
		}
		s.projectAgents.rows = append(s.projectAgents.rows, &ProjectAgent{
			TenantID:  tenantID,
			ProjectID: projectID,
			AgentID:   agentID,
			FirstSeen: time.Now().UTC(),
		})
		return true, nil
	})
}

// ProjectAgents returns the agent IDs recorded for a project.
func (s *Store) ProjectAgents(tenantID, projectID string) map[string]bool {
	s.projectAgents.mu.RLock()
	defer s.projectAgents.mu.RUnlock()
	out := make(map[string]bool)
	for _, pa := range s.projectAgents.rows {
		if pa.TenantID == tenantID && pa.ProjectID == projectID {
			out[pa.AgentID] = true
		}
	}
	return out
}

// Projects

// KnownProject reports whether ref names an existing project for the tenant,
// matching either the project ID or the slug.
func (s *Store) KnownProject(tenantID, ref string) bool {
	s.projects.mu.RLock()
	defer s.projects.mu.RUnlock()
	for _, p := range s.projects.rows {
		if p.TenantID == tenantID && (p.ProjectID == ref || p.Slug == ref) {
			return true
		}
	}
	return false
}

// ListProjects returns a tenant's projects.
func (s *Store) ListProjects(tenantID string) []*Project {
	s.projects.mu.RLock()
	defer s.projects.mu.RUnlock()
	var out []*Project
	for _, p := range s.projects.rows {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out
}

// GetProject returns a project by ID or slug.
func (s *Store) GetProject(tenantID, ref string) (*Project, error) {
	s.projects.mu.RLock()
	defer s.projects.mu.RUnlock()
	for _, p := range s.projects.rows {
		if p.TenantID == tenantID && (p.ProjectID == ref || p.Slug == ref) {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

// CreateProject adds a project; slug collisions within the tenant conflict.
func (s *Store) CreateProject(p *Project) error {
	if p.ProjectID == "" {
		p.ProjectID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return s.projects.mutate(func() (bool, error) {
		for _, existing := range s.projects.rows {
			if existing.TenantID == p.TenantID && existing.Slug == p.Slug {
				return false, ErrConflict
			}
		}
		s.projects.rows = append(s.projects.rows, p)
		return true, nil
	})
}

// UpdateProject replaces a project row. The default project keeps its slug.
func (s *Store) UpdateProject(p *Project) error {
	return s.projects.mutate(func() (bool, error) {
		for i, existing := range s.projects.rows {
			if existing.TenantID == p.TenantID && existing.ProjectID == p.ProjectID {
				if existing.Slug == DefaultProjectSlug && p.Slug != DefaultProjectSlug {
					return false, ErrCannotDeleteDefault
				}
				for _, other := range s.projects.rows {
					if other.ProjectID != p.ProjectID && other.TenantID == p.TenantID && other.Slug == p.Slug {
						return false, ErrConflict
					}
				}
				s.projects.rows[i] = p
				return true, nil
			}
		}
		return false, ErrNotFound
	})
}

// DeleteProject removes a project. The implicit default cannot be deleted.
func (s *Store) DeleteProject(tenantID, ref string) error {
	return s.projects.mutate(func() (bool, error) {
		for i, p := range s.projects.rows {
			if p.TenantID == tenantID && (p.ProjectID == ref || p.Slug == ref) {
				if p.Slug == DefaultProjectSlug {
					return false, ErrCannotDeleteDefault
				}
				s.projects.rows = append(s.projects.rows[:i], s.projects.rows[i+1:]...)
				return true, nil
			}
		}
		return false, ErrNotFound
	})
}

// Alert rules

// ListAlertRules returns a tenant's rules.
func (s *Store) ListAlertRules(tenantID string) []*AlertRule {
	s.alertRules.mu.RLock()
	defer s.alertRules.mu.RUnlock()
	var out []*AlertRule
	for _, r := range s.alertRules.rows {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out
}

// GetAlertRule returns one rule by ID.
func (s *Store) GetAlertRule(tenantID, ruleID string) (*AlertRule, error) {
	s.alertRules.mu.RLock()
	defer s.alertRules.mu.RUnlock()
	for _, r := range s.alertRules.rows {
		if r.TenantID == tenantID && r.RuleID == ruleID {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// CreateAlertRule adds a rule.
func (s *Store) CreateAlertRule(r *AlertRule) error {
	if r.RuleID == "" {
		r.RuleID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return s.alertRules.mutate(func() (bool, error) {
		s.alertRules.rows = append(s.alertRules.rows, r)
		return true, nil
	})
}

// UpdateAlertRule replaces a rule row.
func (s *Store) UpdateAlertRule(r *AlertRule) error {
	return s.alertRules.mutate(func() (bool, error) {
		for i, existing := range s.alertRules.rows {
			if existing.TenantID == r.TenantID && existing.RuleID == r.RuleID {
				s.alertRules.rows[i] = r
				return true, nil
			}
		}
		return false, ErrNotFound
	})
}

// DeleteAlertRule removes a rule.
func (s *Store) DeleteAlertRule(tenantID, ruleID string) error {
	return s.alertRules.mutate(func() (bool, error) {
		for i, r := range s.alertRules.rows {
			if r.TenantID == tenantID && r.RuleID == ruleID {
				s.alertRules.rows = append(s.alertRules.rows[:i], s.alertRules.rows[i+1:]...)
				return true, nil
			}
		}
		return false, ErrNotFound
	})
}

// Alert history

// AppendAlertHistory records a rule firing. Append-only.
func (s *Store) AppendAlertHistory(entry *AlertHistoryEntry) error {
	if entry.EventID == "" {
		entry.EventID = uuid.New().String()
	}
	if entry.FiredAt.IsZero() {
		entry.FiredAt = time.Now().UTC()
	}
	return s.alertHistory.mutate(func() (bool, error) {
		s.alertHistory.rows = append(s.alertHistory.rows, entry)
		return true, nil
	})
}

// ListAlertHistory returns a tenant's alert history, newest first.
func (s *Store) ListAlertHistory(tenantID string, limit int) []*AlertHistoryEntry {
	s.alertHistory.mu.RLock()
	defer s.alertHistory.mu.RUnlock()
	var out []*AlertHistoryEntry
	for i := len(s.alertHistory.rows) - 1; i >= 0; i-- {
		e := s.alertHistory.rows[i]
		if e.TenantID != tenantID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
