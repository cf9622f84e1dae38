package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
)

// estimateStub knows a single model so tests can exercise both the estimated
// and the unknown-model path.
func estimateStub(model string, tokensIn, tokensOut int64) (float64, bool) {
	if model != "gpt-4o" {
		return 0, false
	}
	return float64(tokensIn)*0.0025/1000 + float64(tokensOut)*0.01/1000, true
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	s, err := New(t.TempDir(), estimateStub, log)
	require.NoError(t, err)
	return s
}

func testEvent(tenantID, agentID string, eventType events.EventType, ts time.Time, mut ...func(*events.Event)) *events.Event {
	e := &events.Event{
		EventID:   uuid.New().String(),
		TenantID:  tenantID,
		KeyType:   events.KeyTypeLive,
		Timestamp: ts,
		EventType: eventType,
		Severity:  events.DefaultSeverity(eventType, ""),
		AgentID:   agentID,
	}
	for _, m := range mut {
		m(e)
	}
	return e
}

func strPtr(s string) *string { return &s }

func TestInsertEventsDedup(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	e1 := testEvent("acme", "worker-1", events.EventTypeTaskStarted, now)
	e2 := testEvent("acme", "worker-1", events.EventTypeTaskCompleted, now.Add(time.Second))

	n, err := s.InsertEvents([]*events.Event{e1, e2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Resubmitting the same batch inserts nothing.
	n, err = s.InsertEvents([]*events.Event{e1, e2})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, s.TableCounts()["events"])

	// The same event_id under a different tenant is a distinct row.
	other := *e1
	other.TenantID = "globex"
	n, err = s.InsertEvents([]*events.Event{&other})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateTenantProvisionsDefaultProject(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTenant(&Tenant{TenantID: "acme", Name: "Acme", Plan: "pro"}))

	p, err := s.GetProject("acme", DefaultProjectSlug)
	require.NoError(t, err)
	assert.Equal(t, "Default", p.Name)
	assert.True(t, s.KnownProject("acme", p.ProjectID))
	assert.True(t, s.KnownProject("acme", DefaultProjectSlug))

	assert.ErrorIs(t, s.CreateTenant(&Tenant{TenantID: "acme"}), ErrConflict)
}

func TestDefaultProjectIsProtected(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTenant(&Tenant{TenantID: "acme", Plan: "free"}))

	assert.ErrorIs(t, s.DeleteProject("acme", DefaultProjectSlug), ErrCannotDeleteDefault)

	p, err := s.GetProject("acme", DefaultProjectSlug)
	require.NoError(t, err)
	renamed := *p
	renamed.Slug = "renamed"
	assert.ErrorIs(t, s.UpdateProject(&renamed), ErrCannotDeleteDefault)

	// The display name is still editable.
	retitled := *p
	retitled.Name = "Main"
	require.NoError(t, s.UpdateProject(&retitled))
}

func TestProjectSlugConflicts(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTenant(&Tenant{TenantID: "acme", Plan: "free"}))
	require.NoError(t, s.CreateProject(&Project{TenantID: "acme", Slug: "crawler", Name: "Crawler"}))

	assert.ErrorIs(t, s.CreateProject(&Project{TenantID: "acme", Slug: "crawler"}), ErrConflict)
	// Same slug under another tenant is fine.
	require.NoError(t, s.CreateTenant(&Tenant{TenantID: "globex", Plan: "free"}))
	require.NoError(t, s.CreateProject(&Project{TenantID: "globex", Slug: "crawler"}))

	require.NoError(t, s.DeleteProject("acme", "crawler"))
	_, err := s.GetProject("acme", "crawler")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureDevTenantIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureDevTenant("hb_dev_secret"))
	require.NoError(t, s.EnsureDevTenant("hb_dev_secret"))

	key, err := s.GetKeyByHash(HashKey("hb_dev_secret"))
	require.NoError(t, err)
	assert.Equal(t, "dev", key.TenantID)
	assert.Equal(t, events.KeyTypeLive, key.KeyType)
	assert.Equal(t, 1, s.TableCounts()["api_keys"])
	assert.Equal(t, 1, s.TableCounts()["tenants"])
}

func TestGetKeyByHashIgnoresRevoked(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateAPIKey(&APIKey{
		TenantID: "acme",
		KeyHash:  HashKey("hb_live_abc"),
		KeyType:  events.KeyTypeLive,
		Revoked:  true,
	}))
	_, err := s.GetKeyByHash(HashKey("hb_live_abc"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertAgent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.UpsertAgent(&AgentRecord{TenantID: "acme", AgentID: "worker-1", FirstSeen: now, LastSeen: now}))
	require.NoError(t, s.UpsertAgent(&AgentRecord{TenantID: "acme", AgentID: "worker-1", FirstSeen: now, LastSeen: now.Add(time.Minute), LastEventType: "heartbeat"}))

	rec, err := s.GetAgent("acme", "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "heartbeat", rec.LastEventType)
	assert.Len(t, s.AgentRecords("acme"), 1)
	assert.Empty(t, s.AgentRecords("globex"))
}

func TestProjectAgentJunction(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureProjectAgent("acme", "p-1", "worker-1"))
	require.NoError(t, s.EnsureProjectAgent("acme", "p-1", "worker-1"))
	require.NoError(t, s.EnsureProjectAgent("acme", "p-1", "worker-2"))

	agents := s.ProjectAgents("acme", "p-1")
	assert.Len(t, agents, 2)
	assert.True(t, agents["worker-1"])
	assert.Equal(t, 2, s.TableCounts()["project_agents"])
}

func TestPersistenceAcrossReload(t *testing.T) {
	dir := t.TempDir()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	s1, err := New(dir, estimateStub, log)
	require.NoError(t, err)
	require.NoError(t, s1.CreateTenant(&Tenant{TenantID: "acme", Plan: "pro"}))
	e := testEvent("acme", "worker-1", events.EventTypeTaskStarted, time.Now().UTC())
	_, err = s1.InsertEvents([]*events.Event{e})
	require.NoError(t, err)

	s2, err := New(dir, estimateStub, log)
	require.NoError(t, err)
	assert.Equal(t, 1, s2.TableCounts()["events"])
	_, err = s2.GetTenant("acme")
	require.NoError(t, err)

	// The dedup index is rebuilt on load.
	n, err := s2.InsertEvents([]*events.Event{e})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
