// Package quota implements the identity/quota service boundary (§4.11,
// §6): per-project resource-hour budgets consulted by policy hooks before
// approving a reservation request. Usage updates take a per-project lock
// rather than a single global one, so unrelated projects never contend.
package quota

import (
	"context"
	"sync"

	"github.com/meridianfed/fedres/pkg/kerrors"
)

// Quota is a project's resource-hour budget for one resource type.
type Quota struct {
	Project      string
	ResourceType string
	Limit        int64
	Used         int64
}

// Remaining returns the unused portion of the quota; never negative.
func (q Quota) Remaining() int64 {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// IdentityService is the contract a broker or authority policy consults
// to enforce per-project resource budgets.
type IdentityService interface {
	// ListQuotas returns every quota recorded for project.
	ListQuotas(ctx context.Context, project string) ([]Quota, error)
	// UpdateQuotaUsage adjusts the used amount for (project, resourceType)
	// by delta (positive on allocation, negative on release), rejecting
	// the update with InsufficientResources if it would exceed the limit.
	UpdateQuotaUsage(ctx context.Context, project, resourceType string, delta int64) error
}

// Manager is an in-memory IdentityService, the default reference
// implementation for cmd/* binaries with no external identity service
// configured.
type Manager struct {
	mu         sync.Mutex
	locks      sync.Map // project -> *sync.Mutex
	quotas     map[string]map[string]*Quota // project -> resourceType -> quota
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{quotas: make(map[string]map[string]*Quota)}
}

func (m *Manager) lockFor(project string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(project, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// SetQuota installs or replaces the limit for (project, resourceType),
// preserving any usage already recorded.
func (m *Manager) SetQuota(project, resourceType string, limit int64) {
	lock := m.lockFor(project)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	byType, ok := m.quotas[project]
	if !ok {
		byType = make(map[string]*Quota)
		m.quotas[project] = byType
	}
	m.mu.Unlock()

	q, ok := byType[resourceType]
	if !ok {
		byType[resourceType] = &Quota{Project: project, ResourceType: resourceType, Limit: limit}
		return
	}
	q.Limit = limit
}

func (m *Manager) ListQuotas(_ context.Context, project string) ([]Quota, error) {
	lock := m.lockFor(project)
	lock.Lock()
	defer lock.Unlock()

	byType := m.quotas[project]
	out := make([]Quota, 0, len(byType))
	for _, q := range byType {
		out = append(out, *q)
	}
	return out, nil
}

func (m *Manager) UpdateQuotaUsage(_ context.Context, project, resourceType string, delta int64) error {
	lock := m.lockFor(project)
	lock.Lock()
	defer lock.Unlock()

	byType := m.quotas[project]
	if byType == nil {
		return kerrors.NotFoundf("quota", project+"/"+resourceType)
	}
	q, ok := byType[resourceType]
	if !ok {
		return kerrors.NotFoundf("quota", project+"/"+resourceType)
	}

	next := q.Used + delta
	if next > q.Limit {
		return kerrors.InsufficientResourcesf(
			"project %s quota for %s exhausted: used=%d limit=%d requested_delta=%d",
			project, resourceType, q.Used, q.Limit, delta)
	}
	if next < 0 {
		next = 0
	}
	q.Used = next
	return nil
}
