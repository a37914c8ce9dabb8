// Package memory provides an in-memory leave.Repository (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	grants       []leave.Grant
	grantKeys    map[key]bool
	consumptions map[string]leave.Consumption
	policies     map[policyKey][]leave.Policy // all versions, oldest first
	roster       map[string]map[string]leave.Employee
}

type key struct {
	CompanyID string
	leave.GrantKey
}

type policyKey struct {
	CompanyID   string
	LeaveTypeID string
}

var (
	_ leave.Repository         = (*Memory)(nil)
	_ leave.ActivePolicyLister = (*Memory)(nil)
	_ leave.AdminStore         = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		grantKeys:    make(map[key]bool),
		consumptions: make(map[string]leave.Consumption),
		policies:     make(map[policyKey][]leave.Policy),
		roster:       make(map[string]map[string]leave.Employee),
	}
}

// InsertGrant enforces the same unique key as the SQL stores.
func (m *Memory) InsertGrant(_ context.Context, g leave.Grant) (leave.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{CompanyID: g.CompanyID, GrantKey: g.Key()}
	if m.grantKeys[k] {
		return leave.Grant{}, generic.ErrDuplicateGrant
	}
	m.grantKeys[k] = true
	m.grants = append(m.grants, g)
	return g, nil
}

func (m *Memory) FetchGrants(_ context.Context, companyID, leaveTypeID string) ([]leave.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []leave.Grant
	for _, g := range m.grants {
		if g.CompanyID == companyID && (leaveTypeID == "" || g.LeaveTypeID == leaveTypeID) {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.LeaveTypeID != b.LeaveTypeID {
			return a.LeaveTypeID < b.LeaveTypeID
		}
		return a.GrantedOn.Before(b.GrantedOn)
	})
	return out, nil
}

func (m *Memory) SaveConsumption(_ context.Context, c leave.Consumption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumptions[c.ID] = c
	return nil
}

func (m *Memory) FetchConsumptions(_ context.Context, companyID, leaveTypeID string) ([]leave.Consumption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []leave.Consumption
	for _, c := range m.consumptions {
		if c.CompanyID == companyID && (leaveTypeID == "" || c.LeaveTypeID == leaveTypeID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConsumedOn.Equal(out[j].ConsumedOn) {
			return out[i].ConsumedOn.Before(out[j].ConsumedOn)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) FetchPolicy(_ context.Context, companyID, leaveTypeID string) (*leave.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.policies[policyKey{companyID, leaveTypeID}]
	if len(versions) == 0 || !versions[len(versions)-1].IsActive {
		return nil, nil
	}
	p := versions[len(versions)-1]
	return &p, nil
}

// UpsertPolicy supersedes the active version the way the SQL stores do.
func (m *Memory) UpsertPolicy(_ context.Context, companyID, leaveTypeID string, p leave.Policy) (leave.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := policyKey{companyID, leaveTypeID}
	versions := m.policies[k]
	now := time.Now().UTC()
	if n := len(versions); n > 0 && versions[n-1].IsActive {
		versions[n-1].IsActive = false
		versions[n-1].DeletedAt = &now
	}

	p.CompanyID = companyID
	p.LeaveTypeID = leaveTypeID
	p.Version = len(versions) + 1
	p.IsActive = true
	p.DeletedAt = nil
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	m.policies[k] = append(versions, p)
	return p, nil
}

func (m *Memory) ListActivePolicies(_ context.Context) ([]leave.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []leave.Policy
	for _, versions := range m.policies {
		if n := len(versions); n > 0 && versions[n-1].IsActive {
			out = append(out, versions[n-1])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompanyID != out[j].CompanyID {
			return out[i].CompanyID < out[j].CompanyID
		}
		return out[i].LeaveTypeID < out[j].LeaveTypeID
	})
	return out, nil
}

// PolicyVersions returns every stored version, oldest first.
func (m *Memory) PolicyVersions(companyID, leaveTypeID string) []leave.Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]leave.Policy(nil), m.policies[policyKey{companyID, leaveTypeID}]...)
}

func (m *Memory) SaveEmployee(_ context.Context, companyID string, e leave.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.roster[companyID] == nil {
		m.roster[companyID] = make(map[string]leave.Employee)
	}
	m.roster[companyID][e.ID] = e
	return nil
}

func (m *Memory) FetchRoster(_ context.Context, companyID string) ([]leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]leave.Employee, 0, len(m.roster[companyID]))
	for _, e := range m.roster[companyID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
