// Package failover tracks the health of the redundant deployments behind
// one logical endpoint and routes each call to the least-recently-used
// healthy one.
package failover

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/torosent/gauntlet/internal/config"
)

// ErrNoDeployments is returned by Pick when the endpoint has no instances.
var ErrNoDeployments = errors.New("failover: endpoint has no deployments")

type instance struct {
	deployment config.Deployment
	failures   int
	lastUsed   time.Time
}

// Manager owns the mutable health state for one endpoint's deployments.
// An instance is healthy while its failure counter is zero; quota errors
// increment it and successes clear it.
type Manager struct {
	mu        sync.Mutex
	instances []*instance
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager builds a manager over the endpoint's deployments in
// configuration order.
func NewManager(deployments []config.Deployment, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger, now: time.Now}
	for _, d := range deployments {
		m.instances = append(m.instances, &instance{deployment: d})
	}
	return m
}

// Pick selects the least-recently-used healthy deployment and stamps it
// as used. When every instance is unhealthy the counters are reset and
// selection retries, treating the condition as transient rather than
// deadlocking the shard.
func (m *Manager) Pick() (config.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.instances) == 0 {
		return config.Deployment{}, ErrNoDeployments
	}

	chosen := m.pickHealthy()
	if chosen == nil {
		m.logger.Info("all deployments unhealthy, resetting failure counters")
		for _, inst := range m.instances {
			inst.failures = 0
		}
		chosen = m.pickHealthy()
	}
	chosen.lastUsed = m.now()
	return chosen.deployment, nil
}

func (m *Manager) pickHealthy() *instance {
	var chosen *instance
	for _, inst := range m.instances {
		if inst.failures > 0 {
			continue
		}
		if chosen == nil || inst.lastUsed.Before(chosen.lastUsed) {
			chosen = inst
		}
	}
	return chosen
}

// RecordQuota marks a quota or rate-limit error against the named
// deployment, demoting it until a success or a full reset.
func (m *Manager) RecordQuota(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if strings.EqualFold(inst.deployment.Name, name) {
			inst.failures++
			m.logger.Debug("deployment demoted", "deployment", inst.deployment.Name, "failures", inst.failures)
			return
		}
	}
}

// RecordSuccess clears the named deployment's failure counter.
func (m *Manager) RecordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if strings.EqualFold(inst.deployment.Name, name) {
			inst.failures = 0
			return
		}
	}
}

// InstanceHealth is a point-in-time view of one deployment's state.
type InstanceHealth struct {
	Name     string
	Failures int
	LastUsed time.Time
}

// Snapshot reports the current health of every deployment.
func (m *Manager) Snapshot() []InstanceHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InstanceHealth, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, InstanceHealth{
			Name:     inst.deployment.Name,
			Failures: inst.failures,
			LastUsed: inst.lastUsed,
		})
	}
	return out
}

// Healthy reports how many deployments currently have a clean record.
func (m *Manager) Healthy() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, inst := range m.instances {
		if inst.failures == 0 {
			n++
		}
	}
	return n
}
