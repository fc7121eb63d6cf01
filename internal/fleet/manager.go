// Package fleet provisions and manages the proxy unit fleet: shared region
// resources, two-phase batch provisioning, startup validation, and teardown.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropsignal/fleetpoller/internal/cloud"
	"github.com/dropsignal/fleetpoller/internal/metrics"
	"github.com/dropsignal/fleetpoller/internal/retry"
	"github.com/dropsignal/fleetpoller/internal/watch"
)

// Config controls provisioning behavior. Zero values fall back to defaults.
type Config struct {
	// Regions is the internal default region list used when a provisioning
	// call does not supply its own.
	Regions []string
	// SubmitConcurrency bounds phase-1 create-service submissions (default 5).
	SubmitConcurrency int
	// ChunkDelay is the fixed pause between submission chunks (default 1s).
	ChunkDelay time.Duration
	// ReadyTimeout is the phase-2 per-unit readiness deadline (default 300s).
	ReadyTimeout time.Duration
	// PollInterval is the attachment polling period (default 5s).
	PollInterval time.Duration
	// ProxyPort is the egress port exposed by every unit (default 8888).
	ProxyPort int
	// EndpointScheme prefixes unit endpoints (default "http").
	EndpointScheme string
}

func (c Config) withDefaults() Config {
	if len(c.Regions) == 0 {
		c.Regions = []string{"us-east-1", "us-west-2", "eu-west-1"}
	}
	if c.SubmitConcurrency <= 0 {
		c.SubmitConcurrency = 5
	}
	if c.ChunkDelay <= 0 {
		c.ChunkDelay = time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 300 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ProxyPort <= 0 {
		c.ProxyPort = 8888
	}
	if c.EndpointScheme == "" {
		c.EndpointScheme = "http"
	}
	return c
}

// ErrNoRegions is returned when neither the call nor the config names a region.
var ErrNoRegions = errors.New("no regions available for provisioning")

// Manager owns the set of live proxy units.
type Manager struct {
	client    cloud.Client
	resources *ResourceCache
	retrier   *retry.Executor
	store     watch.StateStore
	clock     watch.Clock
	logger    *zap.Logger
	cfg       Config
	names     Names

	mu            sync.Mutex
	units         []watch.ProxyUnit
	regionCursor  int
	identity      cloud.IdentityRef
	identityReady bool
	unitSeq       int
}

// NewManager constructs a Manager.
func NewManager(
	client cloud.Client,
	resources *ResourceCache,
	retrier *retry.Executor,
	store watch.StateStore,
	clock watch.Clock,
	cfg Config,
	names Names,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:    client,
		resources: resources,
		retrier:   retrier,
		store:     store,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		names:     names,
		logger:    logger,
	}
}

// Init loads persisted units and validates each against the live platform
// concurrently. Units that are no longer active with a running replica are
// dropped; a validation error for one unit only removes that unit. The
// persisted list is rewritten to match what survived.
func (m *Manager) Init(ctx context.Context) error {
	persisted, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load fleet state: %w", err)
	}

	healthy := make([]watch.ProxyUnit, len(persisted))
	keep := make([]bool, len(persisted))
	g, gctx := errgroup.WithContext(ctx)
	for i, unit := range persisted {
		g.Go(func() error {
			status, err := m.client.DescribeService(gctx, unit.Region, cloud.ServiceRef(unit.ServiceRef))
			if err != nil {
				m.logger.Warn("dropping unit, validation failed",
					zap.String("unit", unit.ID),
					zap.String("region", unit.Region),
					zap.Error(err),
				)
				return nil
			}
			if !status.Healthy() {
				m.logger.Info("dropping unit, no longer healthy",
					zap.String("unit", unit.ID),
					zap.String("region", unit.Region),
					zap.Int("running", status.RunningCount),
				)
				return nil
			}
			healthy[i] = unit
			keep[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("validate fleet: %w", err)
	}

	units := make([]watch.ProxyUnit, 0, len(persisted))
	for i := range persisted {
		if keep[i] {
			units = append(units, healthy[i])
		}
	}

	m.mu.Lock()
	m.units = units
	err = m.persistLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	metrics.SetFleetSize(len(units))
	m.logger.Info("fleet initialized",
		zap.Int("persisted", len(persisted)),
		zap.Int("live", len(units)),
	)
	return nil
}

// Units returns a snapshot of the live fleet.
func (m *Manager) Units() []watch.ProxyUnit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]watch.ProxyUnit, len(m.units))
	copy(out, m.units)
	return out
}

// submission is the phase-1 output for one requested unit.
type submission struct {
	region  string
	name    string
	ref     cloud.ServiceRef
	started time.Time
}

// ProvisionBatch provisions count new units, assigning regions round-robin
// over regionList (or the configured default list when empty). Submissions run
// in chunks of the configured concurrency with a fixed inter-chunk delay;
// readiness waits run unbounded. One failure never blocks sibling units. The
// returned slice holds only the units that became ready; count minus its
// length is the failure count.
func (m *Manager) ProvisionBatch(ctx context.Context, count int, regionList []string) ([]watch.ProxyUnit, error) {
	if count <= 0 {
		return nil, nil
	}
	regions, err := m.assignRegions(count, regionList)
	if err != nil {
		return nil, err
	}

	submissions := m.submitAll(ctx, regions)

	ready := make([]watch.ProxyUnit, 0, len(submissions))
	var readyMu sync.Mutex
	var wg sync.WaitGroup
	for _, sub := range submissions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unit, err := m.awaitReady(ctx, sub)
			if err != nil {
				metrics.ObserveProvision(sub.region, "failed")
				m.logger.Error("unit failed to become ready",
					zap.String("region", sub.region),
					zap.String("service", string(sub.ref)),
					zap.Error(err),
				)
				return
			}
			readyMu.Lock()
			ready = append(ready, unit)
			readyMu.Unlock()
		}()
	}
	wg.Wait()

	m.logger.Info("provisioning batch finished",
		zap.Int("requested", count),
		zap.Int("ready", len(ready)),
		zap.Int("failed", count-len(ready)),
	)
	return ready, nil
}

// ProvisionOne provisions a single unit, using round-robin region selection
// when region is empty.
func (m *Manager) ProvisionOne(ctx context.Context, region string) (watch.ProxyUnit, error) {
	if region == "" {
		regions, err := m.assignRegions(1, nil)
		if err != nil {
			return watch.ProxyUnit{}, err
		}
		region = regions[0]
	}
	sub, err := m.submitOne(ctx, region)
	if err != nil {
		metrics.ObserveProvision(region, "failed")
		return watch.ProxyUnit{}, err
	}
	unit, err := m.awaitReady(ctx, sub)
	if err != nil {
		metrics.ObserveProvision(region, "failed")
		return watch.ProxyUnit{}, err
	}
	return unit, nil
}

// assignRegions computes a target region per requested unit by advancing the
// shared round-robin cursor.
func (m *Manager) assignRegions(count int, regionList []string) ([]string, error) {
	list := regionList
	if len(list) == 0 {
		list = m.cfg.Regions
	}
	if len(list) == 0 {
		return nil, ErrNoRegions
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	regions := make([]string, count)
	for i := range regions {
		regions[i] = list[m.regionCursor%len(list)]
		m.regionCursor++
	}
	return regions, nil
}

// submitAll runs phase 1: create-service submissions in bounded chunks with a
// fixed inter-chunk delay, collecting failures without aborting siblings.
func (m *Manager) submitAll(ctx context.Context, regions []string) []submission {
	submissions := make([]submission, 0, len(regions))
	var subMu sync.Mutex

	for start := 0; start < len(regions); start += m.cfg.SubmitConcurrency {
		end := start + m.cfg.SubmitConcurrency
		if end > len(regions) {
			end = len(regions)
		}

		var wg sync.WaitGroup
		for _, region := range regions[start:end] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sub, err := m.submitOne(ctx, region)
				if err != nil {
					metrics.ObserveProvision(region, "failed")
					m.logger.Error("service submission failed",
						zap.String("region", region),
						zap.Error(err),
					)
					return
				}
				subMu.Lock()
				submissions = append(submissions, sub)
				subMu.Unlock()
			}()
		}
		wg.Wait()

		if end < len(regions) {
			select {
			case <-time.After(m.cfg.ChunkDelay):
			case <-ctx.Done():
				return submissions
			}
		}
	}
	return submissions
}

// submitOne ensures the region's shared resources and the process-wide
// execution identity exist, then issues the create-service request.
func (m *Manager) submitOne(ctx context.Context, region string) (submission, error) {
	identity, err := m.ensureIdentity(ctx)
	if err != nil {
		return submission{}, fmt.Errorf("ensure execution identity: %w", err)
	}
	resources, err := m.resources.Ensure(ctx, region)
	if err != nil {
		return submission{}, err
	}

	name := m.nextUnitName(region)
	ref, err := retry.Do(ctx, m.retrier, "create-service", cloud.IsTransient, func(ctx context.Context) (cloud.ServiceRef, error) {
		return m.client.CreateService(ctx, cloud.CreateServiceInput{
			Region:     region,
			Name:       name,
			Cluster:    resources.Cluster,
			Template:   resources.Template,
			AccessRule: resources.AccessRule,
			Identity:   identity,
		})
	})
	if err != nil {
		return submission{}, fmt.Errorf("create service in %s: %w", region, err)
	}
	return submission{region: region, name: name, ref: ref, started: m.clock.Now()}, nil
}

func (m *Manager) ensureIdentity(ctx context.Context) (cloud.IdentityRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identityReady {
		return m.identity, nil
	}
	ref, found, err := m.client.DescribeExecutionIdentity(ctx, m.names.Identity)
	if err != nil {
		return "", fmt.Errorf("describe execution identity: %w", err)
	}
	if !found {
		ref, err = retry.Do(ctx, m.retrier, "create-execution-identity", cloud.IsTransient, func(ctx context.Context) (cloud.IdentityRef, error) {
			return m.client.CreateExecutionIdentity(ctx, m.names.Identity)
		})
		if err != nil {
			return "", err
		}
	}
	m.identity = ref
	m.identityReady = true
	return ref, nil
}

func (m *Manager) nextUnitName(region string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unitSeq++
	return fmt.Sprintf("%s-%d-%d", region, m.clock.Now().UnixMilli(), m.unitSeq)
}

// awaitReady runs phase 2 for one submission: poll the service's network
// attachment until it is running, extract the public address, finalize the
// unit, and persist it immediately. Units that miss the deadline fail; they
// are not retried.
func (m *Manager) awaitReady(ctx context.Context, sub submission) (watch.ProxyUnit, error) {
	deadline, cancel := context.WithTimeout(ctx, m.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		attachment, err := m.client.ServiceAttachment(deadline, sub.region, sub.ref)
		if err != nil {
			if !cloud.IsTransient(err) {
				return watch.ProxyUnit{}, fmt.Errorf("attachment lookup for %s: %w", sub.ref, err)
			}
			m.logger.Debug("transient attachment lookup failure",
				zap.String("service", string(sub.ref)),
				zap.Error(err),
			)
		} else {
			switch attachment.State {
			case cloud.AttachmentRunning:
				return m.finalizeUnit(ctx, sub, attachment)
			case cloud.AttachmentFailed:
				return watch.ProxyUnit{}, fmt.Errorf("attachment failed for %s: %s", sub.ref, attachment.FailureReason)
			}
		}

		select {
		case <-ticker.C:
		case <-deadline.Done():
			return watch.ProxyUnit{}, fmt.Errorf("unit %s not ready within %s: %w", sub.name, m.cfg.ReadyTimeout, deadline.Err())
		}
	}
}

func (m *Manager) finalizeUnit(ctx context.Context, sub submission, attachment cloud.Attachment) (watch.ProxyUnit, error) {
	now := m.clock.Now()
	unit := watch.ProxyUnit{
		ID:            sub.name,
		Region:        sub.region,
		Endpoint:      fmt.Sprintf("%s://%s:%d", m.cfg.EndpointScheme, attachment.PublicAddress, m.cfg.ProxyPort),
		ServiceRef:    string(sub.ref),
		PublicAddress: attachment.PublicAddress,
		CreatedAt:     now,
	}

	m.mu.Lock()
	m.units = append(m.units, unit)
	err := m.persistLocked(ctx)
	size := len(m.units)
	m.mu.Unlock()
	if err != nil {
		return watch.ProxyUnit{}, err
	}

	metrics.SetFleetSize(size)
	metrics.ObserveProvision(sub.region, "success")
	metrics.ObserveProvisionDuration(sub.region, now.Sub(sub.started))
	m.logger.Info("proxy unit ready",
		zap.String("unit", unit.ID),
		zap.String("region", unit.Region),
		zap.String("endpoint", unit.Endpoint),
	)
	return unit, nil
}

// persistLocked rewrites the fleet state file. Callers must hold m.mu; the
// single writer lock is what keeps concurrent rewrites serialized.
func (m *Manager) persistLocked(ctx context.Context) error {
	if err := m.store.Save(ctx, m.units); err != nil {
		return fmt.Errorf("persist fleet state: %w", err)
	}
	return nil
}

// Teardown deletes one unit's backing service and removes it from state.
// Deletion errors are logged, not returned, so local state never diverges
// from a partially deleted resource.
func (m *Manager) Teardown(ctx context.Context, unitID string) error {
	m.mu.Lock()
	idx := -1
	for i, u := range m.units {
		if u.ID == unitID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("unknown unit %q", unitID)
	}
	unit := m.units[idx]
	m.units = append(m.units[:idx], m.units[idx+1:]...)
	err := m.persistLocked(ctx)
	size := len(m.units)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if delErr := m.client.DeleteService(ctx, unit.Region, cloud.ServiceRef(unit.ServiceRef)); delErr != nil {
		m.logger.Warn("service deletion failed",
			zap.String("unit", unit.ID),
			zap.String("region", unit.Region),
			zap.Error(delErr),
		)
	}
	metrics.SetFleetSize(size)
	return nil
}

// TeardownAll deletes every unit's backing service in parallel, clears state,
// and attempts best-effort cleanup of the shared access rules and execution
// identity. Platform-side deletion failures are logged, never returned.
func (m *Manager) TeardownAll(ctx context.Context) error {
	m.mu.Lock()
	units := m.units
	m.units = nil
	err := m.persistLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, unit := range units {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if delErr := m.client.DeleteService(ctx, unit.Region, cloud.ServiceRef(unit.ServiceRef)); delErr != nil {
				m.logger.Warn("service deletion failed",
					zap.String("unit", unit.ID),
					zap.String("region", unit.Region),
					zap.Error(delErr),
				)
			}
		}()
	}
	wg.Wait()

	m.cleanupShared(ctx, units)
	metrics.SetFleetSize(0)
	m.logger.Info("fleet torn down", zap.Int("units", len(units)))
	return nil
}

// cleanupShared removes shared definitions other runs may no longer need.
// Best effort: other live deployments may still depend on them.
func (m *Manager) cleanupShared(ctx context.Context, units []watch.ProxyUnit) {
	regions := make(map[string]struct{})
	for _, u := range units {
		regions[u.Region] = struct{}{}
	}
	for region := range regions {
		ref, found, err := m.client.DescribeAccessRule(ctx, region, m.names.AccessRule)
		if err != nil || !found {
			continue
		}
		if err := m.client.DeleteAccessRule(ctx, region, ref); err != nil {
			m.logger.Debug("access rule cleanup skipped",
				zap.String("region", region),
				zap.Error(err),
			)
		}
	}

	m.mu.Lock()
	identity := m.identity
	ready := m.identityReady
	m.identityReady = false
	m.identity = ""
	m.mu.Unlock()
	if ready {
		if err := m.client.DeleteExecutionIdentity(ctx, identity); err != nil {
			m.logger.Debug("execution identity cleanup skipped", zap.Error(err))
		}
	}
}
