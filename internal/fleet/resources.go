package fleet

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dropsignal/fleetpoller/internal/cloud"
	"github.com/dropsignal/fleetpoller/internal/retry"
)

// Names are the well-known identifiers shared resources are looked up by, so
// a restarted process finds definitions created by an earlier run instead of
// duplicating them.
type Names struct {
	Cluster    string
	AccessRule string
	Template   string
	Identity   string
}

// DefaultNames returns the resource names used when none are configured.
func DefaultNames() Names {
	return Names{
		Cluster:    "fleetpoller-proxies",
		AccessRule: "fleetpoller-egress",
		Template:   "fleetpoller-proxy",
		Identity:   "fleetpoller-exec",
	}
}

type regionEntry struct {
	mu        sync.Mutex
	ready     bool
	resources cloud.RegionResources
}

// ResourceCache memoizes per-region shared definitions (cluster, access rule,
// task template). A per-region mutex serializes creation within a region;
// waiters block on the holder and read the cached value. A separate global
// mutex serializes task-template registration across all regions, because the
// platform throttles that call type aggressively when issued concurrently.
type ResourceCache struct {
	client  cloud.Client
	retrier *retry.Executor
	names   Names
	logger  *zap.Logger

	mu      sync.Mutex
	regions map[string]*regionEntry

	// templateMu is held only around the narrow register call, never the
	// whole region setup, and is only ever acquired while a region entry
	// lock is held. Nothing acquires a region lock while holding templateMu,
	// so the ordering cannot deadlock.
	templateMu sync.Mutex
}

// NewResourceCache constructs a ResourceCache.
func NewResourceCache(client cloud.Client, retrier *retry.Executor, names Names, logger *zap.Logger) *ResourceCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceCache{
		client:  client,
		retrier: retrier,
		names:   names,
		logger:  logger,
		regions: make(map[string]*regionEntry),
	}
}

func (c *ResourceCache) entry(region string) *regionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.regions[region]
	if !ok {
		e = &regionEntry{}
		c.regions[region] = e
	}
	return e
}

// Ensure returns the region's shared resources, creating whatever is missing.
// Concurrent calls for the same region block until the first finishes; a
// failed attempt leaves the region uncached so a later call retries from
// scratch.
func (c *ResourceCache) Ensure(ctx context.Context, region string) (cloud.RegionResources, error) {
	e := c.entry(region)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return e.resources, nil
	}

	resources, err := c.build(ctx, region)
	if err != nil {
		return cloud.RegionResources{}, err
	}
	e.resources = resources
	e.ready = true
	c.logger.Info("region resources ready",
		zap.String("region", region),
		zap.String("cluster", string(resources.Cluster)),
		zap.String("template", string(resources.Template)),
	)
	return resources, nil
}

func (c *ResourceCache) build(ctx context.Context, region string) (cloud.RegionResources, error) {
	cluster, err := c.ensureCluster(ctx, region)
	if err != nil {
		return cloud.RegionResources{}, fmt.Errorf("ensure cluster in %s: %w", region, err)
	}
	rule, err := c.ensureAccessRule(ctx, region)
	if err != nil {
		return cloud.RegionResources{}, fmt.Errorf("ensure access rule in %s: %w", region, err)
	}
	template, err := c.ensureTemplate(ctx, region)
	if err != nil {
		return cloud.RegionResources{}, fmt.Errorf("ensure task template in %s: %w", region, err)
	}
	return cloud.RegionResources{Cluster: cluster, AccessRule: rule, Template: template}, nil
}

func (c *ResourceCache) ensureCluster(ctx context.Context, region string) (cloud.ClusterRef, error) {
	ref, found, err := c.client.DescribeCluster(ctx, region, c.names.Cluster)
	if err != nil {
		return "", fmt.Errorf("describe cluster: %w", err)
	}
	if found {
		return ref, nil
	}
	return retry.Do(ctx, c.retrier, "create-cluster", cloud.IsTransient, func(ctx context.Context) (cloud.ClusterRef, error) {
		return c.client.CreateCluster(ctx, region, c.names.Cluster)
	})
}

func (c *ResourceCache) ensureAccessRule(ctx context.Context, region string) (cloud.AccessRuleRef, error) {
	ref, found, err := c.client.DescribeAccessRule(ctx, region, c.names.AccessRule)
	if err != nil {
		return "", fmt.Errorf("describe access rule: %w", err)
	}
	if found {
		return ref, nil
	}
	return retry.Do(ctx, c.retrier, "create-access-rule", cloud.IsTransient, func(ctx context.Context) (cloud.AccessRuleRef, error) {
		return c.client.CreateAccessRule(ctx, region, c.names.AccessRule)
	})
}

func (c *ResourceCache) ensureTemplate(ctx context.Context, region string) (cloud.TemplateRef, error) {
	ref, found, err := c.client.DescribeTaskTemplate(ctx, region, c.names.Template)
	if err != nil {
		return "", fmt.Errorf("describe task template: %w", err)
	}
	if found {
		return ref, nil
	}

	// At most one template registration may be in flight system-wide.
	c.templateMu.Lock()
	defer c.templateMu.Unlock()
	return retry.Do(ctx, c.retrier, "register-task-template", cloud.IsTransient, func(ctx context.Context) (cloud.TemplateRef, error) {
		return c.client.RegisterTaskTemplate(ctx, region, c.names.Template)
	})
}
