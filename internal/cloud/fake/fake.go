// Package fake provides an in-memory cloud platform for tests and local
// development. It tracks per-operation call counts and supports throttling and
// failure injection.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dropsignal/fleetpoller/internal/cloud"
)

type service struct {
	region string
	name   string
	status cloud.ServiceStatus
	polls  int
	addr   string
	failed bool
}

// Client implements cloud.Client entirely in memory.
type Client struct {
	mu sync.Mutex

	counters   map[string]int
	clusters   map[string]cloud.ClusterRef
	rules      map[string]cloud.AccessRuleRef
	templates  map[string]cloud.TemplateRef
	identities map[string]cloud.IdentityRef
	services   map[cloud.ServiceRef]*service
	seq        int

	inflightTemplates int

	// ReadyAfterPolls controls how many attachment polls a service reports
	// pending before turning running. Zero means ready on the first poll.
	ReadyAfterPolls int
	// TemplateDelay widens the template-registration critical section so tests
	// can observe concurrent registrations.
	TemplateDelay time.Duration
	// FailCreateInRegion makes CreateService fail permanently for a region.
	FailCreateInRegion map[string]error
	// ThrottleFirst injects n leading throttling failures for an operation
	// name before it starts succeeding.
	ThrottleFirst map[string]int
	// NeverReady marks created services whose attachment stays pending.
	NeverReady bool

	maxTemplateInflight int
}

// NewClient constructs an empty fake platform.
func NewClient() *Client {
	return &Client{
		counters:   make(map[string]int),
		clusters:   make(map[string]cloud.ClusterRef),
		rules:      make(map[string]cloud.AccessRuleRef),
		templates:  make(map[string]cloud.TemplateRef),
		identities: make(map[string]cloud.IdentityRef),
		services:   make(map[cloud.ServiceRef]*service),
	}
}

// Calls returns how many times the named operation ran.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[op]
}

// MaxTemplateInflight reports the highest number of template registrations
// observed in flight simultaneously.
func (c *Client) MaxTemplateInflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxTemplateInflight
}

// ServiceCount returns the number of live services.
func (c *Client) ServiceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.services)
}

func (c *Client) record(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[op]++
	if c.ThrottleFirst != nil && c.ThrottleFirst[op] > 0 {
		c.ThrottleFirst[op]--
		return &cloud.APIError{Code: "Throttling", Message: op + " rate exceeded"}
	}
	return nil
}

func regionKey(region, name string) string {
	return region + "/" + name
}

// DescribeCluster looks up a cluster by well-known name.
func (c *Client) DescribeCluster(_ context.Context, region, name string) (cloud.ClusterRef, bool, error) {
	if err := c.record("DescribeCluster"); err != nil {
		return "", false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.clusters[regionKey(region, name)]
	return ref, ok, nil
}

// CreateCluster registers a cluster for the region.
func (c *Client) CreateCluster(_ context.Context, region, name string) (cloud.ClusterRef, error) {
	if err := c.record("CreateCluster"); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ref := cloud.ClusterRef(fmt.Sprintf("cluster/%s/%s", region, name))
	c.clusters[regionKey(region, name)] = ref
	return ref, nil
}

// DescribeAccessRule looks up a network-access rule set by name.
func (c *Client) DescribeAccessRule(_ context.Context, region, name string) (cloud.AccessRuleRef, bool, error) {
	if err := c.record("DescribeAccessRule"); err != nil {
		return "", false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.rules[regionKey(region, name)]
	return ref, ok, nil
}

// CreateAccessRule registers an access rule for the region.
func (c *Client) CreateAccessRule(_ context.Context, region, name string) (cloud.AccessRuleRef, error) {
	if err := c.record("CreateAccessRule"); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ref := cloud.AccessRuleRef(fmt.Sprintf("rule/%s/%s", region, name))
	c.rules[regionKey(region, name)] = ref
	return ref, nil
}

// DeleteAccessRule removes the rule if present.
func (c *Client) DeleteAccessRule(_ context.Context, region string, ref cloud.AccessRuleRef) error {
	if err := c.record("DeleteAccessRule"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, existing := range c.rules {
		if existing == ref {
			delete(c.rules, key)
		}
	}
	return nil
}

// DescribeTaskTemplate looks up a task template by name.
func (c *Client) DescribeTaskTemplate(_ context.Context, region, name string) (cloud.TemplateRef, bool, error) {
	if err := c.record("DescribeTaskTemplate"); err != nil {
		return "", false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.templates[regionKey(region, name)]
	return ref, ok, nil
}

// RegisterTaskTemplate registers a template, tracking in-flight concurrency so
// tests can assert the global serialization invariant.
func (c *Client) RegisterTaskTemplate(_ context.Context, region, name string) (cloud.TemplateRef, error) {
	if err := c.record("RegisterTaskTemplate"); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.inflightTemplates++
	if c.inflightTemplates > c.maxTemplateInflight {
		c.maxTemplateInflight = c.inflightTemplates
	}
	delay := c.TemplateDelay
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflightTemplates--
	ref := cloud.TemplateRef(fmt.Sprintf("template/%s/%s", region, name))
	c.templates[regionKey(region, name)] = ref
	return ref, nil
}

// DescribeExecutionIdentity looks up the shared execution identity.
func (c *Client) DescribeExecutionIdentity(_ context.Context, name string) (cloud.IdentityRef, bool, error) {
	if err := c.record("DescribeExecutionIdentity"); err != nil {
		return "", false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.identities[name]
	return ref, ok, nil
}

// CreateExecutionIdentity registers the shared execution identity.
func (c *Client) CreateExecutionIdentity(_ context.Context, name string) (cloud.IdentityRef, error) {
	if err := c.record("CreateExecutionIdentity"); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ref := cloud.IdentityRef("identity/" + name)
	c.identities[name] = ref
	return ref, nil
}

// DeleteExecutionIdentity removes the identity if present.
func (c *Client) DeleteExecutionIdentity(_ context.Context, ref cloud.IdentityRef) error {
	if err := c.record("DeleteExecutionIdentity"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, existing := range c.identities {
		if existing == ref {
			delete(c.identities, key)
		}
	}
	return nil
}

// CreateService launches a service instance.
func (c *Client) CreateService(_ context.Context, input cloud.CreateServiceInput) (cloud.ServiceRef, error) {
	if err := c.record("CreateService"); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailCreateInRegion != nil {
		if failErr, ok := c.FailCreateInRegion[input.Region]; ok {
			return "", failErr
		}
	}
	c.seq++
	ref := cloud.ServiceRef(fmt.Sprintf("service/%s/%s-%d", input.Region, input.Name, c.seq))
	c.services[ref] = &service{
		region: input.Region,
		name:   input.Name,
		status: cloud.ServiceStatus{Active: true, RunningCount: 1},
		addr:   fmt.Sprintf("198.51.100.%d", c.seq),
	}
	return ref, nil
}

// DescribeService returns the service status; absent services report inactive.
func (c *Client) DescribeService(_ context.Context, _ string, ref cloud.ServiceRef) (cloud.ServiceStatus, error) {
	if err := c.record("DescribeService"); err != nil {
		return cloud.ServiceStatus{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	svc, ok := c.services[ref]
	if !ok {
		return cloud.ServiceStatus{}, nil
	}
	return svc.status, nil
}

// DeleteService removes the service.
func (c *Client) DeleteService(_ context.Context, _ string, ref cloud.ServiceRef) error {
	if err := c.record("DeleteService"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, ref)
	return nil
}

// ServiceAttachment reports the network attachment, turning running after
// ReadyAfterPolls lookups unless NeverReady is set.
func (c *Client) ServiceAttachment(_ context.Context, _ string, ref cloud.ServiceRef) (cloud.Attachment, error) {
	if err := c.record("ServiceAttachment"); err != nil {
		return cloud.Attachment{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	svc, ok := c.services[ref]
	if !ok {
		return cloud.Attachment{State: cloud.AttachmentFailed, FailureReason: "service not found"}, nil
	}
	if c.NeverReady {
		return cloud.Attachment{State: cloud.AttachmentPending}, nil
	}
	svc.polls++
	if svc.polls <= c.ReadyAfterPolls {
		return cloud.Attachment{State: cloud.AttachmentPending}, nil
	}
	return cloud.Attachment{
		State:         cloud.AttachmentRunning,
		PublicAddress: svc.addr,
		ObservedAt:    time.Now().UTC(),
	}, nil
}
