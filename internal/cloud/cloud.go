// Package cloud defines the provisioning capability set the fleet manager
// drives. Any platform offering equivalent primitives (clusters, templated
// service instances, network-access rules, execution identities, attachment
// address resolution) can implement Client.
package cloud

import (
	"context"
	"time"
)

// Opaque references to platform-side resources.
type (
	ClusterRef    string
	TemplateRef   string
	AccessRuleRef string
	IdentityRef   string
	ServiceRef    string
)

// RegionResources is the set of shared definitions one region needs before any
// proxy service can be created in it.
type RegionResources struct {
	Cluster    ClusterRef
	AccessRule AccessRuleRef
	Template   TemplateRef
}

// CreateServiceInput carries everything needed to launch one proxy service.
type CreateServiceInput struct {
	Region     string
	Name       string
	Cluster    ClusterRef
	Template   TemplateRef
	AccessRule AccessRuleRef
	Identity   IdentityRef
}

// ServiceStatus is the typed shape of a describe-service response.
type ServiceStatus struct {
	Active       bool
	RunningCount int
	PendingCount int
}

// Healthy reports whether the service is active with at least one running
// replica, the validation bar used at fleet init.
func (s ServiceStatus) Healthy() bool {
	return s.Active && s.RunningCount > 0
}

// AttachmentState classifies the network attachment of a service replica.
type AttachmentState string

// Attachment states reported by ServiceAttachment.
const (
	AttachmentPending AttachmentState = "pending"
	AttachmentRunning AttachmentState = "running"
	AttachmentFailed  AttachmentState = "failed"
)

// Attachment is the typed shape of a network-attachment lookup. PublicAddress
// is only meaningful in the running state.
type Attachment struct {
	State         AttachmentState
	PublicAddress string
	FailureReason string
	ObservedAt    time.Time
}

// Client is the provisioning API. Describe* calls report absence via the bool
// return rather than an error, supporting the describe-before-create pattern.
type Client interface {
	DescribeCluster(ctx context.Context, region, name string) (ClusterRef, bool, error)
	CreateCluster(ctx context.Context, region, name string) (ClusterRef, error)

	DescribeAccessRule(ctx context.Context, region, name string) (AccessRuleRef, bool, error)
	CreateAccessRule(ctx context.Context, region, name string) (AccessRuleRef, error)
	DeleteAccessRule(ctx context.Context, region string, ref AccessRuleRef) error

	DescribeTaskTemplate(ctx context.Context, region, name string) (TemplateRef, bool, error)
	RegisterTaskTemplate(ctx context.Context, region, name string) (TemplateRef, error)

	DescribeExecutionIdentity(ctx context.Context, name string) (IdentityRef, bool, error)
	CreateExecutionIdentity(ctx context.Context, name string) (IdentityRef, error)
	DeleteExecutionIdentity(ctx context.Context, ref IdentityRef) error

	CreateService(ctx context.Context, input CreateServiceInput) (ServiceRef, error)
	DescribeService(ctx context.Context, region string, ref ServiceRef) (ServiceStatus, error)
	DeleteService(ctx context.Context, region string, ref ServiceRef) error
	ServiceAttachment(ctx context.Context, region string, ref ServiceRef) (Attachment, error)
}
