package provisioning

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Client is the messaging provider the saga drives. Every method is one
// independently fallible network call; the saga composes them into an
// all-or-nothing operation. The client is constructed once at process start
// and passed in explicitly, so tests substitute a fake.
type Client interface {
	// CreateIdentity registers a device-identity resource and returns its ARN.
	CreateIdentity(ctx context.Context, name string) (string, error)
	DeleteIdentity(ctx context.Context, name string) error

	// CreateCredential issues a fresh asymmetric key pair.
	CreateCredential(ctx context.Context) (*Credential, error)
	DeactivateCredential(ctx context.Context, credentialID string) error
	DeleteCredential(ctx context.Context, credentialID string) error

	// CreatePolicy registers an authorization document and returns its ARN.
	CreatePolicy(ctx context.Context, name, document string) (string, error)
	// PurgePolicyVersions removes all non-default versions; required before
	// DeletePolicy on providers that version documents.
	PurgePolicyVersions(ctx context.Context, name string) error
	DeletePolicy(ctx context.Context, name string) error

	AttachPolicy(ctx context.Context, policyName, credentialARN string) error
	DetachPolicy(ctx context.Context, policyName, credentialARN string) error

	AttachCredential(ctx context.Context, credentialARN, identityName string) error
	DetachCredential(ctx context.Context, credentialARN, identityName string) error

	// CreateRoutingRule installs a topic-to-queue forwarding rule and
	// returns its ARN.
	CreateRoutingRule(ctx context.Context, rule *RoutingRule) (string, error)
	DeleteRoutingRule(ctx context.Context, name string) error
}

// SimulatedClient implements Client without any network. Resource ARNs are
// derived deterministically from resource names; credentials carry marked
// non-functional PEM blocks. Useful for development against simulated data
// and as the default when no real provider is configured.
type SimulatedClient struct{}

// NewSimulatedClient creates a provider client that fabricates resources locally.
func NewSimulatedClient() *SimulatedClient {
	return &SimulatedClient{}
}

func (c *SimulatedClient) CreateIdentity(_ context.Context, name string) (string, error) {
	return simulatedARN("identity", name), nil
}

func (c *SimulatedClient) DeleteIdentity(context.Context, string) error { return nil }

func (c *SimulatedClient) CreateCredential(context.Context) (*Credential, error) {
	id := uuid.NewString()
	return &Credential{
		ID:             id,
		ARN:            simulatedARN("credential", id),
		CertificatePEM: simulatedPEM("CERTIFICATE", id),
		PrivateKeyPEM:  simulatedPEM("PRIVATE KEY", id),
	}, nil
}

func (c *SimulatedClient) DeactivateCredential(context.Context, string) error { return nil }
func (c *SimulatedClient) DeleteCredential(context.Context, string) error     { return nil }

func (c *SimulatedClient) CreatePolicy(_ context.Context, name, _ string) (string, error) {
	return simulatedARN("policy", name), nil
}

func (c *SimulatedClient) PurgePolicyVersions(context.Context, string) error { return nil }
func (c *SimulatedClient) DeletePolicy(context.Context, string) error        { return nil }

func (c *SimulatedClient) AttachPolicy(context.Context, string, string) error     { return nil }
func (c *SimulatedClient) DetachPolicy(context.Context, string, string) error     { return nil }
func (c *SimulatedClient) AttachCredential(context.Context, string, string) error { return nil }
func (c *SimulatedClient) DetachCredential(context.Context, string, string) error { return nil }

func (c *SimulatedClient) CreateRoutingRule(_ context.Context, rule *RoutingRule) (string, error) {
	return simulatedARN("rule", rule.Name), nil
}

func (c *SimulatedClient) DeleteRoutingRule(context.Context, string) error { return nil }

func simulatedARN(resource, name string) string {
	return fmt.Sprintf("sim:messaging::%s/%s", resource, name)
}

func simulatedPEM(block, id string) string {
	return fmt.Sprintf("-----BEGIN %s-----\nSIMULATED %s\n-----END %s-----\n", block, id, block)
}
