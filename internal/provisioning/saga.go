package provisioning

import (
	"context"
	"fmt"

	"github.com/voltgrid/solarfleet-core/internal/plant"
	"github.com/voltgrid/solarfleet-core/internal/vault"
)

// Options controls the saga's operating mode. Both flags funnel into a single
// guard at the saga entry: when provisioning is administratively off or the
// system runs against simulated data, no provider call is made and a
// deterministic placeholder bundle comes back instead.
type Options struct {
	Enabled    bool
	Simulation bool
}

// Saga provisions and deprovisions a plant's external messaging identity.
//
// A provisioning run is a sequence of independently fallible provider calls
// with all-or-nothing semantics: each completed step pushes its compensation
// onto a stack, and any failure unwinds the stack in reverse order. The saga
// holds no lock for its duration; correctness comes from idempotent
// compensation. Runs for the same plant must be serialised by the caller.
type Saga struct {
	plants plant.Repository
	client Client
	vault  *vault.Vault
	opts   Options
	logger Logger
}

// NewSaga creates a provisioning saga.
func NewSaga(plants plant.Repository, client Client, v *vault.Vault, opts Options) *Saga {
	return &Saga{
		plants: plants,
		client: client,
		vault:  v,
		opts:   opts,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the saga.
func (s *Saga) SetLogger(logger Logger) {
	s.logger = logger
}

// compensation is one completed step's undo action.
type compensation struct {
	step string
	run  func(ctx context.Context) error
}

// Provision creates the plant's external messaging identity: device identity,
// credential, authorization document, attachments, and routing rule, then
// persists the references with the credential material sealed.
//
// On any step failure every previously completed step is compensated in
// reverse order (compensation failures are individually logged and
// swallowed), the original error propagates as a StepError, and the plant
// record itself survives unprovisioned for a later retry.
//
// The returned bundle is the only place the plaintext PEM material ever
// appears; storage holds it sealed.
func (s *Saga) Provision(ctx context.Context, plantID string) (*Bundle, error) {
	p, err := s.plants.GetByID(ctx, plantID)
	if err != nil {
		return nil, err
	}
	if p.Provisioned() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProvisioned, p.Code)
	}

	names := NamesFor(p.Code)

	if !s.opts.Enabled || s.opts.Simulation {
		return s.provisionPlaceholder(ctx, p, names)
	}

	var undo []compensation
	fail := func(step string, err error) (*Bundle, error) {
		s.unwind(ctx, p.Code, undo)
		return nil, &StepError{Step: step, Err: err}
	}

	// Step 1: device identity.
	identityARN, err := s.client.CreateIdentity(ctx, names.Identity)
	if err != nil {
		return fail("create-identity", err)
	}
	undo = append(undo, compensation{"delete-identity", func(ctx context.Context) error {
		return s.client.DeleteIdentity(ctx, names.Identity)
	}})

	// Step 2: credential key pair.
	cred, err := s.client.CreateCredential(ctx)
	if err != nil {
		return fail("create-credential", err)
	}
	undo = append(undo, compensation{"delete-credential", func(ctx context.Context) error {
		if err := s.client.DeactivateCredential(ctx, cred.ID); err != nil {
			return err
		}
		return s.client.DeleteCredential(ctx, cred.ID)
	}})

	// Step 3: authorization document.
	document, err := PolicyDocumentFor(names)
	if err != nil {
		return fail("build-policy", err)
	}
	policyARN, err := s.client.CreatePolicy(ctx, names.Policy, document)
	if err != nil {
		return fail("create-policy", err)
	}
	undo = append(undo, compensation{"delete-policy", func(ctx context.Context) error {
		if err := s.client.PurgePolicyVersions(ctx, names.Policy); err != nil {
			return err
		}
		return s.client.DeletePolicy(ctx, names.Policy)
	}})

	// Step 4: document onto credential.
	if err := s.client.AttachPolicy(ctx, names.Policy, cred.ARN); err != nil {
		return fail("attach-policy", err)
	}
	undo = append(undo, compensation{"detach-policy", func(ctx context.Context) error {
		return s.client.DetachPolicy(ctx, names.Policy, cred.ARN)
	}})

	// Step 5: credential onto identity.
	if err := s.client.AttachCredential(ctx, cred.ARN, names.Identity); err != nil {
		return fail("attach-credential", err)
	}
	undo = append(undo, compensation{"detach-credential", func(ctx context.Context) error {
		return s.client.DetachCredential(ctx, cred.ARN, names.Identity)
	}})

	// Step 6: routing rule into the ordered queue.
	rule := &RoutingRule{
		Name:             names.Rule,
		Topic:            names.DataTopic,
		DeduplicationKey: DeduplicationKey,
		MessageGroupKey:  MessageGroupKey,
	}
	ruleARN, err := s.client.CreateRoutingRule(ctx, rule)
	if err != nil {
		return fail("create-rule", err)
	}
	undo = append(undo, compensation{"delete-rule", func(ctx context.Context) error {
		return s.client.DeleteRoutingRule(ctx, names.Rule)
	}})

	bundle := &Bundle{
		IdentityName:   names.Identity,
		IdentityARN:    identityARN,
		CredentialID:   cred.ID,
		CredentialARN:  cred.ARN,
		PolicyName:     names.Policy,
		PolicyARN:      policyARN,
		RuleName:       names.Rule,
		RuleARN:        ruleARN,
		DataTopic:      names.DataTopic,
		CommandTopic:   names.CommandTopic,
		CertificatePEM: cred.CertificatePEM,
		PrivateKeyPEM:  cred.PrivateKeyPEM,
	}

	if err := s.persist(ctx, p.ID, bundle); err != nil {
		return fail("persist-references", err)
	}

	s.logger.Info("plant provisioned",
		"plant", p.Code,
		"identity", names.Identity,
		"rule", names.Rule,
	)
	return bundle, nil
}

// provisionPlaceholder fabricates and persists a complete bundle without any
// provider call. Identifiers come from the same naming rules as real
// provisioning; the PEM blocks are marked non-functional placeholders.
func (s *Saga) provisionPlaceholder(ctx context.Context, p *plant.Plant, names Names) (*Bundle, error) {
	bundle := &Bundle{
		IdentityName:   names.Identity,
		IdentityARN:    simulatedARN("identity", names.Identity),
		CredentialID:   "sim-credential-" + p.Code,
		CredentialARN:  simulatedARN("credential", "sim-credential-"+p.Code),
		PolicyName:     names.Policy,
		PolicyARN:      simulatedARN("policy", names.Policy),
		RuleName:       names.Rule,
		RuleARN:        simulatedARN("rule", names.Rule),
		DataTopic:      names.DataTopic,
		CommandTopic:   names.CommandTopic,
		CertificatePEM: simulatedPEM("CERTIFICATE", p.Code),
		PrivateKeyPEM:  simulatedPEM("PRIVATE KEY", p.Code),
		Simulated:      true,
	}

	if err := s.persist(ctx, p.ID, bundle); err != nil {
		return nil, &StepError{Step: "persist-references", Err: err}
	}

	s.logger.Info("plant provisioned in simulation mode", "plant", p.Code)
	return bundle, nil
}

// persist seals the credential material and stores the bundle's references on
// the plant row. Plaintext PEM never reaches storage.
func (s *Saga) persist(ctx context.Context, plantID string, b *Bundle) error {
	sealedCert, err := s.vault.Seal(b.CertificatePEM)
	if err != nil {
		return fmt.Errorf("sealing certificate: %w", err)
	}
	sealedKey, err := s.vault.Seal(b.PrivateKeyPEM)
	if err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}

	return s.plants.SaveMessagingRefs(ctx, plantID, plant.MessagingRefs{
		IdentityName:      b.IdentityName,
		IdentityARN:       b.IdentityARN,
		CredentialID:      b.CredentialID,
		CredentialARN:     b.CredentialARN,
		PolicyName:        b.PolicyName,
		RuleName:          b.RuleName,
		DataTopic:         b.DataTopic,
		CommandTopic:      b.CommandTopic,
		EncCertificatePEM: sealedCert,
		EncPrivateKeyPEM:  sealedKey,
	})
}

// Credentials retrieves and unseals a provisioned plant's credential material.
func (s *Saga) Credentials(ctx context.Context, plantID string) (certificatePEM, privateKeyPEM string, err error) {
	p, err := s.plants.GetByID(ctx, plantID)
	if err != nil {
		return "", "", err
	}
	if p.EncCertificatePEM == nil || p.EncPrivateKeyPEM == nil {
		return "", "", fmt.Errorf("provisioning: plant %s has no stored credentials", p.Code)
	}

	certificatePEM, err = s.vault.Open(*p.EncCertificatePEM)
	if err != nil {
		return "", "", fmt.Errorf("unsealing certificate: %w", err)
	}
	privateKeyPEM, err = s.vault.Open(*p.EncPrivateKeyPEM)
	if err != nil {
		return "", "", fmt.Errorf("unsealing private key: %w", err)
	}
	return certificatePEM, privateKeyPEM, nil
}

// unwind runs the compensation stack in reverse order. Each failure is
// logged and swallowed so the rest of the unwind proceeds; the step error
// that triggered the unwind is what the caller sees.
func (s *Saga) unwind(ctx context.Context, plantCode string, undo []compensation) {
	for i := len(undo) - 1; i >= 0; i-- {
		c := undo[i]
		if err := c.run(ctx); err != nil {
			s.logger.Error("compensation failed",
				"plant", plantCode,
				"step", c.step,
				"error", err,
			)
			continue
		}
		s.logger.Debug("compensated", "plant", plantCode, "step", c.step)
	}
}
