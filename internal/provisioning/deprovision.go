package provisioning

import (
	"context"
	"fmt"
)

// Deprovision tears down a plant's external messaging identity: delete the
// routing rule, detach/deactivate/delete the credential, detach and delete
// the authorization document, delete the identity.
//
// Every step whose resource reference is absent is skipped — the plant may
// have been only partially provisioned, or provisioning may have been
// disabled when it was created. Step failures are logged, collected, and
// returned as a TeardownError after the whole unwind has run; they never
// abort the teardown and must never block plant deletion. The plant's
// references are cleared regardless.
func (s *Saga) Deprovision(ctx context.Context, plantID string) error {
	p, err := s.plants.GetByID(ctx, plantID)
	if err != nil {
		return err
	}

	var failures []StepFailure
	attempt := func(step string, ref *string, run func(ctx context.Context) error) {
		if ref == nil {
			s.logger.Debug("teardown step skipped, no resource", "plant", p.Code, "step", step)
			return
		}
		if s.opts.Enabled && !s.opts.Simulation {
			if err := run(ctx); err != nil {
				s.logger.Error("teardown step failed",
					"plant", p.Code,
					"step", step,
					"error", err,
				)
				failures = append(failures, StepFailure{Step: step, Err: err})
				return
			}
		}
		s.logger.Debug("teardown step done", "plant", p.Code, "step", step)
	}

	attempt("delete-rule", p.RuleName, func(ctx context.Context) error {
		return s.client.DeleteRoutingRule(ctx, *p.RuleName)
	})

	attempt("detach-credential", p.CredentialARN, func(ctx context.Context) error {
		if p.IdentityName == nil {
			return nil
		}
		return s.client.DetachCredential(ctx, *p.CredentialARN, *p.IdentityName)
	})

	attempt("deactivate-credential", p.CredentialID, func(ctx context.Context) error {
		return s.client.DeactivateCredential(ctx, *p.CredentialID)
	})

	attempt("delete-credential", p.CredentialID, func(ctx context.Context) error {
		return s.client.DeleteCredential(ctx, *p.CredentialID)
	})

	attempt("detach-policy", p.PolicyName, func(ctx context.Context) error {
		if p.CredentialARN == nil {
			return nil
		}
		return s.client.DetachPolicy(ctx, *p.PolicyName, *p.CredentialARN)
	})

	attempt("delete-policy", p.PolicyName, func(ctx context.Context) error {
		if err := s.client.PurgePolicyVersions(ctx, *p.PolicyName); err != nil {
			return err
		}
		return s.client.DeletePolicy(ctx, *p.PolicyName)
	})

	attempt("delete-identity", p.IdentityName, func(ctx context.Context) error {
		return s.client.DeleteIdentity(ctx, *p.IdentityName)
	})

	if err := s.plants.ClearMessagingRefs(ctx, p.ID); err != nil {
		return fmt.Errorf("clearing messaging refs: %w", err)
	}

	s.logger.Info("plant deprovisioned", "plant", p.Code, "failed_steps", len(failures))

	if len(failures) > 0 {
		return &TeardownError{Failures: failures}
	}
	return nil
}
