package provisioning

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyProvisioned is returned when a plant already carries a messaging
// identity. Deprovision first, then re-provision.
var ErrAlreadyProvisioned = errors.New("provisioning: plant already provisioned")

// StepError reports which saga step failed. By the time it reaches the
// caller every previously completed step has been compensated: the plant
// record survives without a messaging identity and can be re-provisioned.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning: step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// TeardownError aggregates the steps that failed during deprovisioning.
// It is advisory: teardown always runs to completion and the plant's
// references are cleared regardless, so a partially failed teardown never
// blocks plant deletion.
type TeardownError struct {
	Failures []StepFailure
}

// StepFailure is one failed teardown step.
type StepFailure struct {
	Step string
	Err  error
}

func (e *TeardownError) Error() string {
	steps := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		steps[i] = f.Step
	}
	return fmt.Sprintf("provisioning: teardown completed with %d failed steps: %s",
		len(e.Failures), strings.Join(steps, ", "))
}
