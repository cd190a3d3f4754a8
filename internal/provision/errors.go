package provision

import "fmt"

// Step names a provisioning phase.
type Step string

const (
	StepClusterEnsured           Step = "ClusterEnsured"
	StepNetworkingResolved       Step = "NetworkingResolved"
	StepLoadBalancerProvisioned  Step = "LoadBalancerProvisioned"
	StepTaskDefinitionRegistered Step = "TaskDefinitionRegistered"
	StepServiceCreated           Step = "ServiceCreated"
	StepStable                   Step = "Stable"
)

// ProvisioningError reports the step that failed.
type ProvisioningError struct {
	Step Step
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed at %s: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

func fail(step Step, err error) error {
	return &ProvisioningError{Step: step, Err: err}
}
