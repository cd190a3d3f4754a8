package aws

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a non-2xx answer from an AWS endpoint.
type APIError struct {
	Service   string
	Operation string
	Status    int
	Code      string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %s (%d): %s", e.Service, e.Operation, e.Code, e.Status, e.Message)
}

var alreadyExistsCodes = map[string]struct{}{
	"ResourceAlreadyExistsException": {},
	"DuplicateTargetGroupName":       {},
	"DuplicateLoadBalancerName":      {},
	"DuplicateListener":              {},
	"InvalidPermission.Duplicate":    {},
	"InvalidGroup.Duplicate":         {},
}

var notFoundCodes = map[string]struct{}{
	"ClusterNotFoundException":       {},
	"ServiceNotFoundException":       {},
	"LoadBalancerNotFound":           {},
	"TargetGroupNotFound":            {},
	"ListenerNotFound":               {},
	"ResourceNotFoundException":      {},
	"InvalidVpcID.NotFound":          {},
	"InvalidGroup.NotFound":          {},
	"InvalidSubnetID.NotFound":       {},
	"ClientException.NotFound":       {},
	"InvalidParameterValue.NotFound": {},
}

// IsAlreadyExists reports errors meaning the resource is already there.
// Some APIs only say so in the message, so the text is checked as well.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if _, ok := alreadyExistsCodes[apiErr.Code]; ok {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "already exist") || strings.Contains(msg, "not idempotent")
}

// IsNotFound reports errors for missing resources.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	_, ok := notFoundCodes[apiErr.Code]
	return ok
}
