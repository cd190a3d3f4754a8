package image

// PublishError means no usable image reference exists, so provisioning
// cannot proceed.
type PublishError struct {
	Reason string
	Err    error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return "image publish failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "image publish failed: " + e.Reason
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
