package sigv4

import "fmt"

// CredentialFormatError reports key material that cannot belong to a real
// AWS identity. It is returned before any request is signed.
type CredentialFormatError struct {
	Field  string
	Reason string
}

func (e *CredentialFormatError) Error() string {
	return fmt.Sprintf("sigv4: malformed %s: %s", e.Field, e.Reason)
}
