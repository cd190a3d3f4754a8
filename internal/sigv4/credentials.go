package sigv4

import "strings"

const (
	accessKeyIDLength     = 20
	secretAccessKeyLength = 40
)

// Credentials are long-lived (AKIA) or temporary (ASIA) AWS keys.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// ValidateCredentials checks the shape of the key pair. Surrounding
// whitespace is rejected rather than trimmed so a pasted newline surfaces
// here and not as a signature mismatch from the provider.
func ValidateCredentials(c Credentials) error {
	id := c.AccessKeyID
	switch {
	case id == "":
		return &CredentialFormatError{Field: "access key id", Reason: "empty"}
	case len(id) != accessKeyIDLength:
		return &CredentialFormatError{Field: "access key id", Reason: "must be 20 characters"}
	case !strings.HasPrefix(id, "AKIA") && !strings.HasPrefix(id, "ASIA"):
		return &CredentialFormatError{Field: "access key id", Reason: "must start with AKIA or ASIA"}
	}
	for _, r := range id {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return &CredentialFormatError{Field: "access key id", Reason: "must be upper-case alphanumeric"}
		}
	}
	secret := c.SecretAccessKey
	switch {
	case secret == "":
		return &CredentialFormatError{Field: "secret access key", Reason: "empty"}
	case len(secret) != secretAccessKeyLength:
		return &CredentialFormatError{Field: "secret access key", Reason: "must be 40 characters"}
	case strings.TrimSpace(secret) != secret:
		return &CredentialFormatError{Field: "secret access key", Reason: "contains surrounding whitespace"}
	}
	if strings.HasPrefix(id, "ASIA") && c.SessionToken == "" {
		return &CredentialFormatError{Field: "session token", Reason: "required for temporary (ASIA) keys"}
	}
	return nil
}
