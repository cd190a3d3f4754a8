package cloud

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oneops/oneops/internal/cloud/aws"
	"github.com/oneops/oneops/internal/sigv4"
)

// VerifyRequest carries optional credentials to check. Empty fields fall
// back to the server's configured credentials.
type VerifyRequest struct {
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
	Region          string `json:"region,omitempty"`
}

// VerifyResponse reports whose credentials they are.
type VerifyResponse struct {
	Success bool   `json:"success"`
	Account string `json:"account,omitempty"`
	Arn     string `json:"arn,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Service checks cloud credentials against STS.
type Service struct {
	creds  sigv4.Credentials
	region string
	opts   []aws.Option
	logger *slog.Logger
}

// New constructs a Service with the server's default credentials.
func New(creds sigv4.Credentials, region string, logger *slog.Logger, opts ...aws.Option) Service {
	return Service{creds: creds, region: region, opts: opts, logger: logger}
}

// Verify resolves the identity behind the credentials. Format problems are
// reported without any network call.
func (s Service) Verify(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	creds := s.creds
	if strings.TrimSpace(req.AccessKeyID) != "" {
		creds = sigv4.Credentials{
			AccessKeyID:     strings.TrimSpace(req.AccessKeyID),
			SecretAccessKey: req.SecretAccessKey,
			SessionToken:    strings.TrimSpace(req.SessionToken),
		}
	}
	region := strings.TrimSpace(req.Region)
	if region == "" {
		region = s.region
	}

	signer, err := sigv4.New(creds)
	if err != nil {
		return VerifyResponse{Error: err.Error()}, err
	}
	client, err := aws.New(signer, region, s.opts...)
	if err != nil {
		return VerifyResponse{Error: err.Error()}, err
	}
	defer client.Close()

	id, err := client.GetCallerIdentity(ctx)
	if err != nil {
		s.logger.Warn("credential verification failed", "access_key_id", signer.AccessKeyID(), "error", err)
		return VerifyResponse{Error: err.Error()}, err
	}
	s.logger.Info("credentials verified", "account", id.Account)
	return VerifyResponse{Success: true, Account: id.Account, Arn: id.Arn, UserID: id.UserID}, nil
}
