package credentials

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/vertexgw/vertex-gateway/internal/domain"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// gcloud user tokens carry no expiry on stdout; they are valid for an hour,
// so the source assumes slightly less.
const userTokenLifetime = 55 * time.Minute

// Source yields fresh authentication material from one backing mechanism.
// A source that is simply not configured returns ErrNotConfigured so the
// chain can move on without treating it as a hard failure.
type Source interface {
	Name() string
	Kind() domain.CredentialKind
	// Remediation is the fix hint shown when this source fails.
	Remediation() string
	Credential(ctx context.Context) (*domain.Credentials, error)
}

// ErrNotConfigured marks a source that has nothing to offer in this
// environment (no key file, no gcloud session, no ambient identity).
var ErrNotConfigured = fmt.Errorf("credential source not configured")

// ServiceAccountSource mints tokens from a service account key file.
type ServiceAccountSource struct {
	// Path to the key file; falls back to GOOGLE_APPLICATION_CREDENTIALS.
	Path string
}

func (s *ServiceAccountSource) Name() string                { return "service account key" }
func (s *ServiceAccountSource) Kind() domain.CredentialKind { return domain.CredentialServiceAccount }

func (s *ServiceAccountSource) Remediation() string {
	return "set GOOGLE_APPLICATION_CREDENTIALS or service_account_path to a valid key file"
}

func (s *ServiceAccountSource) keyPath() string {
	if s.Path != "" {
		return s.Path
	}
	return os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
}

func (s *ServiceAccountSource) Credential(ctx context.Context) (*domain.Credentials, error) {
	path := s.keyPath()
	if path == "" {
		return nil, ErrNotConfigured
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account key %s: %w", path, err)
	}

	cfg, err := google.JWTConfigFromJSON(data, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key %s: %w", path, err)
	}

	tok, err := cfg.TokenSource(ctx).Token()
	if err != nil {
		return nil, fmt.Errorf("mint service account token: %w", err)
	}

	return &domain.Credentials{
		Kind:        domain.CredentialServiceAccount,
		Token:       tok.AccessToken,
		ExpiresAt:   tok.Expiry,
		ValidatedAt: time.Now(),
	}, nil
}

// GcloudSource wraps an interactively established gcloud login session.
type GcloudSource struct{}

func (s *GcloudSource) Name() string                { return "gcloud user login" }
func (s *GcloudSource) Kind() domain.CredentialKind { return domain.CredentialUserLogin }

func (s *GcloudSource) Remediation() string {
	return "run 'gcloud auth login' to establish a user session"
}

func (s *GcloudSource) Credential(ctx context.Context) (*domain.Credentials, error) {
	if _, err := exec.LookPath("gcloud"); err != nil {
		return nil, ErrNotConfigured
	}

	out, err := exec.CommandContext(ctx, "gcloud", "auth", "print-access-token").Output()
	if err != nil {
		return nil, fmt.Errorf("gcloud auth print-access-token: %w", err)
	}

	token := strings.TrimSpace(string(out))
	if token == "" {
		return nil, fmt.Errorf("gcloud returned an empty access token")
	}

	return &domain.Credentials{
		Kind:        domain.CredentialUserLogin,
		Token:       token,
		ExpiresAt:   time.Now().Add(userTokenLifetime),
		ValidatedAt: time.Now(),
	}, nil
}

// AmbientSource resolves application default credentials supplied by the
// platform (workstation ADC file, GCE/GKE metadata identity).
type AmbientSource struct{}

func (s *AmbientSource) Name() string                { return "application default credentials" }
func (s *AmbientSource) Kind() domain.CredentialKind { return domain.CredentialAmbientPlatform }

func (s *AmbientSource) Remediation() string {
	return "run 'gcloud auth application-default login' or run on a platform with an attached service identity"
}

func (s *AmbientSource) Credential(ctx context.Context) (*domain.Credentials, error) {
	creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
	if err != nil {
		return nil, ErrNotConfigured
	}

	tok, err := creds.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("mint ambient token: %w", err)
	}

	return &domain.Credentials{
		Kind:        domain.CredentialAmbientPlatform,
		Token:       tok.AccessToken,
		ExpiresAt:   tok.Expiry,
		ValidatedAt: time.Now(),
	}, nil
}
