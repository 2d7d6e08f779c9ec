package identityclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/auth0/go-auth0/management"

	"mindcast/pkg/domain"
)

// Config configures the identity provider's management API.
type Config struct {
	// Domain is the tenant host, e.g. tenant.eu.auth0.com. A scheme prefix is ignored.
	Domain       string
	ClientID     string
	ClientSecret string
	// Audience defaults to the tenant's /api/v2/ identifier.
	Audience   string
	HTTPClient *http.Client

	// insecure switches to plain HTTP without credentials.
	insecure bool
}

// Client updates user app metadata through the management API.
type Client struct {
	users *management.UserManager
}

// NewClient constructs a management API client that fetches its token with
// the client-credentials grant.
func NewClient(cfg Config) (*Client, error) {
	domainName := strings.TrimRight(strings.TrimSpace(cfg.Domain), "/")
	if domainName == "" {
		return nil, errors.New("identity domain required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	opts := []management.Option{management.WithClient(httpClient)}
	switch {
	case cfg.insecure:
		opts = append(opts, management.WithInsecure(), management.WithNoRetries())
	case cfg.ClientID == "" || cfg.ClientSecret == "":
		return nil, errors.New("identity client id and client secret required")
	case cfg.Audience != "":
		opts = append(opts, management.WithClientCredentialsAndAudience(context.Background(), cfg.ClientID, cfg.ClientSecret, cfg.Audience))
	default:
		opts = append(opts, management.WithClientCredentials(context.Background(), cfg.ClientID, cfg.ClientSecret))
	}
	m, err := management.New(domainName, opts...)
	if err != nil {
		return nil, fmt.Errorf("init management client: %w", err)
	}
	return &Client{users: m.User}, nil
}

// UpdateAppMetadata merges metadata into the user's app_metadata. Keys set to
// nil are removed by the provider.
func (c *Client) UpdateAppMetadata(ctx context.Context, userID string, metadata map[string]any) error {
	if err := c.users.Update(ctx, userID, &management.User{AppMetadata: &metadata}); err != nil {
		var apiErr management.Error
		if errors.As(err, &apiErr) && apiErr.Status() == http.StatusNotFound {
			return fmt.Errorf("user %s: %w: %w", userID, domain.ErrNotFound, err)
		}
		return fmt.Errorf("update metadata for %s: %w", userID, err)
	}
	return nil
}
