package gmailclient

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/jakechorley/community-connect/internal/config"
	"github.com/jakechorley/community-connect/pkg/utils"
)

// Client sends notification email through the Gmail API
type Client struct {
	service *gmail.Service
	userID  string
	limiter *rate.Limiter
}

// NewClient creates a Gmail client from a stored OAuth token. Sends are spaced
// at least sendInterval apart to stay under the Gmail API rate limits.
func NewClient(ctx context.Context, oauthCfg *config.OAuthClientConfig, token *oauth2.Token, userID string, sendInterval time.Duration) (*Client, error) {
	oauthConfig, err := utils.GetOAuthConfig(oauthCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth config: %w", err)
	}

	return NewClientWithOptions(ctx, userID, sendInterval, option.WithHTTPClient(oauthConfig.Client(ctx, token)))
}

// NewClientWithOptions creates a Gmail client with explicit API options
func NewClientWithOptions(ctx context.Context, userID string, sendInterval time.Duration, opts ...option.ClientOption) (*Client, error) {
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	limit := rate.Inf
	if sendInterval > 0 {
		limit = rate.Every(sendInterval)
	}

	return &Client{
		service: service,
		userID:  userID,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}
