package sesclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/metrics"
)

const (
	providerName = "ses"
	charset      = "UTF-8"
)

// API is the subset of the SES client used for sending
type API interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Client sends notification email through Amazon SES
type Client struct {
	api API
}

// NewClient creates an SES client using the default AWS credential chain
func NewClient(ctx context.Context, region string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewWithAPI(ses.NewFromConfig(cfg)), nil
}

// NewWithAPI wraps an existing SES API implementation
func NewWithAPI(api API) *Client {
	return &Client{api: api}
}

// Send delivers the email and returns the SES message id
func (c *Client) Send(ctx context.Context, email model.Email) (string, error) {
	start := time.Now()
	out, err := c.api.SendEmail(ctx, sendEmailInput(email))
	if err != nil {
		metrics.EmailSendDuration.WithLabelValues(providerName, "error").Observe(time.Since(start).Seconds())
		return "", deliveryError(err)
	}
	metrics.EmailSendDuration.WithLabelValues(providerName, "sent").Observe(time.Since(start).Seconds())

	return aws.ToString(out.MessageId), nil
}

func sendEmailInput(email model.Email) *ses.SendEmailInput {
	body := &types.Body{}
	if email.Text != "" {
		body.Text = &types.Content{Data: aws.String(email.Text), Charset: aws.String(charset)}
	}
	if email.HTML != "" {
		body.Html = &types.Content{Data: aws.String(email.HTML), Charset: aws.String(charset)}
	}

	return &ses.SendEmailInput{
		Source:      aws.String(email.From),
		Destination: &types.Destination{ToAddresses: []string{email.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(email.Subject), Charset: aws.String(charset)},
			Body:    body,
		},
	}
}

// deliveryError tags SES failures with the service error code, e.g. MessageRejected
func deliveryError(err error) error {
	de := &model.DeliveryError{Provider: providerName, Err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		de.Code = apiErr.ErrorCode()
	}
	return de
}
