package gmailclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/metrics"
)

const providerName = "gmail"

// Send delivers the email and returns the Gmail message id
func (c *Client) Send(ctx context.Context, email model.Email) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("failed waiting for gmail send slot: %w", err)
	}

	raw, err := buildMessage(email)
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}

	start := time.Now()
	sent, err := c.service.Users.Messages.
		Send(c.userID, &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}).
		Context(ctx).
		Do()
	if err != nil {
		metrics.EmailSendDuration.WithLabelValues(providerName, "error").Observe(time.Since(start).Seconds())
		return "", deliveryError(err)
	}
	metrics.EmailSendDuration.WithLabelValues(providerName, "sent").Observe(time.Since(start).Seconds())

	return sent.Id, nil
}

// deliveryError tags Gmail API failures with the provider's reason code
func deliveryError(err error) error {
	de := &model.DeliveryError{Provider: providerName, Err: err}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		de.Code = strconv.Itoa(apiErr.Code)
		if len(apiErr.Errors) > 0 && apiErr.Errors[0].Reason != "" {
			de.Code = apiErr.Errors[0].Reason
		}
	}
	return de
}

// buildMessage renders an RFC 5322 message with text and HTML alternatives
func buildMessage(email model.Email) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", email.Text},
		{"text/html; charset=UTF-8", email.HTML},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", p.contentType)
		header.Set("Content-Transfer-Encoding", "quoted-printable")

		w, err := mw.CreatePart(header)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	writeHeader(&msg, "From", email.From)
	writeHeader(&msg, "To", email.To)
	writeHeader(&msg, "Subject", mime.QEncoding.Encode("utf-8", email.Subject))
	writeHeader(&msg, "MIME-Version", "1.0")
	writeHeader(&msg, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}

var headerSanitizer = strings.NewReplacer("\r", "", "\n", "")

func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(headerSanitizer.Replace(value))
	buf.WriteString("\r\n")
}
