package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jakechorley/community-connect/pkg/core/model"
)

// RecordingSender records every email it is asked to send.
// Addresses listed in FailFor (lowercased) fail with Err; FailAll fails every send.
type RecordingSender struct {
	mu      sync.Mutex
	Sent    []model.Email
	FailFor map[string]bool
	FailAll bool
	Err     error
}

// Send implements the email transport used by the notification dispatcher
func (s *RecordingSender) Send(ctx context.Context, email model.Email) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAll || s.FailFor[strings.ToLower(email.To)] {
		err := s.Err
		if err == nil {
			err = &model.DeliveryError{Provider: "test", Code: "MessageRejected", Err: fmt.Errorf("rejected")}
		}
		return "", err
	}
	s.Sent = append(s.Sent, email)
	return fmt.Sprintf("msg-%d", len(s.Sent)), nil
}

// SentTo returns the recipients of every successful send, in order
func (s *RecordingSender) SentTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Sent))
	for i, e := range s.Sent {
		out[i] = e.To
	}
	return out
}
