package model

import (
	"errors"
	"fmt"
)

// Email is an outbound message handed to an email transport
type Email struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// DeliveryError is returned by email transports when the provider rejects a send
type DeliveryError struct {
	Provider string
	Code     string
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s delivery failed (%s): %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("%s delivery failed: %v", e.Provider, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// DeliveryErrorCode extracts the provider error code, if any
func DeliveryErrorCode(err error) string {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
