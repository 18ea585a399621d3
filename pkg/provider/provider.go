// Package provider abstracts the language-model backends used for analysis.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/pario-ai/intentd/pkg/models"
)

// ErrUnavailable means no backend could be used.
var ErrUnavailable = errors.New("provider unavailable")

// Provider turns a conversation into response text.
type Provider interface {
	// Name identifies the backend in logs, metrics and the analysis log.
	Name() string
	Complete(ctx context.Context, messages []models.ChatMessage) (string, error)
}

// CallError is a failed call to a selected backend.
type CallError struct {
	Provider string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Provider, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// permanentError marks a failure that retrying cannot fix, such as a rejected credential.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Unavailable is the provider used when no backend could be selected.
// Every call fails with ErrUnavailable.
type Unavailable struct {
	Reason string
}

// NewUnavailable returns an Unavailable provider carrying reason.
func NewUnavailable(reason string) *Unavailable {
	return &Unavailable{Reason: reason}
}

func (u *Unavailable) Name() string { return "unavailable" }

func (u *Unavailable) Complete(context.Context, []models.ChatMessage) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrUnavailable, u.Reason)
}
