// Package convo runs the message pipeline: it serializes user messages
// against a per-context processing flag, drives the external responder, and
// appends results to the store.
package convo

import (
	"context"

	"github.com/zulandar/switchboard/internal/models"
)

// Responder abstracts the external reply-producing collaborator. One
// Exchange is opened per processing run and seeded with the context's
// history up to that point.
type Responder interface {
	Open(ctx context.Context, history []models.Message) (Exchange, error)
}

// Exchange is a live conversation with the responder for one processing run.
type Exchange interface {
	// Ask submits one user input and blocks for the reply.
	Ask(ctx context.Context, input string) (string, error)
	// Interject injects an out-of-band steering message. It must not block;
	// the responder picks it up at its next checkpoint.
	Interject(msg string)
	// Close releases the exchange. Safe to call more than once.
	Close() error
}
