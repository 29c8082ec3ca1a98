// Package mailer is the outbound mail collaborator.
package mailer

import "context"

// Mailer sends a plain-text message to a recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}
