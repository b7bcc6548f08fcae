// Package notify defines the message-sending collaborator and an
// asynchronous outbox dispatcher in front of it. This core never
// renders message bodies; it hands the template name, recipient, and
// deep-link URL to the external sender.
package notify

import (
	"context"
	"time"
)

// Template names the message kinds this core can queue.
type Template string

const (
	TemplateVerifyEmail     Template = "verify_email"
	TemplateApproveDevice   Template = "approve_device"
	TemplateUnlockLogin     Template = "unlock_login"
	TemplatePasswordReset   Template = "password_reset"
	TemplateSuspiciousLogin Template = "suspicious_login"
)

// Message is one notification to deliver. The action link is embedded
// in Link as a URL with the token in the fragment, never a query
// parameter, so it stays out of server logs and referrer headers.
type Message struct {
	Template   Template
	Recipient  string
	Link       string
	Meta       map[string]string
	EnqueuedAt time.Time
}

// Sender delivers a single message synchronously. Implementations wrap
// the actual mail/SMS provider.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, m Message) error

func (f SenderFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }
