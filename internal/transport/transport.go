// Package transport delivers personalized messages through an email
// provider. Resend is the default provider; AWS SES is available for
// accounts with their own sending infrastructure.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/klickraai-ship-it/del-ai/internal/dispatch"
)

// Sender delivers a single message through a provider API.
type Sender interface {
	Send(ctx context.Context, msg dispatch.Message) error
	Name() string
}

// Config selects and configures the provider.
type Config struct {
	Provider string
	Resend   ResendConfig
	SES      SESConfig
}

// New builds the sender for cfg.Provider. Anything other than "ses"
// falls back to Resend.
func New(ctx context.Context, cfg Config) (Sender, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ses":
		return NewSES(ctx, cfg.SES)
	default:
		return NewResend(cfg.Resend), nil
	}
}

// formatFrom renders the From header, "Name <addr>" when a display name
// is set.
func formatFrom(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
