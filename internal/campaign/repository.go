package campaign

import (
	"context"
	"time"

	"github.com/klickraai-ship-it/del-ai/internal/content"
)

// Status values a campaign moves through.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
)

// Campaign is the aggregate the service operates on. UserID scopes every
// campaign to its owning account.
type Campaign struct {
	ID          string
	UserID      string
	Name        string
	Subject     string
	HTMLContent string
	TextContent string
	FromName    string
	FromEmail   string
	ReplyTo     string
	Status      Status
	SentCount   int
	FailedCount int
	OpenCount   int
	ClickCount  int
	CreatedAt   time.Time
	SentAt      *time.Time
}

// RecipientStatus is the per-subscriber delivery outcome.
type RecipientStatus string

const (
	RecipientSent   RecipientStatus = "sent"
	RecipientFailed RecipientStatus = "failed"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use; Get returns
// ErrNotFound when the campaign does not exist in the account.
type Repository interface {
	Get(ctx context.Context, userID, id string) (*Campaign, error)

	// Create inserts a new draft campaign.
	Create(ctx context.Context, c *Campaign) error

	// ActiveSubscribers returns the account's subscribers eligible to
	// receive the campaign, excluding unsubscribed and bounced addresses.
	ActiveSubscribers(ctx context.Context, userID string) ([]content.Subscriber, error)

	UpdateStatus(ctx context.Context, userID, id string, status Status) error

	// UpdateProgress persists the running sent/failed counters.
	UpdateProgress(ctx context.Context, id string, sent, failed int) error

	// MarkRecipient records the per-subscriber delivery outcome.
	MarkRecipient(ctx context.Context, campaignID, subscriberID string, status RecipientStatus, detail string) error

	// Finalize stamps the terminal status, final counters, and send time.
	Finalize(ctx context.Context, id string, status Status, sent, failed int, sentAt time.Time) error
}
