package tracking

import (
	"context"
	"time"
)

// OpenEvent is a recorded pixel load.
type OpenEvent struct {
	CampaignID   string
	SubscriberID string
	IPAddress    string
	UserAgent    string
	DeviceType   string
	Bot          bool
	EventAt      time.Time
}

// ClickEvent is a recorded link click.
type ClickEvent struct {
	CampaignID   string
	SubscriberID string
	URL          string
	IPAddress    string
	UserAgent    string
	DeviceType   string
	Bot          bool
	EventAt      time.Time
}

// EventRecorder persists engagement events and unsubscribes. Implemented
// by the campaign store.
type EventRecorder interface {
	RecordOpen(ctx context.Context, evt OpenEvent) error
	RecordClick(ctx context.Context, evt ClickEvent) error
	// Unsubscribe marks the subscriber unsubscribed within the given
	// account. The userID scope is mandatory.
	Unsubscribe(ctx context.Context, subscriberID, userID string) error
}

// CampaignView is what the hosted web version of an email needs to render.
type CampaignView struct {
	CampaignID   string
	Name         string
	Subject      string
	HTML         string
	SubscriberID string
	Email        string
	FirstName    string
	LastName     string
}

// CampaignViewer loads a campaign for its hosted web version, scoped to
// the owning account.
type CampaignViewer interface {
	CampaignForView(ctx context.Context, campaignID, subscriberID, userID string) (*CampaignView, error)
}
