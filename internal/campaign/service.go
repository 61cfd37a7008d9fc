package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klickraai-ship-it/del-ai/internal/content"
	"github.com/klickraai-ship-it/del-ai/internal/dispatch"
	"github.com/klickraai-ship-it/del-ai/internal/pkg/distlock"
	"github.com/klickraai-ship-it/del-ai/internal/pkg/logger"
	"github.com/klickraai-ship-it/del-ai/internal/transport"
)

// progressFlushEvery controls how often running counters hit the database
// during a send.
const progressFlushEvery = 25

// Service coordinates campaign sends between the repository, the batch
// dispatcher, and the email transport.
type Service struct {
	repo       Repository
	dispatcher *dispatch.Dispatcher
	sender     transport.Sender
	newLock    func(key string) distlock.DistLock
}

// NewService creates a campaign service.
func NewService(repo Repository, d *dispatch.Dispatcher, sender transport.Sender) *Service {
	return &Service{repo: repo, dispatcher: d, sender: sender}
}

// SetLockProvider enables distributed send locking. Without it, only the
// status check guards against double sends.
func (s *Service) SetLockProvider(f func(key string) distlock.DistLock) {
	s.newLock = f
}

// Get returns a single campaign scoped to the account.
func (s *Service) Get(ctx context.Context, userID, id string) (*Campaign, error) {
	return s.repo.Get(ctx, userID, id)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	HTMLContent string `json:"html_content"`
	TextContent string `json:"text_content"`
	FromName    string `json:"from_name"`
	FromEmail   string `json:"from_email"`
	ReplyTo     string `json:"reply_to"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*Campaign, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if input.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if input.FromEmail == "" {
		return nil, fmt.Errorf("from_email is required")
	}

	c := &Campaign{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        input.Name,
		Subject:     input.Subject,
		HTMLContent: input.HTMLContent,
		TextContent: input.TextContent,
		FromName:    input.FromName,
		FromEmail:   input.FromEmail,
		ReplyTo:     input.ReplyTo,
		Status:      StatusDraft,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return c, nil
}

// Send dispatches the campaign to every active subscriber in the account.
// It validates state, transitions the campaign to sending, runs the
// batched dispatch, and finalizes status and counters. The returned
// result reflects attempts that settled even when the context was
// canceled mid-send.
func (s *Service) Send(ctx context.Context, userID, campaignID string) (dispatch.Result, error) {
	var zero dispatch.Result

	if s.newLock != nil {
		lock := s.newLock("campaign:send:" + campaignID)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return zero, fmt.Errorf("acquiring send lock: %w", err)
		}
		if !ok {
			return zero, ErrAlreadySending
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}

	c, err := s.repo.Get(ctx, userID, campaignID)
	if err != nil {
		return zero, err
	}
	if c.Status != StatusDraft && c.Status != StatusScheduled {
		return zero, ErrAlreadySending
	}
	if c.Subject == "" || (c.HTMLContent == "" && c.TextContent == "") {
		return zero, ErrMissingContent
	}

	subs, err := s.repo.ActiveSubscribers(ctx, userID)
	if err != nil {
		return zero, fmt.Errorf("loading subscribers: %w", err)
	}
	if len(subs) == 0 {
		return zero, ErrNoRecipients
	}

	if err := s.repo.UpdateStatus(ctx, userID, campaignID, StatusSending); err != nil {
		return zero, fmt.Errorf("transition to sending: %w", err)
	}

	job := dispatch.Job{
		CampaignID:   c.ID,
		UserID:       c.UserID,
		CampaignName: c.Name,
		Subscribers:  subs,
		Content: content.Content{
			Subject: c.Subject,
			HTML:    c.HTMLContent,
			Text:    c.TextContent,
		},
		FromName:  c.FromName,
		FromEmail: c.FromEmail,
		ReplyTo:   c.ReplyTo,
	}

	// Bookkeeping writes survive cancellation of the send itself.
	persistCtx := context.WithoutCancel(ctx)

	onProgress := func(sent, total int) {
		if sent%progressFlushEvery == 0 || sent == total {
			if err := s.repo.UpdateProgress(persistCtx, c.ID, sent, 0); err != nil {
				logger.Warn("persisting progress failed",
					"campaign_id", c.ID, "error", err.Error())
			}
		}
	}
	onResult := func(sub content.Subscriber, sendErr error) {
		status, detail := RecipientSent, ""
		if sendErr != nil {
			status, detail = RecipientFailed, sendErr.Error()
		}
		if err := s.repo.MarkRecipient(persistCtx, c.ID, sub.ID, status, detail); err != nil {
			logger.Warn("recording recipient status failed",
				"campaign_id", c.ID, "subscriber_id", sub.ID, "error", err.Error())
		}
	}

	res, runErr := s.dispatcher.Run(ctx, job, s.sender.Send, onProgress, onResult)

	final := StatusSent
	if res.Sent == 0 {
		final = StatusFailed
	}
	if err := s.repo.Finalize(persistCtx, c.ID, final, res.Sent, res.Failed, time.Now().UTC()); err != nil {
		logger.Error("finalizing campaign failed", "campaign_id", c.ID, "error", err.Error())
	}

	if runErr != nil {
		return res, fmt.Errorf("dispatch interrupted: %w", runErr)
	}
	logger.Info("campaign send complete",
		"campaign_id", c.ID, "sent", res.Sent, "failed", res.Failed,
		"provider", s.sender.Name())
	return res, nil
}
