package campaign

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/klickraai-ship-it/del-ai/internal/content"
	"github.com/klickraai-ship-it/del-ai/internal/tracking"
)

// Store implements Repository against PostgreSQL. It also backs the
// public tracking endpoints (tracking.EventRecorder, tracking.CampaignViewer).
type Store struct{ db *sql.DB }

// NewStore creates a Postgres-backed campaign store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Get(ctx context.Context, userID, id string) (*Campaign, error) {
	c := &Campaign{}
	var sentAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, subject,
		       COALESCE(html_content,''), COALESCE(text_content,''),
		       COALESCE(from_name,''), from_email, COALESCE(reply_to,''),
		       status, sent_count, failed_count, open_count, click_count,
		       created_at, sent_at
		FROM campaigns
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&c.ID, &c.UserID, &c.Name, &c.Subject,
		&c.HTMLContent, &c.TextContent,
		&c.FromName, &c.FromEmail, &c.ReplyTo,
		&c.Status, &c.SentCount, &c.FailedCount, &c.OpenCount, &c.ClickCount,
		&c.CreatedAt, &sentAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	return c, nil
}

func (s *Store) Create(ctx context.Context, c *Campaign) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, user_id, name, subject, html_content, text_content,
			 from_name, from_email, reply_to, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.UserID, c.Name, c.Subject, c.HTMLContent, c.TextContent,
		c.FromName, c.FromEmail, c.ReplyTo, c.Status, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (s *Store) ActiveSubscribers(ctx context.Context, userID string) ([]content.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, COALESCE(first_name,''), COALESCE(last_name,'')
		FROM subscribers
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	defer rows.Close()

	var subs []content.Subscriber
	for rows.Next() {
		var sub content.Subscriber
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.FirstName, &sub.LastName); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, userID, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, id, userID, status)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, sent, failed int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET sent_count = $2, failed_count = failed_count + $3, updated_at = NOW()
		WHERE id = $1
	`, id, sent, failed)
	if err != nil {
		return fmt.Errorf("update campaign progress: %w", err)
	}
	return nil
}

func (s *Store) MarkRecipient(ctx context.Context, campaignID, subscriberID string, status RecipientStatus, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_recipients (campaign_id, subscriber_id, status, detail, attempted_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (campaign_id, subscriber_id)
		DO UPDATE SET status = $3, detail = $4, attempted_at = NOW()
	`, campaignID, subscriberID, status, detail)
	if err != nil {
		return fmt.Errorf("mark recipient: %w", err)
	}
	return nil
}

func (s *Store) Finalize(ctx context.Context, id string, status Status, sent, failed int, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, sent_count = $3, failed_count = $4, sent_at = $5, updated_at = NOW()
		WHERE id = $1
	`, id, status, sent, failed, sentAt)
	if err != nil {
		return fmt.Errorf("finalize campaign: %w", err)
	}
	return nil
}

// RecordOpen implements tracking.EventRecorder.
func (s *Store) RecordOpen(ctx context.Context, evt tracking.OpenEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_events
			(event_type, campaign_id, subscriber_id, ip_address, user_agent, device_type, is_bot, event_at)
		VALUES ('open', $1, $2, $3, $4, $5, $6, $7)
	`, evt.CampaignID, evt.SubscriberID, evt.IPAddress, evt.UserAgent, evt.DeviceType, evt.Bot, evt.EventAt)
	if err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	if evt.Bot {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE campaigns SET open_count = open_count + 1 WHERE id = $1
	`, evt.CampaignID)
	if err != nil {
		return fmt.Errorf("bump open count: %w", err)
	}
	return nil
}

// RecordClick implements tracking.EventRecorder.
func (s *Store) RecordClick(ctx context.Context, evt tracking.ClickEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_events
			(event_type, campaign_id, subscriber_id, link_url, ip_address, user_agent, device_type, is_bot, event_at)
		VALUES ('click', $1, $2, $3, $4, $5, $6, $7, $8)
	`, evt.CampaignID, evt.SubscriberID, evt.URL, evt.IPAddress, evt.UserAgent, evt.DeviceType, evt.Bot, evt.EventAt)
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	if evt.Bot {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE campaigns SET click_count = click_count + 1 WHERE id = $1
	`, evt.CampaignID)
	if err != nil {
		return fmt.Errorf("bump click count: %w", err)
	}
	return nil
}

// Unsubscribe implements tracking.EventRecorder. The account scope is
// part of the WHERE clause: a token from one account can never touch
// another account's subscriber rows.
func (s *Store) Unsubscribe(ctx context.Context, subscriberID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscribers
		SET status = 'unsubscribed', unsubscribed_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status <> 'unsubscribed'
	`, subscriberID, userID)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Already unsubscribed or not in this account. The page shown
		// is the same either way.
		return nil
	}
	return nil
}

// CampaignForView implements tracking.CampaignViewer.
func (s *Store) CampaignForView(ctx context.Context, campaignID, subscriberID, userID string) (*tracking.CampaignView, error) {
	v := &tracking.CampaignView{}
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.subject, COALESCE(c.html_content,''),
		       s.id, s.email, COALESCE(s.first_name,''), COALESCE(s.last_name,'')
		FROM campaigns c
		JOIN subscribers s ON s.user_id = c.user_id
		WHERE c.id = $1 AND s.id = $2 AND c.user_id = $3
	`, campaignID, subscriberID, userID).Scan(
		&v.CampaignID, &v.Name, &v.Subject, &v.HTML,
		&v.SubscriberID, &v.Email, &v.FirstName, &v.LastName,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign for view: %w", err)
	}
	return v, nil
}
