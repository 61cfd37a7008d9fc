package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klickraai-ship-it/del-ai/internal/campaign"
	"github.com/klickraai-ship-it/del-ai/internal/content"
	"github.com/klickraai-ship-it/del-ai/internal/dispatch"
	"github.com/klickraai-ship-it/del-ai/internal/pkg/distlock"
	"github.com/klickraai-ship-it/del-ai/internal/token"
)

// memRepo is an in-memory campaign repository for unit testing.
type memRepo struct {
	mu          sync.Mutex
	campaigns   map[string]*campaign.Campaign
	subscribers []content.Subscriber
	recipients  map[string]campaign.RecipientStatus // subscriber id -> status
	progress    []int
	finalized   bool
	finalStatus campaign.Status
	subsErr     error
}

func newMemRepo() *memRepo {
	return &memRepo{
		campaigns:  make(map[string]*campaign.Campaign),
		recipients: make(map[string]campaign.RecipientStatus),
	}
}

func (m *memRepo) Get(_ context.Context, userID, id string) (*campaign.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.UserID != userID {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) Create(_ context.Context, c *campaign.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[cp.ID] = &cp
	return nil
}

func (m *memRepo) ActiveSubscribers(_ context.Context, _ string) ([]content.Subscriber, error) {
	if m.subsErr != nil {
		return nil, m.subsErr
	}
	return m.subscribers, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, userID, id string, status campaign.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.UserID != userID {
		return campaign.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *memRepo) UpdateProgress(_ context.Context, id string, sent, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, sent)
	return nil
}

func (m *memRepo) MarkRecipient(_ context.Context, _, subscriberID string, status campaign.RecipientStatus, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipients[subscriberID] = status
	return nil
}

func (m *memRepo) Finalize(_ context.Context, id string, status campaign.Status, sent, failed int, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = true
	m.finalStatus = status
	if c, ok := m.campaigns[id]; ok {
		c.Status = status
		c.SentCount = sent
		c.FailedCount = failed
	}
	return nil
}

// recordingSender captures delivered messages; addresses containing
// "bounce" fail.
type recordingSender struct {
	mu   sync.Mutex
	sent []dispatch.Message
}

func (r *recordingSender) Send(_ context.Context, msg dispatch.Message) error {
	if strings.Contains(msg.To, "bounce") {
		return errors.New("hard bounce")
	}
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func newTestService(repo *memRepo, sender *recordingSender) *campaign.Service {
	codec := token.NewCodec([]byte("campaign-test-secret"))
	tr := content.NewTransformer(codec, "https://track.example.com")
	d := dispatch.NewDispatcher(tr, 10, time.Millisecond)
	return campaign.NewService(repo, d, sender)
}

func draftCampaign(id, userID string) *campaign.Campaign {
	return &campaign.Campaign{
		ID:          id,
		UserID:      userID,
		Name:        "Launch",
		Subject:     "Hello {{firstName}}",
		HTMLContent: "<html><body><p>Hi</p></body></html>",
		FromName:    "Acme",
		FromEmail:   "news@acme.example",
		Status:      campaign.StatusDraft,
	}
}

func TestCreate(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &recordingSender{})

	c, err := svc.Create(context.Background(), "u1", campaign.CreateInput{
		Name:      "Launch",
		Subject:   "Hello",
		FromEmail: "news@acme.example",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ID == "" || c.Status != campaign.StatusDraft || c.UserID != "u1" {
		t.Errorf("unexpected campaign: %+v", c)
	}
	if got, err := repo.Get(context.Background(), "u1", c.ID); err != nil || got.Name != "Launch" {
		t.Errorf("campaign not persisted: %v %v", got, err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newMemRepo(), &recordingSender{})
	cases := []campaign.CreateInput{
		{Subject: "s", FromEmail: "f@x.com"},
		{Name: "n", FromEmail: "f@x.com"},
		{Name: "n", Subject: "s"},
	}
	for i, in := range cases {
		if _, err := svc.Create(context.Background(), "u1", in); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestSend(t *testing.T) {
	repo := newMemRepo()
	repo.campaigns["c1"] = draftCampaign("c1", "u1")
	for i := 0; i < 30; i++ {
		repo.subscribers = append(repo.subscribers, content.Subscriber{
			ID:    fmt.Sprintf("s%d", i),
			Email: fmt.Sprintf("sub%d@example.com", i),
		})
	}
	repo.subscribers[7].Email = "bounce@example.com"

	sender := &recordingSender{}
	svc := newTestService(repo, sender)

	res, err := svc.Send(context.Background(), "u1", "c1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Sent != 29 || res.Failed != 1 {
		t.Errorf("result = %+v, want {Sent:29 Failed:1}", res)
	}
	if len(sender.sent) != 29 {
		t.Errorf("delivered %d messages, want 29", len(sender.sent))
	}

	if !repo.finalized || repo.finalStatus != campaign.StatusSent {
		t.Errorf("campaign not finalized as sent: %v %v", repo.finalized, repo.finalStatus)
	}
	c := repo.campaigns["c1"]
	if c.SentCount != 29 || c.FailedCount != 1 {
		t.Errorf("final counters = %d/%d", c.SentCount, c.FailedCount)
	}
	if repo.recipients["s7"] != campaign.RecipientFailed {
		t.Errorf("bounced recipient status = %q", repo.recipients["s7"])
	}
	if repo.recipients["s0"] != campaign.RecipientSent {
		t.Errorf("delivered recipient status = %q", repo.recipients["s0"])
	}
	if len(repo.progress) == 0 {
		t.Error("no progress persisted")
	}
}

func TestSendWrongAccount(t *testing.T) {
	repo := newMemRepo()
	repo.campaigns["c1"] = draftCampaign("c1", "u1")
	svc := newTestService(repo, &recordingSender{})

	_, err := svc.Send(context.Background(), "other-user", "c1")
	if !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSendAlreadySending(t *testing.T) {
	repo := newMemRepo()
	c := draftCampaign("c1", "u1")
	c.Status = campaign.StatusSending
	repo.campaigns["c1"] = c
	svc := newTestService(repo, &recordingSender{})

	_, err := svc.Send(context.Background(), "u1", "c1")
	if !errors.Is(err, campaign.ErrAlreadySending) {
		t.Errorf("err = %v, want ErrAlreadySending", err)
	}
}

func TestSendNoRecipients(t *testing.T) {
	repo := newMemRepo()
	repo.campaigns["c1"] = draftCampaign("c1", "u1")
	svc := newTestService(repo, &recordingSender{})

	_, err := svc.Send(context.Background(), "u1", "c1")
	if !errors.Is(err, campaign.ErrNoRecipients) {
		t.Errorf("err = %v, want ErrNoRecipients", err)
	}
	c, _ := repo.Get(context.Background(), "u1", "c1")
	if c.Status != campaign.StatusDraft {
		t.Errorf("status should stay draft, got %v", c.Status)
	}
}

func TestSendMissingContent(t *testing.T) {
	repo := newMemRepo()
	c := draftCampaign("c1", "u1")
	c.HTMLContent = ""
	c.TextContent = ""
	repo.campaigns["c1"] = c
	svc := newTestService(repo, &recordingSender{})

	_, err := svc.Send(context.Background(), "u1", "c1")
	if !errors.Is(err, campaign.ErrMissingContent) {
		t.Errorf("err = %v, want ErrMissingContent", err)
	}
}

func TestSendAllFailuresFinalizesFailed(t *testing.T) {
	repo := newMemRepo()
	repo.campaigns["c1"] = draftCampaign("c1", "u1")
	repo.subscribers = []content.Subscriber{
		{ID: "s1", Email: "bounce1@example.com"},
		{ID: "s2", Email: "bounce2@example.com"},
	}
	svc := newTestService(repo, &recordingSender{})

	res, err := svc.Send(context.Background(), "u1", "c1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Sent != 0 || res.Failed != 2 {
		t.Errorf("result = %+v", res)
	}
	if repo.finalStatus != campaign.StatusFailed {
		t.Errorf("final status = %v, want failed", repo.finalStatus)
	}
}

type fakeLock struct {
	held     bool
	acquired bool
	released bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.released = true
	return nil
}

func TestSendHeldLockRefused(t *testing.T) {
	repo := newMemRepo()
	repo.campaigns["c1"] = draftCampaign("c1", "u1")
	repo.subscribers = []content.Subscriber{{ID: "s1", Email: "a@example.com"}}
	svc := newTestService(repo, &recordingSender{})

	lock := &fakeLock{held: true}
	svc.SetLockProvider(func(string) distlock.DistLock { return lock })

	_, err := svc.Send(context.Background(), "u1", "c1")
	if !errors.Is(err, campaign.ErrAlreadySending) {
		t.Errorf("err = %v, want ErrAlreadySending", err)
	}
}

func TestSendReleasesLock(t *testing.T) {
	repo := newMemRepo()
	repo.campaigns["c1"] = draftCampaign("c1", "u1")
	repo.subscribers = []content.Subscriber{{ID: "s1", Email: "a@example.com"}}
	svc := newTestService(repo, &recordingSender{})

	lock := &fakeLock{}
	svc.SetLockProvider(func(string) distlock.DistLock { return lock })

	if _, err := svc.Send(context.Background(), "u1", "c1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !lock.acquired || !lock.released {
		t.Errorf("lock lifecycle: acquired=%v released=%v", lock.acquired, lock.released)
	}
}

func TestSendPersonalizesContent(t *testing.T) {
	repo := newMemRepo()
	repo.campaigns["c1"] = draftCampaign("c1", "u1")
	repo.subscribers = []content.Subscriber{
		{ID: "s1", Email: "alice@example.com", FirstName: "Alice"},
	}
	sender := &recordingSender{}
	svc := newTestService(repo, sender)

	if _, err := svc.Send(context.Background(), "u1", "c1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("delivered %d messages", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.Subject != "Hello Alice" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "/track/open/") || !strings.Contains(msg.HTML, "/unsubscribe/") {
		t.Error("tracking markup missing from delivered HTML")
	}
}
