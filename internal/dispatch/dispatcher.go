// Package dispatch sends a campaign to its subscriber list in fixed-size
// batches. Each batch fans out concurrently and waits for every attempt to
// settle before the next batch starts, with a fixed pause between batches
// to stay under provider throughput limits.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/klickraai-ship-it/del-ai/internal/content"
	"github.com/klickraai-ship-it/del-ai/internal/pkg/logger"
)

const (
	// DefaultBatchSize is the number of recipients sent concurrently per batch.
	DefaultBatchSize = 100
	// DefaultBatchDelay is the pause between consecutive batches.
	DefaultBatchDelay = 1000 * time.Millisecond
)

// Message is a fully personalized email ready for a transport.
type Message struct {
	To       string
	From     string
	FromName string
	ReplyTo  string
	Subject  string
	HTML     string
	Text     string
}

// SendFunc delivers a single message. The dispatcher treats any returned
// error as a failed attempt and keeps going.
type SendFunc func(ctx context.Context, msg Message) error

// Progress is invoked after each successful delivery with the running
// sent count. Calls are serialized and sent is strictly increasing.
type Progress func(sent, total int)

// AttemptResult is invoked once per recipient after the attempt settles,
// success or failure. Used to reconcile per-recipient delivery status.
type AttemptResult func(sub content.Subscriber, err error)

// Job describes one campaign send.
type Job struct {
	CampaignID   string
	UserID       string
	CampaignName string
	Subscribers  []content.Subscriber
	Content      content.Content
	FromName     string
	FromEmail    string
	ReplyTo      string
}

// Result summarizes a completed (or canceled) run.
type Result struct {
	Sent   int
	Failed int
}

// Dispatcher batches campaign sends through a transformer and a SendFunc.
type Dispatcher struct {
	transformer *content.Transformer
	batchSize   int
	delay       time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewDispatcher builds a dispatcher. Non-positive batchSize or delay fall
// back to the defaults.
func NewDispatcher(tr *content.Transformer, batchSize int, delay time.Duration) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if delay <= 0 {
		delay = DefaultBatchDelay
	}
	return &Dispatcher{
		transformer: tr,
		batchSize:   batchSize,
		delay:       delay,
		sleep:       sleepCtx,
	}
}

// Run sends the job to every subscriber. It returns early with ctx.Err()
// if the context is canceled between batches; attempts already in flight
// still settle and are counted. onProgress and onResult may be nil.
func (d *Dispatcher) Run(ctx context.Context, job Job, send SendFunc, onProgress Progress, onResult AttemptResult) (Result, error) {
	total := len(job.Subscribers)
	logger.Info("campaign dispatch started",
		"campaign_id", job.CampaignID,
		"recipients", total,
		"batch_size", d.batchSize)

	opts := content.Options{
		CampaignID:   job.CampaignID,
		UserID:       job.UserID,
		CampaignName: job.CampaignName,
	}

	var (
		mu     sync.Mutex
		result Result
	)

	for start := 0; start < total; start += d.batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := start + d.batchSize
		if end > total {
			end = total
		}
		batch := job.Subscribers[start:end]

		var wg sync.WaitGroup
		for _, sub := range batch {
			wg.Add(1)
			go func(sub content.Subscriber) {
				defer wg.Done()

				personalized, _ := d.transformer.Personalize(job.Content, sub, opts)
				err := send(ctx, Message{
					To:       sub.Email,
					From:     job.FromEmail,
					FromName: job.FromName,
					ReplyTo:  job.ReplyTo,
					Subject:  personalized.Subject,
					HTML:     personalized.HTML,
					Text:     personalized.Text,
				})

				mu.Lock()
				if err != nil {
					result.Failed++
				} else {
					result.Sent++
					if onProgress != nil {
						onProgress(result.Sent, total)
					}
				}
				mu.Unlock()

				if err != nil {
					logger.Warn("delivery failed",
						"campaign_id", job.CampaignID,
						"recipient", sub.Email,
						"error", err.Error())
				}
				if onResult != nil {
					onResult(sub, err)
				}
			}(sub)
		}
		wg.Wait()

		if end < total {
			if err := d.sleep(ctx, d.delay); err != nil {
				return result, err
			}
		}
	}

	logger.Info("campaign dispatch finished",
		"campaign_id", job.CampaignID,
		"sent", result.Sent,
		"failed", result.Failed)
	return result, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
