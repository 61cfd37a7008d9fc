package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klickraai-ship-it/del-ai/internal/dispatch"
	"github.com/klickraai-ship-it/del-ai/internal/pkg/httpretry"
)

const resendDefaultBaseURL = "https://api.resend.com"

// ResendConfig configures the Resend HTTP API client.
type ResendConfig struct {
	APIKey  string
	BaseURL string
}

// Resend sends through the Resend REST API.
type Resend struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
}

// NewResend builds a Resend sender with a retrying HTTP client.
func NewResend(cfg ResendConfig) *Resend {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = resendDefaultBaseURL
	}
	return &Resend{
		apiKey:  cfg.APIKey,
		baseURL: base,
		client:  httpretry.New(nil, 3),
	}
}

// Name implements Sender.
func (r *Resend) Name() string { return "resend" }

type resendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type resendError struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Send implements Sender.
func (r *Resend) Send(ctx context.Context, msg dispatch.Message) error {
	payload := resendPayload{
		From:    formatFrom(msg.FromName, msg.From),
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("resend: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("resend: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("resend: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr resendError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("resend: %s (status %d)", apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("resend: status %d", resp.StatusCode)
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}
