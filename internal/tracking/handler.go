// Package tracking serves the public engagement endpoints: the open
// pixel, click redirects, unsubscribe pages, and the hosted web version
// of a campaign. Every route is keyed by a signed token; invalid tokens
// degrade without revealing why.
package tracking

import (
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/klickraai-ship-it/del-ai/internal/content"
	"github.com/klickraai-ship-it/del-ai/internal/pkg/logger"
	"github.com/klickraai-ship-it/del-ai/internal/token"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler owns the public tracking routes.
type Handler struct {
	codec       *token.Codec
	transformer *content.Transformer
	templates   *content.TemplateService
	events      EventRecorder
	campaigns   CampaignViewer
	bots        *BotDetector
	homeURL     string
}

// NewHandler wires the tracking endpoints. homeURL is where broken click
// links redirect.
func NewHandler(codec *token.Codec, tr *content.Transformer, tmpl *content.TemplateService, events EventRecorder, campaigns CampaignViewer, homeURL string) *Handler {
	return &Handler{
		codec:       codec,
		transformer: tr,
		templates:   tmpl,
		events:      events,
		campaigns:   campaigns,
		bots:        NewBotDetector(),
		homeURL:     homeURL,
	}
}

// Routes returns the public router. These paths are what the content
// transformer embeds in outgoing emails.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/{token}", h.HandleOpen)
	r.Get("/track/click/{token}", h.HandleClick)
	r.Get("/unsubscribe/{token}", h.HandleUnsubscribe)
	r.Get("/api/public/unsubscribe/{token}", h.HandleUnsubscribe)
	r.Get("/api/public/view/{token}", h.HandleView)
	return r
}

// HandleOpen records an open and always serves the pixel, whatever the
// token looks like. Image proxies cache aggressively, so the response
// forbids caching.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	claims := h.codec.DecodeOpen(chi.URLParam(r, "token"))
	if claims != nil {
		evt := OpenEvent{
			CampaignID:   claims.CampaignID,
			SubscriberID: claims.SubscriberID,
			IPAddress:    realIP(r),
			UserAgent:    r.UserAgent(),
			DeviceType:   detectDevice(r.UserAgent()),
			Bot:          h.bots.IsBot(r.UserAgent()),
			EventAt:      time.Now().UTC(),
		}
		if err := h.events.RecordOpen(r.Context(), evt); err != nil {
			logger.Error("recording open failed",
				"campaign_id", claims.CampaignID, "error", err.Error())
		}
	}
	h.servePixel(w)
}

// HandleClick records the click and redirects to the wrapped URL. Any
// token failure redirects to the home page instead of erroring, so a
// stale link still lands somewhere sensible.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	claims := h.codec.DecodeClick(chi.URLParam(r, "token"))
	if claims == nil {
		http.Redirect(w, r, h.homeURL, http.StatusFound)
		return
	}

	evt := ClickEvent{
		CampaignID:   claims.CampaignID,
		SubscriberID: claims.SubscriberID,
		URL:          claims.URL,
		IPAddress:    realIP(r),
		UserAgent:    r.UserAgent(),
		DeviceType:   detectDevice(r.UserAgent()),
		Bot:          h.bots.IsBot(r.UserAgent()),
		EventAt:      time.Now().UTC(),
	}
	if err := h.events.RecordClick(r.Context(), evt); err != nil {
		logger.Error("recording click failed",
			"campaign_id", claims.CampaignID, "error", err.Error())
	}

	http.Redirect(w, r, claims.URL, http.StatusFound)
}

// HandleUnsubscribe processes one-click unsubscribes. Tokens without an
// account scope are refused: they cannot prove which account's list the
// subscriber should come off.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	claims := h.codec.DecodeUnsubscribe(chi.URLParam(r, "token"))
	if claims == nil || claims.UserID == "" {
		h.serveErrorPage(w, http.StatusBadRequest,
			"This unsubscribe link is invalid or has expired.")
		return
	}

	if err := h.events.Unsubscribe(r.Context(), claims.SubscriberID, claims.UserID); err != nil {
		logger.Error("unsubscribe failed",
			"subscriber_id", claims.SubscriberID, "error", err.Error())
		h.serveErrorPage(w, http.StatusInternalServerError,
			"Something went wrong. Please try again later.")
		return
	}

	logger.Info("subscriber unsubscribed", "subscriber_id", claims.SubscriberID)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
	<h1>You have been unsubscribed</h1>
	<p>You will no longer receive emails from this sender.</p>
</body></html>`)
}

// HandleView serves the hosted web version of a campaign email.
func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	claims := h.codec.DecodeWebVersion(chi.URLParam(r, "token"))
	if claims == nil {
		h.serveErrorPage(w, http.StatusNotFound,
			"This link is invalid or has expired.")
		return
	}

	view, err := h.campaigns.CampaignForView(r.Context(), claims.CampaignID, claims.SubscriberID, claims.UserID)
	if err != nil {
		logger.Error("loading campaign for web view failed",
			"campaign_id", claims.CampaignID, "error", err.Error())
		h.serveErrorPage(w, http.StatusNotFound,
			"This campaign is no longer available.")
		return
	}

	sub := content.Subscriber{
		ID:        view.SubscriberID,
		Email:     view.Email,
		FirstName: view.FirstName,
		LastName:  view.LastName,
	}

	// Plain placeholders go first: the Liquid engine renders unknown
	// variables as empty, so it must see the template last.
	body := h.transformer.ReplaceMergeTags(view.HTML, sub, view.Name)
	body = strings.ReplaceAll(body, "{{unsubscribe_url}}",
		h.transformer.UnsubscribeURL(view.SubscriberID, claims.UserID))
	// The web version is itself the destination.
	body = strings.ReplaceAll(body, "{{web_version_url}}", "")
	// No cache key: the body already carries per-subscriber replacements.
	if rendered, err := h.templates.Render("", body, content.SubscriberBinding(sub)); err == nil {
		body = rendered
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func (h *Handler) serveErrorPage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
	<h1>Oops</h1>
	<p>%s</p>
</body></html>`, html.EscapeString(msg))
}
