// Package content turns raw template content plus a subscriber identity
// into final, trackable, personalized email content: merge-tag
// substitution, click-link wrapping, unsubscribe injection, and open-pixel
// injection.
package content

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/klickraai-ship-it/del-ai/internal/token"
)

// Subscriber is the per-recipient identity used for personalization.
type Subscriber struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// Content is the subject/body triple of an email before or after
// personalization.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Options carries the campaign/tenant identifiers a personalization run
// embeds into tracking tokens.
type Options struct {
	CampaignID   string
	UserID       string
	CampaignName string
}

var (
	anchorRe    = regexp.MustCompile(`(?i)<a\s+(?:[^>]*?\s+)?href="([^"]*)"([^>]*)>`)
	bodyCloseRe = regexp.MustCompile(`(?i)</body>`)
)

const unsubscribeFooter = `
      <div style="margin-top: 40px; padding-top: 20px; border-top: 1px solid #e0e0e0; text-align: center; font-size: 12px; color: #666;">
        <p>Don't want to receive these emails? <a href="%s" style="color: #4F46E5;">Unsubscribe</a></p>
      </div>
    `

// Transformer rewrites email content for a single recipient. It holds no
// per-send state and is safe for concurrent use.
type Transformer struct {
	codec          *token.Codec
	trackingDomain string
}

// NewTransformer creates a transformer minting links against the given
// tracking domain (scheme + host, no trailing slash).
func NewTransformer(codec *token.Codec, trackingDomain string) *Transformer {
	return &Transformer{
		codec:          codec,
		trackingDomain: strings.TrimRight(trackingDomain, "/"),
	}
}

// TrackingDomain returns the public base URL tracked links point at.
func (t *Transformer) TrackingDomain() string {
	return t.trackingDomain
}

// Personalize produces the final tracked rendering of an email for one
// subscriber. Steps run in a fixed order: merge tags first so generated
// links still get wrapped, then the web-version link, click wrapping,
// unsubscribe injection, and last the open pixel. The second return value
// is the set of destination URLs that were wrapped.
//
// Malformed HTML without a closing body tag degrades to appending the
// tracking artifacts at the end of the document. Text content passes
// through untouched.
func (t *Transformer) Personalize(c Content, sub Subscriber, opts Options) (Content, []string) {
	subject := t.ReplaceMergeTags(c.Subject, sub, opts.CampaignName)
	html := t.ReplaceMergeTags(c.HTML, sub, opts.CampaignName)

	if opts.UserID != "" {
		webTok := t.codec.EncodeWebVersion(opts.CampaignID, sub.ID, opts.UserID)
		html = strings.ReplaceAll(html, "{{web_version_url}}", t.trackingDomain+"/api/public/view/"+webTok)
	}

	html, links := t.WrapLinks(html, sub.ID, opts.CampaignID)
	html = t.InjectUnsubscribe(html, sub.ID, opts.UserID)
	html = insertBeforeBodyClose(html, t.trackingPixel(opts.CampaignID, sub.ID))

	return Content{Subject: subject, HTML: html, Text: c.Text}, links
}

// ReplaceMergeTags substitutes the per-recipient merge tags. Missing
// subscriber fields substitute as empty strings, and tags are consumed,
// so a second pass over already-substituted content is a no-op.
func (t *Transformer) ReplaceMergeTags(content string, sub Subscriber, campaignName string) string {
	fullName := strings.TrimSpace(sub.FirstName + " " + sub.LastName)
	return strings.NewReplacer(
		"{{firstName}}", sub.FirstName,
		"{{lastName}}", sub.LastName,
		"{{email}}", sub.Email,
		"{{fullName}}", fullName,
		"{{campaign_name}}", campaignName,
	).Replace(content)
}

// WrapLinks rewrites every anchor href to a click-tracking redirect.
// In-page anchors and mailto links are left alone. Returns the rewritten
// HTML and the original destination URLs in document order.
func (t *Transformer) WrapLinks(html, subscriberID, campaignID string) (string, []string) {
	var links []string
	wrapped := anchorRe.ReplaceAllStringFunc(html, func(tag string) string {
		m := anchorRe.FindStringSubmatch(tag)
		url, attrs := m[1], m[2]
		if strings.HasPrefix(url, "#") || strings.HasPrefix(url, "mailto:") {
			return tag
		}
		links = append(links, url)
		clickTok := t.codec.EncodeClick(campaignID, subscriberID, url)
		return fmt.Sprintf(`<a href="%s/track/click/%s"%s>`, t.trackingDomain, clickTok, attrs)
	})
	return wrapped, links
}

// InjectUnsubscribe substitutes any {{unsubscribe_url}} placeholder and
// appends the standard unsubscribe footer before the closing body tag.
// Runs after link wrapping so the unsubscribe link itself is never
// re-wrapped.
func (t *Transformer) InjectUnsubscribe(html, subscriberID, userID string) string {
	unsubTok := t.codec.EncodeUnsubscribe(subscriberID, userID)
	unsubURL := t.trackingDomain + "/unsubscribe/" + unsubTok
	html = strings.ReplaceAll(html, "{{unsubscribe_url}}", unsubURL)
	return insertBeforeBodyClose(html, fmt.Sprintf(unsubscribeFooter, unsubURL))
}

// UnsubscribeURL mints a fresh unsubscribe link for a subscriber, used by
// the hosted web version where the original token is not at hand.
func (t *Transformer) UnsubscribeURL(subscriberID, userID string) string {
	return t.trackingDomain + "/unsubscribe/" + t.codec.EncodeUnsubscribe(subscriberID, userID)
}

func (t *Transformer) trackingPixel(campaignID, subscriberID string) string {
	openTok := t.codec.EncodeOpen(campaignID, subscriberID)
	return fmt.Sprintf(`<img src="%s/track/open/%s" width="1" height="1" alt="" style="display:block" />`,
		t.trackingDomain, openTok)
}

// insertBeforeBodyClose places fragment just before the first closing body
// tag, or appends it when the document has none.
func insertBeforeBodyClose(html, fragment string) string {
	loc := bodyCloseRe.FindStringIndex(html)
	if loc == nil {
		return html + fragment
	}
	return html[:loc[0]] + fragment + html[loc[0]:]
}
