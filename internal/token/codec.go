// Package token implements the signed tracking-token protocol embedded in
// outbound email: open pixels, click redirects, unsubscribe links, and
// hosted web-version links.
//
// A token is a base64url string wrapping colon-joined cleartext fields
// followed by a hex HMAC-SHA256 signature over those fields. Tokens carry
// their own expiry and are verified statelessly; no database lookup is
// needed to act on one. Decode methods return nil on ANY failure (bad
// encoding, wrong arity, signature mismatch, expiry) so callers cannot
// leak which check failed.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expiry windows per token kind. Emails are read and links clicked long
// after send; unsubscribe must stay honorable for the archival life of
// the message.
const (
	TrackingTTL    = 90 * 24 * time.Hour
	UnsubscribeTTL = 365 * 24 * time.Hour
	WebVersionTTL  = 365 * 24 * time.Hour
)

// urlHashLen is the number of hex chars of SHA-256(url) embedded in click
// tokens as an integrity check independent of the HMAC.
const urlHashLen = 16

// Codec mints and verifies tracking tokens with a fixed HMAC key.
// The zero value is not usable; construct with NewCodec.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a codec keyed by the given HMAC secret.
func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret, now: time.Now}
}

// OpenClaims is the payload of a decoded open-tracking token.
type OpenClaims struct {
	CampaignID   string
	SubscriberID string
}

// ClickClaims is the payload of a decoded click-tracking token.
type ClickClaims struct {
	CampaignID   string
	SubscriberID string
	URL          string
}

// UnsubscribeClaims is the payload of a decoded unsubscribe token.
// UserID is empty for legacy two-field tokens; tenant-scoped callers
// must reject those.
type UnsubscribeClaims struct {
	SubscriberID string
	UserID       string
}

// WebVersionClaims is the payload of a decoded web-version token.
type WebVersionClaims struct {
	CampaignID   string
	SubscriberID string
	UserID       string
}

// EncodeOpen mints an open-tracking token.
func (c *Codec) EncodeOpen(campaignID, subscriberID string) string {
	expiresAt := c.now().Add(TrackingTTL).UnixMilli()
	data := fmt.Sprintf("%s:%s:%d", campaignID, subscriberID, expiresAt)
	return c.seal(data)
}

// DecodeOpen verifies an open-tracking token. Returns nil if the token is
// invalid or expired.
func (c *Codec) DecodeOpen(tok string) *OpenClaims {
	fields := c.verify(tok, 4)
	if fields == nil || c.expired(fields[2]) {
		return nil
	}
	if fields[0] == "" || fields[1] == "" {
		return nil
	}
	return &OpenClaims{CampaignID: fields[0], SubscriberID: fields[1]}
}

// EncodeClick mints a click-tracking token carrying the destination URL.
// The URL is base64url-sub-encoded so the colon framing stays unambiguous,
// and a truncated SHA-256 of the URL is embedded as a second integrity
// check.
func (c *Codec) EncodeClick(campaignID, subscriberID, url string) string {
	expiresAt := c.now().Add(TrackingTTL).UnixMilli()
	urlB64 := base64.RawURLEncoding.EncodeToString([]byte(url))
	data := fmt.Sprintf("%s:%s:%s:%d:%s", campaignID, subscriberID, hashURL(url), expiresAt, urlB64)
	return c.seal(data)
}

// DecodeClick verifies a click-tracking token and recovers the destination
// URL. Returns nil if the token is invalid, expired, or the embedded URL
// hash does not match the recovered URL.
func (c *Codec) DecodeClick(tok string) *ClickClaims {
	fields := c.verify(tok, 6)
	if fields == nil || c.expired(fields[3]) {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(fields[4])
	if err != nil {
		return nil
	}
	url := string(raw)
	if hashURL(url) != fields[2] {
		return nil
	}
	if fields[0] == "" || fields[1] == "" || url == "" {
		return nil
	}
	return &ClickClaims{CampaignID: fields[0], SubscriberID: fields[1], URL: url}
}

// EncodeUnsubscribe mints an unsubscribe token. When userID is non-empty
// the tenant-aware four-field shape is produced; an empty userID yields
// the legacy three-field shape, kept only so older stored links remain
// representable.
func (c *Codec) EncodeUnsubscribe(subscriberID, userID string) string {
	expiresAt := c.now().Add(UnsubscribeTTL).UnixMilli()
	var data string
	if userID != "" {
		data = fmt.Sprintf("%s:%s:%d", subscriberID, userID, expiresAt)
	} else {
		data = fmt.Sprintf("%s:%d", subscriberID, expiresAt)
	}
	return c.seal(data)
}

// DecodeUnsubscribe verifies an unsubscribe token of either shape.
// Legacy tokens decode with an empty UserID.
func (c *Codec) DecodeUnsubscribe(tok string) *UnsubscribeClaims {
	fields := c.verify(tok, 3, 4)
	if fields == nil {
		return nil
	}
	claims := &UnsubscribeClaims{SubscriberID: fields[0]}
	expiry := fields[1]
	if len(fields) == 3 {
		claims.UserID = fields[1]
		expiry = fields[2]
	}
	if c.expired(expiry) || claims.SubscriberID == "" {
		return nil
	}
	return claims
}

// EncodeWebVersion mints a token for the hosted rendering of a campaign
// email, scoped to the owning tenant.
func (c *Codec) EncodeWebVersion(campaignID, subscriberID, userID string) string {
	expiresAt := c.now().Add(WebVersionTTL).UnixMilli()
	data := fmt.Sprintf("%s:%s:%s:%d", campaignID, subscriberID, userID, expiresAt)
	return c.seal(data)
}

// DecodeWebVersion verifies a web-version token.
func (c *Codec) DecodeWebVersion(tok string) *WebVersionClaims {
	fields := c.verify(tok, 5)
	if fields == nil || c.expired(fields[3]) {
		return nil
	}
	if fields[0] == "" || fields[1] == "" || fields[2] == "" {
		return nil
	}
	return &WebVersionClaims{CampaignID: fields[0], SubscriberID: fields[1], UserID: fields[2]}
}

// seal appends the HMAC signature and applies the base64url framing.
func (c *Codec) seal(data string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(data + ":" + c.sign(data)))
}

func (c *Codec) sign(data string) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// verify unwraps a token, checks its arity against the accepted counts
// (signature included), and checks the signature over the reconstructed
// field string. Returns the cleartext fields without the signature, or
// nil on any failure.
func (c *Codec) verify(tok string, arities ...int) []string {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return nil
	}
	parts := strings.Split(string(raw), ":")
	accepted := false
	for _, n := range arities {
		if len(parts) == n {
			accepted = true
			break
		}
	}
	if !accepted {
		return nil
	}
	fields := parts[:len(parts)-1]
	sig := parts[len(parts)-1]
	data := strings.Join(fields, ":")
	if !hmac.Equal([]byte(c.sign(data)), []byte(sig)) {
		return nil
	}
	return fields
}

// expired reports whether the epoch-millisecond field is in the past.
// Unparseable values count as expired.
func (c *Codec) expired(field string) bool {
	ms, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return true
	}
	return c.now().UnixMilli() > ms
}

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:urlHashLen]
}
