package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func testCodec() *Codec {
	return NewCodec([]byte("test-secret-key-0123456789abcdef"))
}

func TestOpenRoundTrip(t *testing.T) {
	c := testCodec()
	tok := c.EncodeOpen("camp-1", "sub-1")

	claims := c.DecodeOpen(tok)
	if claims == nil {
		t.Fatal("DecodeOpen() = nil, want claims")
	}
	if claims.CampaignID != "camp-1" || claims.SubscriberID != "sub-1" {
		t.Errorf("DecodeOpen() = %+v, want camp-1/sub-1", claims)
	}
}

func TestClickRoundTrip(t *testing.T) {
	c := testCodec()
	urls := []string{
		"https://example.com/offers?id=42&src=email",
		"https://example.com/path:with:colons",
		"http://example.com/",
	}
	for _, url := range urls {
		t.Run(url, func(t *testing.T) {
			tok := c.EncodeClick("camp-1", "sub-1", url)
			claims := c.DecodeClick(tok)
			if claims == nil {
				t.Fatal("DecodeClick() = nil, want claims")
			}
			if claims.URL != url {
				t.Errorf("DecodeClick() URL = %q, want %q", claims.URL, url)
			}
			if claims.CampaignID != "camp-1" || claims.SubscriberID != "sub-1" {
				t.Errorf("DecodeClick() = %+v, want camp-1/sub-1", claims)
			}
		})
	}
}

func TestWebVersionRoundTrip(t *testing.T) {
	c := testCodec()
	tok := c.EncodeWebVersion("camp-1", "sub-1", "user-1")

	claims := c.DecodeWebVersion(tok)
	if claims == nil {
		t.Fatal("DecodeWebVersion() = nil, want claims")
	}
	if claims.CampaignID != "camp-1" || claims.SubscriberID != "sub-1" || claims.UserID != "user-1" {
		t.Errorf("DecodeWebVersion() = %+v", claims)
	}
}

func TestUnsubscribeDualFormat(t *testing.T) {
	c := testCodec()

	tenant := c.DecodeUnsubscribe(c.EncodeUnsubscribe("sub-1", "user-1"))
	if tenant == nil {
		t.Fatal("tenant-aware token did not decode")
	}
	if tenant.SubscriberID != "sub-1" || tenant.UserID != "user-1" {
		t.Errorf("tenant-aware claims = %+v", tenant)
	}

	legacy := c.DecodeUnsubscribe(c.EncodeUnsubscribe("sub-1", ""))
	if legacy == nil {
		t.Fatal("legacy token did not decode")
	}
	if legacy.SubscriberID != "sub-1" || legacy.UserID != "" {
		t.Errorf("legacy claims = %+v", legacy)
	}
}

// tamper flips one character in a chosen colon-separated segment of the
// decoded token and re-applies the base64url framing.
func tamper(t *testing.T, tok string, segment int) string {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	parts := strings.Split(string(raw), ":")
	if segment >= len(parts) {
		t.Fatalf("segment %d out of range (%d parts)", segment, len(parts))
	}
	seg := []byte(parts[segment])
	if seg[0] == 'x' {
		seg[0] = 'y'
	} else {
		seg[0] = 'x'
	}
	parts[segment] = string(seg)
	return base64.RawURLEncoding.EncodeToString([]byte(strings.Join(parts, ":")))
}

func TestTamperRejection(t *testing.T) {
	c := testCodec()

	tests := []struct {
		name     string
		tok      string
		segments int
		decode   func(string) bool
	}{
		{"open", c.EncodeOpen("camp-1", "sub-1"), 4, func(s string) bool { return c.DecodeOpen(s) != nil }},
		{"click", c.EncodeClick("camp-1", "sub-1", "https://example.com/x"), 6, func(s string) bool { return c.DecodeClick(s) != nil }},
		{"unsubscribe", c.EncodeUnsubscribe("sub-1", "user-1"), 4, func(s string) bool { return c.DecodeUnsubscribe(s) != nil }},
		{"web-version", c.EncodeWebVersion("camp-1", "sub-1", "user-1"), 5, func(s string) bool { return c.DecodeWebVersion(s) != nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.decode(tt.tok) {
				t.Fatal("untampered token did not decode")
			}
			for seg := 0; seg < tt.segments; seg++ {
				if tt.decode(tamper(t, tt.tok, seg)) {
					t.Errorf("token with tampered segment %d decoded", seg)
				}
			}
		})
	}
}

func TestExpiredTokensRejected(t *testing.T) {
	c := testCodec()
	c.now = func() time.Time { return time.Now().Add(-2 * TrackingTTL) }
	open := c.EncodeOpen("camp-1", "sub-1")
	click := c.EncodeClick("camp-1", "sub-1", "https://example.com")

	c.now = func() time.Time { return time.Now().Add(-2 * UnsubscribeTTL) }
	unsub := c.EncodeUnsubscribe("sub-1", "user-1")
	webv := c.EncodeWebVersion("camp-1", "sub-1", "user-1")

	c.now = time.Now
	if c.DecodeOpen(open) != nil {
		t.Error("expired open token decoded")
	}
	if c.DecodeClick(click) != nil {
		t.Error("expired click token decoded")
	}
	if c.DecodeUnsubscribe(unsub) != nil {
		t.Error("expired unsubscribe token decoded")
	}
	if c.DecodeWebVersion(webv) != nil {
		t.Error("expired web-version token decoded")
	}
}

func TestDecodeGarbage(t *testing.T) {
	c := testCodec()
	inputs := []string{
		"",
		"not base64!!",
		base64.RawURLEncoding.EncodeToString([]byte("no-colons-at-all")),
		base64.RawURLEncoding.EncodeToString([]byte("a:b")),
		base64.RawURLEncoding.EncodeToString([]byte("a:b:c:d:e:f:g:h")),
	}
	for _, in := range inputs {
		if c.DecodeOpen(in) != nil {
			t.Errorf("DecodeOpen(%q) decoded", in)
		}
		if c.DecodeClick(in) != nil {
			t.Errorf("DecodeClick(%q) decoded", in)
		}
		if c.DecodeUnsubscribe(in) != nil {
			t.Errorf("DecodeUnsubscribe(%q) decoded", in)
		}
		if c.DecodeWebVersion(in) != nil {
			t.Errorf("DecodeWebVersion(%q) decoded", in)
		}
	}
}

func TestDecodeWrongSecret(t *testing.T) {
	a := NewCodec([]byte("secret-a"))
	b := NewCodec([]byte("secret-b"))

	if b.DecodeOpen(a.EncodeOpen("camp-1", "sub-1")) != nil {
		t.Error("token signed with another key decoded")
	}
}

func TestClickURLHashMatchesDecodedURL(t *testing.T) {
	c := testCodec()
	url := "https://example.com/landing?utm_source=email"
	tok := c.EncodeClick("camp-1", "sub-1", url)

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 6 {
		t.Fatalf("click token arity = %d, want 6", len(parts))
	}
	if parts[2] != hashURL(url) {
		t.Errorf("embedded hash = %q, want %q", parts[2], hashURL(url))
	}

	// Swapping in a different URL with a stale signature must fail the
	// HMAC check regardless of the hash field.
	parts[4] = base64.RawURLEncoding.EncodeToString([]byte("https://evil.example.com"))
	forged := base64.RawURLEncoding.EncodeToString([]byte(strings.Join(parts, ":")))
	if c.DecodeClick(forged) != nil {
		t.Error("click token with swapped URL decoded")
	}
}
