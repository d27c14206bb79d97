// Package token signs and verifies compact, expiring bearer claims.
//
// A token is <base64url(json claim)>.<base64url(hmac-sha256(body))>, both
// halves unpadded. The same claim and secret always produce the same token.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// Actions distinguish the purpose a token was issued for.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionSession     = "session"
)

// Claim is the payload carried inside a token. Times are epoch milliseconds.
type Claim struct {
	Email     string `json:"email"`
	Action    string `json:"action,omitempty"`
	Name      string `json:"name,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// New builds a claim valid for ttl from now.
func New(email, action string, ttl time.Duration, now time.Time) Claim {
	return Claim{
		Email:     email,
		Action:    action,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}
}

// Expired reports whether the claim is past its expiry at now.
func (c Claim) Expired(now time.Time) bool {
	return now.UnixMilli() > c.ExpiresAt
}

var enc = base64.RawURLEncoding

// Sign serializes and signs the claim.
func Sign(c Claim, secret []byte) string {
	payload, err := json.Marshal(c)
	if err != nil {
		// Claim holds only strings and integers.
		panic("token: marshal claim: " + err.Error())
	}
	body := enc.EncodeToString(payload)
	return body + "." + enc.EncodeToString(mac(body, secret))
}

// Verify checks the signature and expiry of tok. Every failure, whatever the
// cause, yields ok == false and a zero Claim.
func Verify(tok string, secret []byte, now time.Time) (Claim, bool) {
	body, sig, found := strings.Cut(tok, ".")
	if !found || body == "" || sig == "" || strings.Contains(sig, ".") {
		return Claim{}, false
	}

	expected := enc.EncodeToString(mac(body, secret))
	if len(sig) != len(expected) {
		return Claim{}, false
	}
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return Claim{}, false
	}

	payload, err := enc.DecodeString(body)
	if err != nil {
		return Claim{}, false
	}

	// Pointer fields tell an absent field apart from a zero one.
	var raw struct {
		Email     *string `json:"email"`
		Action    string  `json:"action"`
		Name      string  `json:"name"`
		IssuedAt  int64   `json:"iat"`
		ExpiresAt *int64  `json:"exp"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Claim{}, false
	}
	if raw.Email == nil || raw.ExpiresAt == nil {
		return Claim{}, false
	}

	c := Claim{
		Email:     *raw.Email,
		Action:    raw.Action,
		Name:      raw.Name,
		IssuedAt:  raw.IssuedAt,
		ExpiresAt: *raw.ExpiresAt,
	}
	if c.Expired(now) {
		return Claim{}, false
	}
	return c, true
}

func mac(body string, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(body))
	return h.Sum(nil)
}
