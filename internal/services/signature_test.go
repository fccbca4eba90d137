package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func signPlain(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func signTimestamped(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestVerifier() *SignatureVerifier {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewSignatureVerifier(logger, 5*time.Minute)
}

func TestVerifyPlain_Valid(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{"type":"ticket.created"}`)

	if err := v.VerifyPlain(body, signPlain("s3cret", body), "s3cret", "freshdesk"); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyPlain_Sha256Prefix(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{"action":"opened"}`)

	sig := "sha256=" + signPlain("hub-secret", body)
	if err := v.VerifyPlain(body, sig, "hub-secret", "github"); err != nil {
		t.Fatalf("expected prefixed signature to verify, got %v", err)
	}
}

func TestVerifyPlain_Invalid(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{}`)

	err := v.VerifyPlain(body, signPlain("wrong", body), "right", "jira")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyPlain_TamperedBody(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{"priority":"high"}`)
	sig := signPlain("secret", body)

	err := v.VerifyPlain([]byte(`{"priority":"low"}`), sig, "secret", "freshdesk")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for tampered body, got %v", err)
	}
}

func TestVerifyPlain_Missing(t *testing.T) {
	v := newTestVerifier()

	err := v.VerifyPlain([]byte(`{}`), "", "secret", "jira")
	if !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestVerifyPlain_NoSecretConfigured(t *testing.T) {
	v := newTestVerifier()

	// 未配置密钥时放行（记警告），任意签名都接受
	if err := v.VerifyPlain([]byte(`{}`), "whatever", "", "freshdesk"); err != nil {
		t.Fatalf("expected nil with empty secret, got %v", err)
	}
}

func TestVerifyTimestamped_Valid(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{"type":"ticket.created"}`)
	now := time.Now()
	ts := now.UTC().Format(time.RFC3339)

	sig := signTimestamped("z-secret", ts, body)
	if err := v.VerifyTimestamped(body, sig, ts, "z-secret", "zendesk", now); err != nil {
		t.Fatalf("expected valid timestamped signature, got %v", err)
	}
}

func TestVerifyTimestamped_UnixSeconds(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{}`)
	now := time.Now()
	ts := fmt.Sprintf("%d", now.Unix())

	sig := signTimestamped("z-secret", ts, body)
	if err := v.VerifyTimestamped(body, sig, ts, "z-secret", "zendesk", now); err != nil {
		t.Fatalf("expected unix timestamp to verify, got %v", err)
	}
}

func TestVerifyTimestamped_Stale(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{}`)
	now := time.Now()
	ts := now.Add(-10 * time.Minute).UTC().Format(time.RFC3339)

	sig := signTimestamped("z-secret", ts, body)
	err := v.VerifyTimestamped(body, sig, ts, "z-secret", "zendesk", now)
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestVerifyTimestamped_FutureSkew(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{}`)
	now := time.Now()
	ts := now.Add(10 * time.Minute).UTC().Format(time.RFC3339)

	sig := signTimestamped("z-secret", ts, body)
	err := v.VerifyTimestamped(body, sig, ts, "z-secret", "zendesk", now)
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp for future timestamp, got %v", err)
	}
}

func TestVerifyTimestamped_MissingTimestamp(t *testing.T) {
	v := newTestVerifier()

	err := v.VerifyTimestamped([]byte(`{}`), "abc", "", "z-secret", "zendesk", time.Now())
	if !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestVerifyTimestamped_GarbageTimestamp(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{}`)

	sig := signTimestamped("z-secret", "not-a-time", body)
	err := v.VerifyTimestamped(body, sig, "not-a-time", "z-secret", "zendesk", time.Now())
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp for unparseable timestamp, got %v", err)
	}
}
