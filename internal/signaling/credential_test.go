package signaling

import (
	"errors"
	"testing"
	"time"

	"callcoin-platform/internal/config"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer(config.SignalingConfig{Secret: "media-secret", Issuer: "callcoin", Audience: "sfu", TTL: time.Hour})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return iss
}

func TestIssueAndVerify(t *testing.T) {
	iss := newTestIssuer(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tok, exp, err := iss.Issue("u1", "call-room-1", ForCall("video"), now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := iss.Verify(tok, "call-room-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u1" || !claims.Privileges.Has(PrivJoin|PrivPublishVideo) {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := iss.Verify(tok, "other-room", now); !errors.Is(err, ErrRoomMismatch) {
		t.Fatalf("expected room mismatch, got %v", err)
	}
	if _, err := iss.Verify(tok, "call-room-1", now.Add(2*time.Hour)); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected expired credential to fail, got %v", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	iss := newTestIssuer(t)
	other, _ := NewIssuer(config.SignalingConfig{Secret: "another", Issuer: "callcoin", Audience: "sfu"})
	now := time.Now()

	tok, _, _ := other.Issue("u1", "r", PrivJoin, now)
	if _, err := iss.Verify(tok, "r", now); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
}

func TestVerifyRejectsForeignAudience(t *testing.T) {
	iss := newTestIssuer(t)
	other, err := NewIssuer(config.SignalingConfig{Secret: "media-secret", Issuer: "callcoin", Audience: "recorder", TTL: time.Hour})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	now := time.Now()

	tok, _, err := other.Issue("u1", "r", PrivJoin, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := iss.Verify(tok, "r", now); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected audience mismatch to be invalid, got %v", err)
	}
}

func TestAudioCallCannotPublishVideo(t *testing.T) {
	p := ForCall("audio")
	if !p.Has(PrivJoin | PrivPublishAudio) {
		t.Fatalf("audio call must join and publish audio")
	}
	if p.Has(PrivPublishVideo) {
		t.Fatalf("audio call must not publish video")
	}
}
