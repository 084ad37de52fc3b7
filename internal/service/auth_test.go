package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/service"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newAuthService(t *testing.T, passphrase string) *service.AuthService {
	t.Helper()
	hash := ""
	if passphrase != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("bcrypt: %v", err)
		}
		hash = string(h)
	}
	return service.NewAuthService(newLedgerService(newFakeKV()), "test-secret", time.Hour, hash, zap.NewNop())
}

func TestLogin_Success(t *testing.T) {
	svc := newAuthService(t, "segretissima")

	resp, err := svc.Login(&domain.LoginRequest{User: "emanuele", Passphrase: "segretissima"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("expected access token")
	}
	// Canonical spelling from settings, not the request.
	if resp.User != "Emanuele" {
		t.Errorf("expected canonical user 'Emanuele', got '%s'", resp.User)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expected expires_in 3600, got %d", resp.ExpiresIn)
	}

	claims, err := svc.ValidateAccessToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if claims.Sub != "Emanuele" {
		t.Errorf("expected sub 'Emanuele', got '%s'", claims.Sub)
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	svc := newAuthService(t, "segretissima")

	_, err := svc.Login(&domain.LoginRequest{User: "Intruso", Passphrase: "segretissima"})
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestLogin_WrongPassphrase(t *testing.T) {
	svc := newAuthService(t, "segretissima")

	_, err := svc.Login(&domain.LoginRequest{User: "Elena", Passphrase: "sbagliata"})
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestLogin_DisabledWithoutHash(t *testing.T) {
	svc := newAuthService(t, "")

	if svc.Enabled() {
		t.Fatal("expected auth disabled with empty hash")
	}
	if _, err := svc.Login(&domain.LoginRequest{User: "Elena", Passphrase: "x"}); err == nil {
		t.Fatal("expected error when auth disabled")
	}
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	svc := newAuthService(t, "segretissima")

	_, err := svc.ValidateAccessToken("not.a.token")
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
