package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthService guards mutating endpoints behind the shared household
// passphrase. There is no user registry: a login succeeds when the
// requested user matches one of the two configured display names and the
// passphrase matches the bcrypt hash from the environment. An empty hash
// disables auth entirely, which is the normal setup on the home network.
type AuthService struct {
	ledger         *LedgerService
	jwtSecret      []byte
	accessTTL      time.Duration
	passphraseHash string
	logger         *zap.Logger
}

func NewAuthService(ledger *LedgerService, jwtSecret string, accessTTL time.Duration, passphraseHash string, logger *zap.Logger) *AuthService {
	return &AuthService{
		ledger:         ledger,
		jwtSecret:      []byte(jwtSecret),
		accessTTL:      accessTTL,
		passphraseHash: passphraseHash,
		logger:         logger,
	}
}

// Enabled reports whether a passphrase hash is configured.
func (s *AuthService) Enabled() bool {
	return s.passphraseHash != ""
}

func (s *AuthService) Login(req *domain.LoginRequest) (*domain.LoginResponse, error) {
	if !s.Enabled() {
		return nil, &domain.ErrUnauthorized{Message: "autenticazione non configurata"}
	}

	settings := s.ledger.Load().Settings
	user := matchUser(req.User, settings)
	if user == "" {
		s.logger.Warn("login: unknown user", zap.String("user", req.User))
		return nil, &domain.ErrUnauthorized{Message: "Credenziali non valide"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.passphraseHash), []byte(req.Passphrase)); err != nil {
		s.logger.Warn("login: wrong passphrase", zap.String("user", user))
		return nil, &domain.ErrUnauthorized{Message: "Credenziali non valide"}
	}

	token, err := s.signAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.logger.Info("user logged in", zap.String("user", user))
	return &domain.LoginResponse{
		AccessToken: token,
		ExpiresIn:   int(s.accessTTL.Seconds()),
		User:        user,
	}, nil
}

// matchUser resolves the requested name against the two configured
// display names, case-insensitively, and returns the canonical spelling.
func matchUser(requested string, settings domain.Settings) string {
	requested = strings.TrimSpace(requested)
	for _, key := range []string{domain.SettingUser1, domain.SettingUser2} {
		if name := settings[key]; name != "" && strings.EqualFold(name, requested) {
			return name
		}
	}
	return ""
}

// JWTClaims represents the custom claims in access tokens.
type JWTClaims struct {
	Sub  string `json:"sub"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "Token non valido o scaduto"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "Token non valido"}
	}

	if claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "Tipo di token non valido"}
	}

	return claims, nil
}

func (s *AuthService) signAccessToken(user string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Sub:  user,
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    "finanze-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
