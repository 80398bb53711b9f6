package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatekeepd/gatekeep/internal/model"
	"github.com/gatekeepd/gatekeep/internal/store"
	"github.com/gatekeepd/gatekeep/internal/token"
)

// AdminStore is the slice of the durable store the admin auth service uses.
type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error)
	UpdateAdminLastLogin(ctx context.Context, id int64) error
}

// AdminPrincipal identifies an authenticated operator.
type AdminPrincipal struct {
	AdminID int64
	Email   string
}

// AuthService authenticates operators for the system API. Game servers
// never hold JWTs; their credential is the API key / session token pair.
type AuthService struct {
	store     AdminStore
	jwtSecret []byte
	jwtExpiry time.Duration
	logger    *slog.Logger
}

// NewAuthService creates the operator auth service.
func NewAuthService(st AdminStore, jwtSecret string, jwtExpiry time.Duration, logger *slog.Logger) *AuthService {
	if jwtExpiry <= 0 {
		jwtExpiry = time.Hour
	}
	return &AuthService{
		store:     st,
		jwtSecret: []byte(jwtSecret),
		jwtExpiry: jwtExpiry,
		logger:    logger,
	}
}

// JWTExpiry returns the configured operator token lifetime.
func (s *AuthService) JWTExpiry() time.Duration {
	return s.jwtExpiry
}

// Login verifies an admin's credentials and issues a signed JWT. The
// last-login stamp is fire-and-forget.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *model.Admin, error) {
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		s.logger.Error("admin lookup failed", "error", err)
		return "", nil, ErrInternal
	}
	if !admin.IsActive {
		return "", nil, ErrInvalidCredentials
	}
	if token.HashKey(password) != admin.PasswordHash {
		return "", nil, ErrInvalidCredentials
	}

	signed, err := s.issueJWT(admin)
	if err != nil {
		s.logger.Error("jwt issuance failed", "error", err)
		return "", nil, ErrInternal
	}

	go func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.UpdateAdminLastLogin(tctx, admin.ID); err != nil {
			s.logger.Warn("admin last-login update failed", "admin_id", admin.ID, "error", err)
		}
	}()

	return signed, admin, nil
}

// ValidateJWT verifies an operator bearer token.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*AdminPrincipal, error) {
	claims := &jwtClaims{}

	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidCredentials
	}

	return &AdminPrincipal{
		AdminID: claims.AdminID,
		Email:   claims.Email,
	}, nil
}

func (s *AuthService) issueJWT(admin *model.Admin) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		AdminID: admin.ID,
		Email:   admin.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiry)),
			Issuer:    "gatekeep",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

type jwtClaims struct {
	AdminID int64  `json:"admin_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}
