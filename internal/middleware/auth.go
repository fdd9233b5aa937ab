package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/gramorx/studybuddy-server/internal/errors"
	"github.com/gramorx/studybuddy-server/internal/model"
)

type contextKey string

const PrincipalContextKey contextKey = "principal"

// Claims carries the caller's subscription tier next to the standard
// registered claims. Subject holds the user id.
type Claims struct {
	Plan string `json:"plan"`
	jwt.RegisteredClaims
}

func GetPrincipal(ctx context.Context) *model.Principal {
	if principal, ok := ctx.Value(PrincipalContextKey).(*model.Principal); ok {
		return principal
	}
	return nil
}

func WithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, principal)
}

type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// IssueToken signs an HS256 token for userID on plan.
func (m *AuthMiddleware) IssueToken(userID string, plan model.PlanID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Plan: string(plan),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		principal, err := m.authenticate(token)
		if err != nil {
			log.Warn().Err(err).Msg("auth middleware: rejected token")
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func (m *AuthMiddleware) authenticate(raw string) (*model.Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.InvalidToken("Token has expired").WithCause(err)
		}
		return nil, apperrors.InvalidToken("Invalid token").WithCause(err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperrors.InvalidToken("Invalid subject").WithCause(err)
	}

	return &model.Principal{
		UserID: userID.String(),
		Plan:   model.ParsePlanID(claims.Plan),
	}, nil
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
