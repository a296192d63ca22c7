// Package auth verifies the bearer tokens issued by the account service and
// resolves them to an active user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

var (
	ErrNoToken      = errors.New("no token provided")
	ErrInvalidToken = errors.New("token failed verification")
	ErrTokenExpired = errors.New("token expired")
	ErrInactiveUser = errors.New("user not found or inactive")
)

// Claims carries the user id under "id", the shape the account service signs.
type Claims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   types.Role
}

// Verifier checks HS256 tokens and loads the user they name.
type Verifier struct {
	secret []byte
	issuer string
	users  interfaces.UserStore
}

// NewVerifier creates a verifier. When issuer is set, tokens must carry it.
func NewVerifier(secret, issuer string, users interfaces.UserStore) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("JWT secret is required but was empty")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, users: users}, nil
}

// Issue signs a token for userID. The account service owns issuance in production;
// this exists for tests and local tooling.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		ID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates the signature and time claims and returns the user id.
func (v *Verifier) ParseToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", ErrTokenExpired
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	userID := claims.ID
	if userID == "" {
		userID = claims.Subject
	}
	if !types.IsValidUserID(userID) {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Authenticate verifies a token and resolves the active user it names. The role
// always comes from the store, never from the token.
func (v *Verifier) Authenticate(ctx context.Context, tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}
	userID, err := v.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}

	user, err := v.users.GetUser(ctx, userID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrInactiveUser
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return &Principal{UserID: user.ID, Role: user.Role}, nil
}

// TokenFromRequest reads "Authorization: Bearer <token>", falling back to the
// token query parameter that browser websocket clients use.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// AuthenticateRequest combines TokenFromRequest and Authenticate.
func (v *Verifier) AuthenticateRequest(r *http.Request) (*Principal, error) {
	return v.Authenticate(r.Context(), TokenFromRequest(r))
}

// Message returns the client-facing text for an authentication failure.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrNoToken):
		return "Not authorized, no token"
	case errors.Is(err, ErrTokenExpired):
		return "Token expired, please log in again"
	case errors.Is(err, ErrInactiveUser):
		return "Not authorized, user not found or inactive"
	default:
		return "Not authorized, token failed"
	}
}

type contextKey struct{}

// WithPrincipal attaches the authenticated caller to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the caller attached by WithPrincipal.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok && p != nil
}
