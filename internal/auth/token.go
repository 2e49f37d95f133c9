// ABOUTME: HS256 JWT signing for outbound audit webhook requests
// ABOUTME: Lets the audit endpoint verify that a record came from this bot

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// DefaultIssuer is the "iss" claim placed on webhook tokens.
const DefaultIssuer = "vpsbot"

// WebhookSigner issues short-lived HS256 tokens bound to a single audit record.
type WebhookSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewWebhookSigner creates a signer. A zero ttl defaults to one minute.
func NewWebhookSigner(secret []byte, ttl time.Duration) *WebhookSigner {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &WebhookSigner{
		secret: secret,
		issuer: DefaultIssuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign returns a token whose "sub" is the record id and whose "dig" claim is the
// digest of the request body, so a captured token cannot be replayed with other content.
func (s *WebhookSigner) Sign(recordID, bodyDigest string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": recordID,
		"dig": bodyDigest,
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing webhook token: %w", err)
	}
	return signed, nil
}

// Verify validates a token issued by Sign and returns its record id and body digest.
func (s *WebhookSigner) Verify(tokenString string) (recordID, bodyDigest string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", ErrExpiredToken
		}
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	dig, ok := claims["dig"].(string)
	if !ok || dig == "" {
		return "", "", fmt.Errorf("%w: dig", ErrMissingClaim)
	}

	return sub, dig, nil
}
