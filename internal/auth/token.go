package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the access/refresh pair issued by the analysis backend.
type Credential struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Source hands out the credential for one operation. Components read it once
// per request and never write it back.
type Source interface {
	Current() Credential
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Holder is the mutable Source owned by the session bootstrap. Only the
// refresh collaborator calls its setters.
type Holder struct {
	mu   sync.RWMutex
	cred Credential
}

func NewHolder(cred Credential) *Holder {
	return &Holder{cred: cred}
}

func (h *Holder) Current() Credential {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cred
}

func (h *Holder) Set(cred Credential) {
	h.mu.Lock()
	h.cred = cred
	h.mu.Unlock()
}

func (h *Holder) SetAccess(access string) {
	h.mu.Lock()
	h.cred.Access = access
	h.mu.Unlock()
}

// ExpiresAt reads the exp claim of a backend access token. The signature is
// not checked: the backend is the only party that can verify it.
func ExpiresAt(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, ErrInvalidToken
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrInvalidToken
	}
	return exp.Time, nil
}

// Expired reports whether token is known to expire within skew of now.
// Opaque tokens are never considered expired; the backend decides.
func Expired(token string, now time.Time, skew time.Duration) bool {
	exp, err := ExpiresAt(token)
	if err != nil {
		return false
	}
	return !now.Add(skew).Before(exp)
}

// Subject returns the user id carried by a backend token, if any.
func Subject(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	if userID, ok := claims["user_id"]; ok {
		return fmt.Sprint(userID)
	}
	sub, _ := claims.GetSubject()
	return sub
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
