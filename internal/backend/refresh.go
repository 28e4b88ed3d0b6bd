package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/auth"
	"github.com/Abhijagtp/ThinkThank/internal/metrics"
	"golang.org/x/sync/singleflight"
)

var ErrNoRefreshToken = errors.New("no refresh token")

// TokenRefresher exchanges the refresh token for a new access token and
// writes the result into the holder. Concurrent callers share one exchange.
type TokenRefresher struct {
	url       string
	http      *http.Client
	holder    *auth.Holder
	onRefresh func(auth.Credential)
	group     singleflight.Group
}

func NewTokenRefresher(baseURL, path string, holder *auth.Holder, onRefresh func(auth.Credential)) *TokenRefresher {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &TokenRefresher{
		url:       strings.TrimRight(baseURL, "/") + path,
		http:      &http.Client{Timeout: 15 * time.Second},
		holder:    holder,
		onRefresh: onRefresh,
	}
}

func (r *TokenRefresher) Refresh(ctx context.Context) (auth.Credential, error) {
	result, err, _ := r.group.Do("refresh", func() (any, error) {
		return r.exchange(ctx)
	})
	if err != nil {
		metrics.CredentialRefreshes.WithLabelValues("error").Inc()
		return auth.Credential{}, err
	}
	metrics.CredentialRefreshes.WithLabelValues("ok").Inc()
	return result.(auth.Credential), nil
}

func (r *TokenRefresher) exchange(ctx context.Context) (auth.Credential, error) {
	current := r.holder.Current()
	if current.Refresh == "" {
		return auth.Credential{}, ErrNoRefreshToken
	}
	body, err := json.Marshal(map[string]string{"refresh": current.Refresh})
	if err != nil {
		return auth.Credential{}, fmt.Errorf("encode refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return auth.Credential{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return auth.Credential{}, &NetworkError{Op: "refresh", Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return auth.Credential{}, &NetworkError{Op: "refresh", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return auth.Credential{}, &HTTPError{Op: "refresh", Status: resp.StatusCode, Body: raw}
	}
	var payload struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return auth.Credential{}, &ReconciliationError{Op: "refresh", Detail: err.Error()}
	}
	if payload.Access == "" {
		return auth.Credential{}, &ReconciliationError{Op: "refresh", Detail: "missing access token"}
	}
	next := auth.Credential{Access: payload.Access, Refresh: current.Refresh}
	// Rotating backends return a new refresh token too.
	if payload.Refresh != "" {
		next.Refresh = payload.Refresh
	}
	r.holder.Set(next)
	if r.onRefresh != nil {
		r.onRefresh(next)
	}
	log.Printf("backend: access credential refreshed")
	return next, nil
}
