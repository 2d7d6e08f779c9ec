package identityclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/auth0/go-auth0/management"

	"mindcast/pkg/domain"
)

type fakeProvider struct {
	mu          sync.Mutex
	method      string
	path        string
	metadata    map[string]any
	patchStatus int
}

func (p *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/users/", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AppMetadata map[string]any `json:"app_metadata"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		p.method = r.Method
		p.path = r.URL.EscapedPath()
		p.metadata = body.AppMetadata
		status := p.patchStatus
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"statusCode":` + strconv.Itoa(status) + `,"error":"` + http.StatusText(status) + `","message":"request failed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"user_id":"auth0|u1"}`))
	})
	return mux
}

func newTestClient(t *testing.T, p *fakeProvider) *Client {
	t.Helper()
	srv := httptest.NewServer(p.handler())
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{Domain: srv.URL, HTTPClient: srv.Client(), insecure: true})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestUpdateAppMetadataPatchesUser(t *testing.T) {
	p := &fakeProvider{}
	c := newTestClient(t, p)

	err := c.UpdateAppMetadata(context.Background(), "auth0|u1", map[string]any{
		"stripe_customer_id":     "cus_1",
		"stripe_subscription_id": nil,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.method != http.MethodPatch {
		t.Fatalf("method = %s", p.method)
	}
	if p.path != "/api/v2/users/auth0%7Cu1" {
		t.Fatalf("path = %q", p.path)
	}
	if p.metadata["stripe_customer_id"] != "cus_1" {
		t.Fatalf("metadata = %v", p.metadata)
	}
	if v, ok := p.metadata["stripe_subscription_id"]; !ok || v != nil {
		t.Fatalf("cleared key must be sent as null, got %v (present=%v)", v, ok)
	}
}

func TestUpdateAppMetadataMissingUserIsNotFound(t *testing.T) {
	p := &fakeProvider{patchStatus: http.StatusNotFound}
	c := newTestClient(t, p)
	err := c.UpdateAppMetadata(context.Background(), "u1", map[string]any{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var apiErr management.Error
	if !errors.As(err, &apiErr) || apiErr.Status() != http.StatusNotFound {
		t.Fatalf("expected management error with 404, got %v", err)
	}
}

func TestUpdateAppMetadataServerErrorIsRetryable(t *testing.T) {
	p := &fakeProvider{patchStatus: http.StatusServiceUnavailable}
	c := newTestClient(t, p)
	err := c.UpdateAppMetadata(context.Background(), "u1", map[string]any{})
	if err == nil || errors.Is(err, domain.ErrNotFound) || !domain.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{Domain: "tenant.example.com"}); err == nil {
		t.Fatalf("expected error without client credentials")
	}
	if _, err := NewClient(Config{ClientID: "cid", ClientSecret: "secret"}); err == nil {
		t.Fatalf("expected error without domain")
	}
}
