package storage

import (
	"context"
	"testing"
	"time"
)

type fakePresigner struct {
	keys   []string
	expiry time.Duration
}

func (f *fakePresigner) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	f.keys = append(f.keys, key)
	f.expiry = expiry
	return "https://bucket.local/" + key + "?sig=1", nil
}

func TestResolveURLPassesThroughAbsoluteURLs(t *testing.T) {
	signer := &fakePresigner{}
	got, err := ResolveURL(context.Background(), signer, "https://cdn.example.com/a.txt", 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://cdn.example.com/a.txt" || len(signer.keys) != 0 {
		t.Fatalf("expected passthrough, got %s (presigned %v)", got, signer.keys)
	}
}

func TestResolveURLPresignsKeys(t *testing.T) {
	signer := &fakePresigner{}
	got, err := ResolveURL(context.Background(), signer, "/converted/job-1.txt", 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://bucket.local/converted/job-1.txt?sig=1" {
		t.Fatalf("unexpected url %s", got)
	}
	if signer.expiry != DefaultPresignExpiry {
		t.Fatalf("expected default expiry, got %s", signer.expiry)
	}
}

func TestResolveURLRequiresSignerForKeys(t *testing.T) {
	if _, err := ResolveURL(context.Background(), nil, "converted/job-1.txt", time.Minute); err == nil {
		t.Fatalf("expected error without signer")
	}
	if _, err := ResolveURL(context.Background(), &fakePresigner{}, "  ", time.Minute); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
