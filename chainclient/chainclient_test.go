package chainclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestMintToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chain/mint" {
			t.Errorf("path = %s, want /chain/mint", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["token_id"] != "BATCH-1" || body["owner_address"] != "0xabc" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"tx_hash": "0xdeadbeef", "status": "confirmed"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	defer client.Close()

	hash, err := client.MintToken(context.Background(), "BATCH-1", "ipfs://meta", "0xabc")
	if err != nil {
		t.Fatalf("MintToken() error = %v", err)
	}
	if hash != "0xdeadbeef" {
		t.Errorf("tx hash = %s, want 0xdeadbeef", hash)
	}
}

func TestTransferRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"tx_hash": "0xfeed", "status": "confirmed"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, WithRetry(3, time.Millisecond))
	defer client.Close()

	hash, err := client.TransferToken(context.Background(), "BATCH-1", "0xabc", "0xdef")
	if err != nil {
		t.Fatalf("TransferToken() error = %v", err)
	}
	if hash != "0xfeed" {
		t.Errorf("tx hash = %s, want 0xfeed", hash)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestTransferGivesUpAfterAttemptBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, WithRetry(3, time.Millisecond))
	defer client.Close()

	_, err := client.TransferToken(context.Background(), "BATCH-1", "0xabc", "0xdef")
	if err == nil {
		t.Fatal("expected an error after exhausting the attempt budget")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestRejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"status": "rejected", "error": "not the owner"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, WithRetry(3, time.Millisecond))
	defer client.Close()

	_, err := client.TransferToken(context.Background(), "BATCH-1", "0xabc", "0xdef")
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error = %v, want a RejectedError", err)
	}
	if rejected.Reason != "not the owner" {
		t.Errorf("reason = %q, want %q", rejected.Reason, "not the owner")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, rejections must not be retried", got)
	}
}

func TestSubmitHonorsContextDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, WithRetry(5, time.Hour))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.MintToken(ctx, "BATCH-1", "", "0xabc")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context deadline", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %s, backoff is not context aware", elapsed)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chain/status" {
			t.Errorf("path = %s, want /chain/status", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "active"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	defer client.Close()

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
}

func TestMockRecordsCalls(t *testing.T) {
	mock := NewMock()

	if _, err := mock.MintToken(context.Background(), "BATCH-1", "meta", "0xabc"); err != nil {
		t.Fatalf("MintToken() error = %v", err)
	}
	if _, err := mock.TransferToken(context.Background(), "BATCH-1", "0xabc", "0xdef"); err != nil {
		t.Fatalf("TransferToken() error = %v", err)
	}

	calls := mock.Calls()
	if len(calls) != 2 || calls[0].Op != "mint" || calls[1].Op != "transfer" {
		t.Fatalf("calls = %+v, want mint then transfer", calls)
	}
}
