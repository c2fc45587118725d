package chaindev

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"pharmachain/chainclient"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewNode(db)
}

func TestMintAndTransfer(t *testing.T) {
	node := newTestNode(t)

	token, err := node.Mint("BATCH-1", "ipfs://meta", "0xabc")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if token.OwnerAddress != "0xabc" || token.MintTxHash == "" {
		t.Fatalf("token = %+v, want owner 0xabc with a mint hash", token)
	}

	moved, err := node.Transfer("BATCH-1", "0xabc", "0xdef")
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if moved.OwnerAddress != "0xdef" {
		t.Errorf("owner = %s, want 0xdef", moved.OwnerAddress)
	}
	if moved.Transfers != 1 {
		t.Errorf("transfers = %d, want 1", moved.Transfers)
	}
	if moved.LastTxHash == moved.MintTxHash {
		t.Error("transfer should produce a new tx hash")
	}

	stored, err := node.GetToken("BATCH-1")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if stored.OwnerAddress != "0xdef" {
		t.Errorf("stored owner = %s, want 0xdef", stored.OwnerAddress)
	}
}

func TestMintDuplicateToken(t *testing.T) {
	node := newTestNode(t)

	if _, err := node.Mint("BATCH-1", "", "0xabc"); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	_, err := node.Mint("BATCH-1", "", "0xdef")
	if !errors.Is(err, ErrTokenExists) {
		t.Fatalf("error = %v, want ErrTokenExists", err)
	}
}

func TestTransferOwnershipChecks(t *testing.T) {
	node := newTestNode(t)

	if _, err := node.Transfer("BATCH-404", "0xabc", "0xdef"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("error = %v, want ErrTokenNotFound", err)
	}

	if _, err := node.Mint("BATCH-1", "", "0xabc"); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if _, err := node.Transfer("BATCH-1", "0xwrong", "0xdef"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("error = %v, want ErrNotOwner", err)
	}
}

func TestNodeSpeaksChainClientProtocol(t *testing.T) {
	node := newTestNode(t)
	srv := httptest.NewServer(node.Handler())
	defer srv.Close()

	client := chainclient.NewHTTPClient(srv.URL, chainclient.WithRetry(1, time.Millisecond))
	defer client.Close()
	ctx := context.Background()

	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	mintHash, err := client.MintToken(ctx, "BATCH-1", "ipfs://meta", "0xabc")
	if err != nil {
		t.Fatalf("MintToken() error = %v", err)
	}
	if mintHash == "" {
		t.Fatal("mint hash should not be empty")
	}

	// A second mint of the same token is a rejection, not a retryable error.
	_, err = client.MintToken(ctx, "BATCH-1", "", "0xabc")
	var rejected *chainclient.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error = %v, want a RejectedError", err)
	}

	transferHash, err := client.TransferToken(ctx, "BATCH-1", "0xabc", "0xdef")
	if err != nil {
		t.Fatalf("TransferToken() error = %v", err)
	}
	if transferHash == mintHash {
		t.Error("transfer hash should differ from the mint hash")
	}

	// Transfer by a non-owner is rejected as well.
	if _, err := client.TransferToken(ctx, "BATCH-1", "0xabc", "0xother"); !errors.As(err, &rejected) {
		t.Fatalf("error = %v, want a RejectedError", err)
	}
}
