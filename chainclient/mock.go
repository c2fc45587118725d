package chainclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Call records one command issued against the Mock.
type Call struct {
	Op          string
	TokenID     string
	FromAddress string
	ToAddress   string
	MetadataRef string
}

// Mock is an in-memory Client for tests and offline development. By
// default every command succeeds with a deterministic-looking hash;
// MintFunc/TransferFunc override the behavior.
type Mock struct {
	mu    sync.Mutex
	calls []Call

	MintFunc     func(ctx context.Context, tokenID, metadataRef, ownerAddress string) (string, error)
	TransferFunc func(ctx context.Context, tokenID, fromAddress, toAddress string) (string, error)
	HealthErr    error
}

// NewMock creates a Mock chain client.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) MintToken(ctx context.Context, tokenID, metadataRef, ownerAddress string) (string, error) {
	m.record(Call{Op: "mint", TokenID: tokenID, MetadataRef: metadataRef, ToAddress: ownerAddress})
	if m.MintFunc != nil {
		return m.MintFunc(ctx, tokenID, metadataRef, ownerAddress)
	}
	return mockTxHash("mint", tokenID), nil
}

func (m *Mock) TransferToken(ctx context.Context, tokenID, fromAddress, toAddress string) (string, error) {
	m.record(Call{Op: "transfer", TokenID: tokenID, FromAddress: fromAddress, ToAddress: toAddress})
	if m.TransferFunc != nil {
		return m.TransferFunc(ctx, tokenID, fromAddress, toAddress)
	}
	return mockTxHash("transfer", tokenID), nil
}

func (m *Mock) Health(ctx context.Context) error { return m.HealthErr }

func (m *Mock) Close() error { return nil }

// Calls returns a copy of the recorded commands.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) record(call Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func mockTxHash(op, tokenID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%s/%s", op, tokenID, uuid.New())))
	return "0x" + hex.EncodeToString(sum[:])
}

var _ Client = (*Mock)(nil) // Compile-time interface check
