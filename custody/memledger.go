package custody

import (
	"context"
	"sync"
	"time"

	"pharmachain/repository/models"
)

// MemoryLedger is an in-memory Ledger for tests and offline development.
// Transactions serialize on a mutex and writes inside a failed
// transaction are not rolled back; engine code performs all precondition
// checks before its first write, which keeps the double honest.
type MemoryLedger struct {
	txMu sync.Mutex // serializes transactions
	mu   sync.Mutex // guards state

	batches    map[uint]*models.Batch
	requests   map[uint]*models.TransferRequest
	milestones []models.Milestone
	auditLogs  []models.AuditLog
	history    []models.EntityHistory

	nextBatchID     uint
	nextRequestID   uint
	nextMilestoneID uint
	nextAuditID     uint
	nextHistoryID   uint
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		batches:  make(map[uint]*models.Batch),
		requests: make(map[uint]*models.TransferRequest),
	}
}

// InTransaction serializes transactions on a dedicated mutex so two
// concurrent custody operations observe each other's writes in order,
// mirroring the row locks the postgres ledger takes.
func (l *MemoryLedger) InTransaction(_ context.Context, fn func(tx Ledger) error) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()
	return fn(l)
}

func (l *MemoryLedger) lock() func() {
	l.mu.Lock()
	return l.mu.Unlock
}

func (l *MemoryLedger) CreateBatch(_ context.Context, batch *models.Batch) error {
	defer l.lock()()
	for _, existing := range l.batches {
		if existing.BatchNumber == batch.BatchNumber {
			return ErrDuplicateBatchNumber
		}
	}
	l.nextBatchID++
	batch.ID = l.nextBatchID
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}
	copied := *batch
	l.batches[batch.ID] = &copied
	return nil
}

func (l *MemoryLedger) SaveBatch(_ context.Context, batch *models.Batch) error {
	defer l.lock()()
	copied := *batch
	copied.UpdatedAt = time.Now()
	l.batches[batch.ID] = &copied
	return nil
}

func (l *MemoryLedger) GetBatch(_ context.Context, id uint) (*models.Batch, error) {
	defer l.lock()()
	batch, ok := l.batches[id]
	if !ok {
		return nil, nil
	}
	copied := *batch
	for _, m := range l.milestones {
		if m.BatchID == id {
			copied.Milestones = append(copied.Milestones, m)
		}
	}
	return &copied, nil
}

func (l *MemoryLedger) GetBatchForUpdate(ctx context.Context, id uint) (*models.Batch, error) {
	defer l.lock()()
	batch, ok := l.batches[id]
	if !ok {
		return nil, nil
	}
	copied := *batch
	return &copied, nil
}

func (l *MemoryLedger) ListBatchesByHolder(_ context.Context, address string) ([]models.Batch, error) {
	defer l.lock()()
	var out []models.Batch
	for _, batch := range l.batches {
		if batch.HolderAddress() == address {
			out = append(out, *batch)
		}
	}
	return out, nil
}

func (l *MemoryLedger) CreateTransferRequest(_ context.Context, req *models.TransferRequest) error {
	defer l.lock()()
	for _, existing := range l.requests {
		if existing.BatchID == req.BatchID && existing.Status == models.RequestStatusPending {
			return ErrDuplicatePending
		}
	}
	l.nextRequestID++
	req.ID = l.nextRequestID
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	copied := *req
	l.requests[req.ID] = &copied
	return nil
}

func (l *MemoryLedger) SaveTransferRequest(_ context.Context, req *models.TransferRequest) error {
	defer l.lock()()
	copied := *req
	copied.UpdatedAt = time.Now()
	l.requests[req.ID] = &copied
	return nil
}

func (l *MemoryLedger) GetTransferRequest(_ context.Context, id uint) (*models.TransferRequest, error) {
	defer l.lock()()
	req, ok := l.requests[id]
	if !ok {
		return nil, nil
	}
	copied := *req
	return &copied, nil
}

func (l *MemoryLedger) GetTransferRequestForUpdate(ctx context.Context, id uint) (*models.TransferRequest, error) {
	return l.GetTransferRequest(ctx, id)
}

func (l *MemoryLedger) HasPendingRequest(_ context.Context, batchID uint) (bool, error) {
	defer l.lock()()
	for _, req := range l.requests {
		if req.BatchID == batchID && req.Status == models.RequestStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (l *MemoryLedger) FindApprovedRequest(_ context.Context, batchID uint, holder string) (*models.TransferRequest, error) {
	defer l.lock()()
	for _, req := range l.requests {
		if req.BatchID == batchID && req.Status == models.RequestStatusApproved && req.TargetAddress() == holder {
			copied := *req
			return &copied, nil
		}
	}
	return nil, nil
}

func (l *MemoryLedger) ListTransferRequests(_ context.Context, address, status string) ([]models.TransferRequest, error) {
	defer l.lock()()
	var out []models.TransferRequest
	for _, req := range l.requests {
		if address != "" && req.RequestedBy != address && req.TargetAddress() != address {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, *req)
	}
	return out, nil
}

func (l *MemoryLedger) ListExpiredPending(_ context.Context, cutoff time.Time) ([]models.TransferRequest, error) {
	defer l.lock()()
	var out []models.TransferRequest
	for _, req := range l.requests {
		if req.Status == models.RequestStatusPending && cutoff.After(req.ExpiresAt) {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (l *MemoryLedger) AppendMilestone(_ context.Context, milestone *models.Milestone) error {
	defer l.lock()()
	l.nextMilestoneID++
	milestone.ID = l.nextMilestoneID
	l.milestones = append(l.milestones, *milestone)
	return nil
}

// Milestones returns a copy of the milestones for a batch, in append
// order.
func (l *MemoryLedger) Milestones(batchID uint) []models.Milestone {
	defer l.lock()()
	var out []models.Milestone
	for _, m := range l.milestones {
		if m.BatchID == batchID {
			out = append(out, m)
		}
	}
	return out
}

// audit.Store implementation

func (l *MemoryLedger) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	defer l.lock()()
	l.nextAuditID++
	entry.ID = l.nextAuditID
	l.auditLogs = append(l.auditLogs, *entry)
	return nil
}

func (l *MemoryLedger) CreateEntityHistory(_ context.Context, snapshot *models.EntityHistory) error {
	defer l.lock()()
	l.nextHistoryID++
	snapshot.ID = l.nextHistoryID
	l.history = append(l.history, *snapshot)
	return nil
}

func (l *MemoryLedger) MaxEntityVersion(_ context.Context, entityType string, entityID uint) (int64, error) {
	defer l.lock()()
	var max int64
	for _, h := range l.history {
		if h.EntityType == entityType && h.EntityID == entityID && h.Version > max {
			max = h.Version
		}
	}
	return max, nil
}

func (l *MemoryLedger) ListEntityHistory(_ context.Context, entityType string, entityID uint) ([]models.EntityHistory, error) {
	defer l.lock()()
	var out []models.EntityHistory
	for _, h := range l.history {
		if h.EntityType == entityType && h.EntityID == entityID {
			out = append(out, h)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Version < out[i].Version {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (l *MemoryLedger) ListFailedActions(_ context.Context, since time.Time) ([]models.AuditLog, error) {
	defer l.lock()()
	var out []models.AuditLog
	for _, entry := range l.auditLogs {
		if entry.Status == models.AuditStatusFailed && !entry.CreatedAt.Before(since) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// AuditLogs returns a copy of all audit rows, in append order.
func (l *MemoryLedger) AuditLogs() []models.AuditLog {
	defer l.lock()()
	out := make([]models.AuditLog, len(l.auditLogs))
	copy(out, l.auditLogs)
	return out
}

var _ Ledger = (*MemoryLedger)(nil) // Compile-time interface check
