package custody

import (
	"context"
	"errors"
	"time"

	"pharmachain/audit"
	"pharmachain/repository/models"
)

// ErrDuplicatePending is returned by Ledger.CreateTransferRequest when the
// database's one-pending-request-per-batch constraint rejects the insert.
// Implementations translate their native unique-violation error into it.
var ErrDuplicatePending = errors.New("a pending transfer request already exists for this batch")

// ErrDuplicateBatchNumber is returned by Ledger.CreateBatch when the
// batch number is already registered.
var ErrDuplicateBatchNumber = errors.New("batch number already registered")

// Ledger is the durable store the engine coordinates against. Every public
// engine operation runs inside InTransaction so precondition reads, the
// batch/request writes and the audit rows commit or roll back together.
//
// Lookup methods return (nil, nil) when the row does not exist; the
// ForUpdate variants additionally lock the row for the transaction.
type Ledger interface {
	audit.Store

	InTransaction(ctx context.Context, fn func(tx Ledger) error) error

	CreateBatch(ctx context.Context, batch *models.Batch) error
	SaveBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, id uint) (*models.Batch, error)
	GetBatchForUpdate(ctx context.Context, id uint) (*models.Batch, error)
	ListBatchesByHolder(ctx context.Context, address string) ([]models.Batch, error)

	CreateTransferRequest(ctx context.Context, req *models.TransferRequest) error
	SaveTransferRequest(ctx context.Context, req *models.TransferRequest) error
	GetTransferRequest(ctx context.Context, id uint) (*models.TransferRequest, error)
	GetTransferRequestForUpdate(ctx context.Context, id uint) (*models.TransferRequest, error)
	HasPendingRequest(ctx context.Context, batchID uint) (bool, error)
	FindApprovedRequest(ctx context.Context, batchID uint, holder string) (*models.TransferRequest, error)
	ListTransferRequests(ctx context.Context, address, status string) ([]models.TransferRequest, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time) ([]models.TransferRequest, error)

	AppendMilestone(ctx context.Context, milestone *models.Milestone) error
}
