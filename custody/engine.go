// Package custody enforces the legal transitions of a batch's custody
// and of a transfer request's lifecycle, coordinating the ledger, the
// chain adapter and the audit recorder.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pharmachain/audit"
	"pharmachain/chainclient"
	"pharmachain/notifier"
	"pharmachain/repository/models"
)

// Entity types recorded in the audit trail.
const (
	EntityBatch           = "Batch"
	EntityTransferRequest = "TransferRequest"
)

// Actions recorded in the audit trail.
const (
	ActionRegister       = "register"
	ActionCreate         = "create"
	ActionApprove        = "approve"
	ActionReject         = "reject"
	ActionCancel         = "cancel"
	ActionTransfer       = "transfer_custody"
	ActionConfirmReceipt = "confirm_receipt"
	ActionExpire         = "expire"
)

// SystemActor marks mutations performed by operational tooling rather
// than a participant.
const SystemActor = "system"

// Caller is the authenticated participant invoking an operation. It is
// passed explicitly into every call; the engine keeps no ambient session
// state.
type Caller struct {
	Address string
	Role    string
}

// Decision resolves a pending transfer request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// RegisterBatchInput describes a new batch to register and mint.
type RegisterBatchInput struct {
	BatchNumber     string
	DrugName        string
	Quantity        int
	Price           float64
	ManufactureDate time.Time
	ExpiryDate      time.Time
	ImageURL        string
	MetadataURL     string
	IpfsHash        string
	Location        string
}

// CreateTransferInput describes a proposed custody handoff.
type CreateTransferInput struct {
	BatchID   uint
	ToAddress string
	Leg       string
}

// ResolveResult carries the post-resolution state of the request and,
// for approvals, the updated batch.
type ResolveResult struct {
	Request *models.TransferRequest
	Batch   *models.Batch
}

// Options tunes the engine.
type Options struct {
	// RequestTTL bounds how long a transfer request stays resolvable.
	RequestTTL time.Duration
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Engine is the custody state machine. It holds no durable state of its
// own; all coordination is pushed to the ledger's transactional
// guarantees.
type Engine struct {
	ledger   Ledger
	chain    chainclient.Client
	recorder *audit.Recorder
	events   notifier.Dispatcher

	requestTTL time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// DefaultRequestTTL is how long a transfer request stays resolvable
// unless configured otherwise.
const DefaultRequestTTL = 7 * 24 * time.Hour

// NewEngine wires the custody state machine.
func NewEngine(ledger Ledger, chain chainclient.Client, recorder *audit.Recorder, events notifier.Dispatcher, opts Options) *Engine {
	e := &Engine{
		ledger:     ledger,
		chain:      chain,
		recorder:   recorder,
		events:     events,
		requestTTL: opts.RequestTTL,
		now:        opts.Clock,
		log:        opts.Logger,
	}
	if e.requestTTL <= 0 {
		e.requestTTL = DefaultRequestTTL
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// RegisterBatch creates a batch under the manufacturer's custody and
// mints its on-chain token. A mint failure is recorded on the batch and
// surfaced as a chain error; the ledger record stands either way.
func (e *Engine) RegisterBatch(ctx context.Context, caller Caller, input RegisterBatchInput) (*models.Batch, error) {
	if caller.Role != models.RoleManufacturer {
		return nil, e.fail(ctx, EntityBatch, 0, ActionRegister, caller.Address,
			unauthorizedf("only a manufacturer may register a batch"))
	}
	if err := validateRegisterInput(input); err != nil {
		return nil, e.fail(ctx, EntityBatch, 0, ActionRegister, caller.Address, err)
	}

	batch := &models.Batch{
		BatchNumber:         input.BatchNumber,
		DrugName:            input.DrugName,
		Quantity:            input.Quantity,
		Price:               input.Price,
		ManufactureDate:     input.ManufactureDate,
		ExpiryDate:          input.ExpiryDate,
		ManufacturerAddress: caller.Address,
		Status:              models.BatchStatusCreated,
		ImageURL:            input.ImageURL,
		MetadataURL:         input.MetadataURL,
		IpfsHash:            input.IpfsHash,
		BlockchainStatus:    models.ChainStatusPending,
	}

	err := e.ledger.InTransaction(ctx, func(tx Ledger) error {
		if err := tx.CreateBatch(ctx, batch); err != nil {
			if errors.Is(err, ErrDuplicateBatchNumber) {
				return conflictf("batch number %q already registered", input.BatchNumber)
			}
			return persistenceErr(err, "create batch")
		}
		milestone := &models.Milestone{
			BatchID:      batch.ID,
			Type:         models.MilestoneRegistered,
			Description:  fmt.Sprintf("Batch %s registered by manufacturer", batch.BatchNumber),
			Location:     input.Location,
			ActorAddress: caller.Address,
			Timestamp:    e.now(),
		}
		if err := tx.AppendMilestone(ctx, milestone); err != nil {
			return persistenceErr(err, "append milestone")
		}
		if err := e.recorder.RecordMutation(ctx, tx, EntityBatch, batch.ID, ActionRegister, caller.Address, nil, batch, ""); err != nil {
			return persistenceErr(err, "record audit")
		}
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, EntityBatch, 0, ActionRegister, caller.Address, err)
	}

	// The mint is a remote side effect outside the transaction; its
	// outcome is mirrored onto the batch afterwards.
	metadataRef := batch.MetadataURL
	if metadataRef == "" {
		metadataRef = batch.IpfsHash
	}
	txHash, mintErr := e.chain.MintToken(ctx, batch.BatchNumber, metadataRef, caller.Address)

	err = e.ledger.InTransaction(ctx, func(tx Ledger) error {
		current, err := tx.GetBatchForUpdate(ctx, batch.ID)
		if err != nil {
			return persistenceErr(err, "reload batch %d", batch.ID)
		}
		if current == nil {
			return persistenceErr(nil, "batch %d disappeared after create", batch.ID)
		}
		old := *current
		note := ""
		if mintErr != nil {
			current.BlockchainStatus = models.ChainStatusFailed
			note = "on-chain mint failed: " + mintErr.Error()
		} else {
			current.BlockchainTxHash = &txHash
			current.BlockchainStatus = models.ChainStatusConfirmed
			current.Status = models.BatchStatusActive
		}
		if err := tx.SaveBatch(ctx, current); err != nil {
			return persistenceErr(err, "save batch %d", batch.ID)
		}
		if err := e.recorder.RecordMutation(ctx, tx, EntityBatch, current.ID, ActionRegister, caller.Address, old, current, note); err != nil {
			return persistenceErr(err, "record audit")
		}
		batch = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.events.Enqueue(notifier.NewEvent(notifier.EventBatchRegistered, caller.Address, batch.ID, 0,
		fmt.Sprintf("Batch %s registered", batch.BatchNumber)))

	if mintErr != nil {
		return batch, chainErr(mintErr, "mint for batch %s failed; batch registered, chain mirror needs reconciliation", batch.BatchNumber)
	}
	return batch, nil
}

// CreateTransferRequest proposes a custody handoff along one leg. At most
// one pending request may exist per batch; the ledger's partial unique
// index backs the in-transaction check.
func (e *Engine) CreateTransferRequest(ctx context.Context, caller Caller, input CreateTransferInput) (*models.TransferRequest, error) {
	if input.ToAddress == "" {
		return nil, e.fail(ctx, EntityBatch, input.BatchID, ActionCreate, caller.Address,
			invalidStatef("transfer target address is required"))
	}

	var created *models.TransferRequest
	err := e.ledger.InTransaction(ctx, func(tx Ledger) error {
		batch, err := tx.GetBatchForUpdate(ctx, input.BatchID)
		if err != nil {
			return persistenceErr(err, "load batch %d", input.BatchID)
		}
		if batch == nil {
			return notFoundf("batch %d not found", input.BatchID)
		}
		if err := validateLeg(batch, caller.Address, input.Leg); err != nil {
			return err
		}

		pending, err := tx.HasPendingRequest(ctx, batch.ID)
		if err != nil {
			return persistenceErr(err, "check pending requests for batch %d", batch.ID)
		}
		if pending {
			return conflictf("batch %d already has a pending transfer request", batch.ID)
		}

		now := e.now()
		req := &models.TransferRequest{
			BatchID:          batch.ID,
			Leg:              input.Leg,
			RequestedBy:      caller.Address,
			Status:           models.RequestStatusPending,
			BlockchainStatus: models.ChainStatusPending,
			ExpiresAt:        now.Add(e.requestTTL),
			CreatedAt:        now,
		}
		switch input.Leg {
		case models.LegManufacturerToDistributor:
			req.DistributorAddress = &input.ToAddress
		case models.LegDistributorToPharmacy:
			req.PharmacyAddress = &input.ToAddress
		}

		if err := tx.CreateTransferRequest(ctx, req); err != nil {
			if errors.Is(err, ErrDuplicatePending) {
				return conflictf("batch %d already has a pending transfer request", batch.ID)
			}
			return persistenceErr(err, "create transfer request")
		}
		if err := e.recorder.RecordMutation(ctx, tx, EntityTransferRequest, req.ID, ActionCreate, caller.Address, nil, req, ""); err != nil {
			return persistenceErr(err, "record audit")
		}
		created = req
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, EntityBatch, input.BatchID, ActionCreate, caller.Address, err)
	}

	e.events.Enqueue(notifier.NewEvent(notifier.EventRequestCreated, input.ToAddress, created.BatchID, created.ID,
		fmt.Sprintf("Custody transfer of batch %d awaiting your approval", created.BatchID)))
	return created, nil
}

// ResolveTransferRequest approves or rejects a pending request. On
// approval the on-chain transfer is attempted; if the chain fails after
// retries, the ledger transition still commits with the failure recorded
// and a chain error is returned alongside the result.
func (e *Engine) ResolveTransferRequest(ctx context.Context, caller Caller, requestID uint, decision Decision) (*ResolveResult, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, invalidStatef("decision must be %q or %q", DecisionApprove, DecisionReject)
	}

	var result ResolveResult
	var chainFailure error
	err := e.ledger.InTransaction(ctx, func(tx Ledger) error {
		req, err := tx.GetTransferRequestForUpdate(ctx, requestID)
		if err != nil {
			return persistenceErr(err, "load transfer request %d", requestID)
		}
		if req == nil {
			return notFoundf("transfer request %d not found", requestID)
		}
		if req.Status != models.RequestStatusPending {
			return invalidStatef("transfer request %d is already %s", requestID, req.Status)
		}
		now := e.now()
		if now.After(req.ExpiresAt) {
			return invalidStatef("transfer request %d expired at %s", requestID, req.ExpiresAt.UTC().Format(time.RFC3339))
		}
		if caller.Address == "" || caller.Address != req.TargetAddress() {
			return unauthorizedf("address %s is not the counterparty for transfer request %d", caller.Address, requestID)
		}

		batch, err := tx.GetBatchForUpdate(ctx, req.BatchID)
		if err != nil {
			return persistenceErr(err, "load batch %d", req.BatchID)
		}
		if batch == nil {
			return notFoundf("batch %d not found", req.BatchID)
		}

		oldReq := *req
		oldBatch := *batch
		req.ResolvedAt = &now

		if decision == DecisionReject {
			req.Status = models.RequestStatusRejected
			req.BlockchainStatus = models.ChainStatusFailed
			if err := tx.SaveTransferRequest(ctx, req); err != nil {
				return persistenceErr(err, "save transfer request %d", requestID)
			}
			if err := e.recorder.RecordMutation(ctx, tx, EntityTransferRequest, req.ID, ActionReject, caller.Address, oldReq, req, ""); err != nil {
				return persistenceErr(err, "record audit")
			}
			result = ResolveResult{Request: req, Batch: batch}
			return nil
		}

		// Re-verify the batch still permits this leg inside the lock.
		if err := validateLeg(batch, req.RequestedBy, req.Leg); err != nil {
			return err
		}

		txHash, cerr := e.chain.TransferToken(ctx, batch.BatchNumber, req.RequestedBy, caller.Address)

		req.Status = models.RequestStatusApproved
		if cerr != nil {
			req.BlockchainStatus = models.ChainStatusFailed
			chainFailure = cerr
		} else {
			req.BlockchainTxHash = &txHash
			req.BlockchainStatus = models.ChainStatusConfirmed
		}
		applyApproval(batch, req)

		if err := tx.SaveTransferRequest(ctx, req); err != nil {
			return persistenceErr(err, "save transfer request %d", requestID)
		}
		if err := tx.SaveBatch(ctx, batch); err != nil {
			return persistenceErr(err, "save batch %d", batch.ID)
		}
		milestone := &models.Milestone{
			BatchID:      batch.ID,
			Type:         models.MilestoneHandoff,
			Description:  fmt.Sprintf("Custody handed off from %s to %s", req.RequestedBy, caller.Address),
			ActorAddress: caller.Address,
			Timestamp:    now,
		}
		if err := tx.AppendMilestone(ctx, milestone); err != nil {
			return persistenceErr(err, "append milestone")
		}

		note := ""
		if chainFailure != nil {
			note = "on-chain transfer failed: " + chainFailure.Error()
		}
		if err := e.recorder.RecordMutation(ctx, tx, EntityTransferRequest, req.ID, ActionApprove, caller.Address, oldReq, req, note); err != nil {
			return persistenceErr(err, "record audit")
		}
		if err := e.recorder.RecordMutation(ctx, tx, EntityBatch, batch.ID, ActionTransfer, caller.Address, oldBatch, batch, note); err != nil {
			return persistenceErr(err, "record audit")
		}
		result = ResolveResult{Request: req, Batch: batch}
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, EntityTransferRequest, requestID, string(decision), caller.Address, err)
	}

	outcome := notifier.EventRequestRejected
	message := fmt.Sprintf("Transfer request %d was rejected", requestID)
	if decision == DecisionApprove {
		outcome = notifier.EventRequestApproved
		message = fmt.Sprintf("Transfer request %d was approved", requestID)
	}
	e.events.Enqueue(notifier.NewEvent(outcome, result.Request.RequestedBy, result.Request.BatchID, requestID, message))

	if chainFailure != nil {
		return &result, chainErr(chainFailure, "on-chain transfer for request %d failed; ledger transition committed", requestID)
	}
	return &result, nil
}

// CancelTransferRequest withdraws a pending request. Only the original
// requester may cancel; cancellation is a status update, never a delete,
// and touches neither the batch nor the chain.
func (e *Engine) CancelTransferRequest(ctx context.Context, caller Caller, requestID uint) (*models.TransferRequest, error) {
	var cancelled *models.TransferRequest
	err := e.ledger.InTransaction(ctx, func(tx Ledger) error {
		req, err := tx.GetTransferRequestForUpdate(ctx, requestID)
		if err != nil {
			return persistenceErr(err, "load transfer request %d", requestID)
		}
		if req == nil {
			return notFoundf("transfer request %d not found", requestID)
		}
		if req.Status != models.RequestStatusPending {
			return invalidStatef("transfer request %d is already %s", requestID, req.Status)
		}
		if caller.Address != req.RequestedBy {
			return unauthorizedf("only the original requester may cancel transfer request %d", requestID)
		}

		old := *req
		now := e.now()
		req.Status = models.RequestStatusCancelled
		req.ResolvedAt = &now
		if err := tx.SaveTransferRequest(ctx, req); err != nil {
			return persistenceErr(err, "save transfer request %d", requestID)
		}
		if err := e.recorder.RecordMutation(ctx, tx, EntityTransferRequest, req.ID, ActionCancel, caller.Address, old, req, ""); err != nil {
			return persistenceErr(err, "record audit")
		}
		cancelled = req
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, EntityTransferRequest, requestID, ActionCancel, caller.Address, err)
	}

	e.events.Enqueue(notifier.NewEvent(notifier.EventRequestCancelled, cancelled.TargetAddress(), cancelled.BatchID, requestID,
		fmt.Sprintf("Transfer request %d was cancelled by the requester", requestID)))
	return cancelled, nil
}

// ConfirmReceipt lets the current holder acknowledge physical receipt: it
// appends a received milestone and settles a transit status. It requires
// an approved transfer request naming the holder.
func (e *Engine) ConfirmReceipt(ctx context.Context, caller Caller, batchID uint, note, location string) (*models.Batch, error) {
	var confirmed *models.Batch
	var requester string
	err := e.ledger.InTransaction(ctx, func(tx Ledger) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return persistenceErr(err, "load batch %d", batchID)
		}
		if batch == nil {
			return notFoundf("batch %d not found", batchID)
		}

		approved, err := tx.FindApprovedRequest(ctx, batchID, caller.Address)
		if err != nil {
			return persistenceErr(err, "find approved request for batch %d", batchID)
		}
		if approved == nil {
			return preconditionf("no approved transfer request names %s for batch %d", caller.Address, batchID)
		}
		requester = approved.RequestedBy

		old := *batch
		switch batch.Status {
		case models.BatchStatusInTransit, models.BatchStatusTransferredToDistributor:
			if batch.DistributorAddress == nil || *batch.DistributorAddress != caller.Address {
				return unauthorizedf("address %s does not hold batch %d", caller.Address, batchID)
			}
			batch.Status = models.BatchStatusReceived
		case models.BatchStatusReceived:
			if batch.DistributorAddress == nil || *batch.DistributorAddress != caller.Address {
				return unauthorizedf("address %s does not hold batch %d", caller.Address, batchID)
			}
			// Repeat confirmation: milestone only.
		case models.BatchStatusInPharmacy, models.BatchStatusTransferredToPharmacy:
			if batch.PharmacyAddress == nil || *batch.PharmacyAddress != caller.Address {
				return unauthorizedf("address %s does not hold batch %d", caller.Address, batchID)
			}
			// Already settled: milestone only.
		default:
			return invalidStatef("batch %d is not awaiting receipt confirmation (status %s)", batchID, batch.Status)
		}

		if err := tx.SaveBatch(ctx, batch); err != nil {
			return persistenceErr(err, "save batch %d", batchID)
		}
		description := note
		if description == "" {
			description = fmt.Sprintf("Receipt confirmed by %s", caller.Address)
		}
		milestone := &models.Milestone{
			BatchID:      batch.ID,
			Type:         models.MilestoneReceived,
			Description:  description,
			Location:     location,
			ActorAddress: caller.Address,
			Timestamp:    e.now(),
		}
		if err := tx.AppendMilestone(ctx, milestone); err != nil {
			return persistenceErr(err, "append milestone")
		}
		if err := e.recorder.RecordMutation(ctx, tx, EntityBatch, batch.ID, ActionConfirmReceipt, caller.Address, old, batch, ""); err != nil {
			return persistenceErr(err, "record audit")
		}
		confirmed = batch
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, EntityBatch, batchID, ActionConfirmReceipt, caller.Address, err)
	}

	e.events.Enqueue(notifier.NewEvent(notifier.EventReceiptConfirmed, requester, batchID, 0,
		fmt.Sprintf("Receipt of batch %d confirmed by %s", batchID, caller.Address)))
	return confirmed, nil
}

// SweepExpiredRequests moves pending requests past their deadline to the
// terminal expired status. Optional operational tooling: lazy read-time
// expiry in resolve is what correctness relies on.
func (e *Engine) SweepExpiredRequests(ctx context.Context, now time.Time) (int, error) {
	swept := 0
	err := e.ledger.InTransaction(ctx, func(tx Ledger) error {
		expired, err := tx.ListExpiredPending(ctx, now)
		if err != nil {
			return persistenceErr(err, "list expired requests")
		}
		for i := range expired {
			req := &expired[i]
			old := *req
			req.Status = models.RequestStatusExpired
			if err := tx.SaveTransferRequest(ctx, req); err != nil {
				return persistenceErr(err, "save transfer request %d", req.ID)
			}
			if err := e.recorder.RecordMutation(ctx, tx, EntityTransferRequest, req.ID, ActionExpire, SystemActor, old, req, ""); err != nil {
				return persistenceErr(err, "record audit")
			}
			swept++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		e.log.Info("expired transfer requests swept", "count", swept)
	}
	return swept, nil
}

// GetBatch returns a batch with its milestones.
func (e *Engine) GetBatch(ctx context.Context, id uint) (*models.Batch, error) {
	batch, err := e.ledger.GetBatch(ctx, id)
	if err != nil {
		return nil, persistenceErr(err, "load batch %d", id)
	}
	if batch == nil {
		return nil, notFoundf("batch %d not found", id)
	}
	return batch, nil
}

// ListBatchesByHolder returns the batches whose current holder is the
// given address.
func (e *Engine) ListBatchesByHolder(ctx context.Context, address string) ([]models.Batch, error) {
	batches, err := e.ledger.ListBatchesByHolder(ctx, address)
	if err != nil {
		return nil, persistenceErr(err, "list batches for %s", address)
	}
	return batches, nil
}

// GetTransferRequest returns one transfer request. A pending request past
// its deadline is reported with the expired status.
func (e *Engine) GetTransferRequest(ctx context.Context, id uint) (*models.TransferRequest, error) {
	req, err := e.ledger.GetTransferRequest(ctx, id)
	if err != nil {
		return nil, persistenceErr(err, "load transfer request %d", id)
	}
	if req == nil {
		return nil, notFoundf("transfer request %d not found", id)
	}
	req.Status = req.EffectiveStatus(e.now())
	return req, nil
}

// ListTransferRequests returns requests involving an address, optionally
// filtered by status. Expiration is applied at read time.
func (e *Engine) ListTransferRequests(ctx context.Context, address, status string) ([]models.TransferRequest, error) {
	reqs, err := e.ledger.ListTransferRequests(ctx, address, status)
	if err != nil {
		return nil, persistenceErr(err, "list transfer requests for %s", address)
	}
	now := e.now()
	for i := range reqs {
		reqs[i].Status = reqs[i].EffectiveStatus(now)
	}
	return reqs, nil
}

// History returns an entity's versioned snapshots.
func (e *Engine) History(ctx context.Context, entityType string, entityID uint) ([]models.EntityHistory, error) {
	return e.recorder.GetHistory(ctx, e.ledger, entityType, entityID)
}

// SuspiciousActivity returns recent failed actions by actors over the
// configured failure threshold.
func (e *Engine) SuspiciousActivity(ctx context.Context) ([]models.AuditLog, error) {
	return e.recorder.GetSuspiciousActivity(ctx, e.ledger)
}

// fail records a rejected attempt outside the rolled-back transaction so
// the audit trail keeps attempted-but-denied operations. Persistence
// failures are passed through untouched.
func (e *Engine) fail(ctx context.Context, entityType string, entityID uint, action, performedBy string, err error) error {
	kind := KindOf(err)
	if kind == "" || kind == KindPersistence {
		return err
	}
	if rerr := e.recorder.RecordFailure(ctx, e.ledger, entityType, entityID, action, performedBy, err.Error()); rerr != nil {
		e.log.Warn("could not record failed attempt", "entity_type", entityType, "entity_id", entityID, "error", rerr)
	}
	return err
}

func validateRegisterInput(input RegisterBatchInput) error {
	if input.BatchNumber == "" {
		return invalidStatef("batch number is required")
	}
	if input.DrugName == "" {
		return invalidStatef("drug name is required")
	}
	if input.Quantity <= 0 {
		return invalidStatef("quantity must be positive")
	}
	if !input.ExpiryDate.IsZero() && !input.ManufactureDate.IsZero() && input.ExpiryDate.Before(input.ManufactureDate) {
		return invalidStatef("expiry date precedes manufacture date")
	}
	return nil
}

// validateLeg checks that the initiating address currently holds the
// batch for the given leg and that the batch status permits the leg.
func validateLeg(batch *models.Batch, fromAddress, leg string) error {
	switch leg {
	case models.LegManufacturerToDistributor:
		if fromAddress == "" || fromAddress != batch.ManufacturerAddress {
			return unauthorizedf("address %s is not the manufacturer of batch %d", fromAddress, batch.ID)
		}
		switch batch.Status {
		case models.BatchStatusCreated, models.BatchStatusActive:
		default:
			return invalidStatef("batch %d cannot start a distributor transfer from status %s", batch.ID, batch.Status)
		}
	case models.LegDistributorToPharmacy:
		if batch.DistributorAddress == nil || fromAddress == "" || fromAddress != *batch.DistributorAddress {
			return unauthorizedf("address %s is not the distributor holding batch %d", fromAddress, batch.ID)
		}
		switch batch.Status {
		case models.BatchStatusInTransit, models.BatchStatusReceived, models.BatchStatusTransferredToDistributor:
		default:
			return invalidStatef("batch %d cannot start a pharmacy transfer from status %s", batch.ID, batch.Status)
		}
	default:
		return invalidStatef("unknown transfer leg %q", leg)
	}
	return nil
}

// applyApproval advances batch custody for an approved request: the new
// holder's address is set, the superseded address cleared and the status
// moved forward. Transitions never go backward; validateLeg has already
// pinned the eligible source statuses.
func applyApproval(batch *models.Batch, req *models.TransferRequest) {
	switch req.Leg {
	case models.LegManufacturerToDistributor:
		batch.DistributorAddress = req.DistributorAddress
		batch.PharmacyAddress = nil
		batch.Status = models.BatchStatusInTransit
	case models.LegDistributorToPharmacy:
		batch.PharmacyAddress = req.PharmacyAddress
		batch.DistributorAddress = nil
		batch.Status = models.BatchStatusInPharmacy
	}
}
