// Package repository is the durable ledger store: postgres via GORM,
// owning all persisted custody, audit and history state.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pharmachain/custody"
	"pharmachain/repository/models"
)

// PostgreSQL error codes
const (
	PgErrForeignKeyViolation = "23503"
	PgErrUniqueViolation     = "23505"
)

// RepositoryError represents repository layer errors
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Detail)
}

// Repository handles all database operations for the custody ledger.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository() *Repository {
	return &Repository{}
}

// ConnectDB establishes database connection and performs migrations
func (r *Repository) ConnectDB(dsn string) error {
	for i := 0; i < 10; i++ {
		log.Printf("Database connection attempt %d...\n", i+1)
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Printf("Connection attempt %d failed: %v\n", i+1, err)
			time.Sleep(2 * time.Second)
			continue
		}
		r.db = db
		log.Println("✓ Connected to database")

		if err := r.Migrate(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to connect to database after 10 attempts")
}

// Migrate performs database schema migrations
func (r *Repository) Migrate() error {
	log.Println("Running database migrations...")

	migrator := r.db.Migrator()

	// Order matters due to foreign keys
	tables := []interface{}{
		&models.Batch{},
		&models.TransferRequest{},
		&models.Milestone{},
		&models.AuditLog{},
		&models.EntityHistory{},
	}

	for _, table := range tables {
		if !migrator.HasTable(table) {
			if err := migrator.CreateTable(table); err != nil {
				return fmt.Errorf("failed to create table: %w", err)
			}
		}
	}

	// Partial unique index backing the one-pending-request-per-batch
	// invariant; the application-level check alone would be racy.
	err := r.db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_transfer_requests_one_pending
		 ON transfer_requests (batch_id) WHERE status = 'pending'`,
	).Error
	if err != nil {
		return fmt.Errorf("failed to create pending-request index: %w", err)
	}

	log.Println("✓ Database migrations completed")
	return nil
}

// Seed initializes database with demo data for local development.
func (r *Repository) Seed() {
	var batchCount int64
	r.db.Model(&models.Batch{}).Count(&batchCount)
	if batchCount > 0 {
		log.Println("Seed data already exists, skipping...")
		return
	}

	log.Println("Seeding database with demo batches...")

	batches := []models.Batch{
		{
			BatchNumber:         "BATCH-2025-0001",
			DrugName:            "Amoxicillin 500mg",
			Quantity:            10000,
			Price:               0.12,
			ManufactureDate:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			ExpiryDate:          time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC),
			ManufacturerAddress: "0xA1b2000000000000000000000000000000000001",
			Status:              models.BatchStatusActive,
			BlockchainStatus:    models.ChainStatusConfirmed,
		},
		{
			BatchNumber:         "BATCH-2025-0002",
			DrugName:            "Metformin 850mg",
			Quantity:            5000,
			Price:               0.08,
			ManufactureDate:     time.Date(2025, 4, 12, 0, 0, 0, 0, time.UTC),
			ExpiryDate:          time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
			ManufacturerAddress: "0xA1b2000000000000000000000000000000000001",
			Status:              models.BatchStatusCreated,
			BlockchainStatus:    models.ChainStatusPending,
		},
	}
	for _, batch := range batches {
		r.db.Create(&batch)
	}

	log.Println("✓ Database seeding completed")
}

// InTransaction runs fn inside one database transaction; the custody
// engine wraps every public operation in it.
func (r *Repository) InTransaction(ctx context.Context, fn func(tx custody.Ledger) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// CreateBatch inserts a batch, mapping a batch-number collision to the
// custody sentinel.
func (r *Repository) CreateBatch(ctx context.Context, batch *models.Batch) error {
	err := r.db.WithContext(ctx).Create(batch).Error
	if isUniqueViolation(err) {
		return custody.ErrDuplicateBatchNumber
	}
	return err
}

// SaveBatch persists all fields of a batch.
func (r *Repository) SaveBatch(ctx context.Context, batch *models.Batch) error {
	return r.db.WithContext(ctx).Save(batch).Error
}

// GetBatch loads a batch with its milestones ordered by timestamp.
func (r *Repository) GetBatch(ctx context.Context, id uint) (*models.Batch, error) {
	var batch models.Batch
	err := r.db.WithContext(ctx).
		Preload("Milestones", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp ASC")
		}).
		First(&batch, "batch_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetBatchForUpdate loads and row-locks a batch for the transaction.
func (r *Repository) GetBatchForUpdate(ctx context.Context, id uint) (*models.Batch, error) {
	var batch models.Batch
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&batch, "batch_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// ListBatchesByHolder returns batches whose current holder is the address.
func (r *Repository) ListBatchesByHolder(ctx context.Context, address string) ([]models.Batch, error) {
	var batches []models.Batch
	err := r.db.WithContext(ctx).
		Where(
			`(status IN ? AND manufacturer_address = ?)
			 OR (status IN ? AND distributor_address = ?)
			 OR (status IN ? AND pharmacy_address = ?)`,
			[]string{models.BatchStatusCreated, models.BatchStatusActive}, address,
			[]string{models.BatchStatusInTransit, models.BatchStatusReceived, models.BatchStatusTransferredToDistributor}, address,
			[]string{models.BatchStatusInPharmacy, models.BatchStatusTransferredToPharmacy}, address,
		).
		Order("batch_id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// CreateTransferRequest inserts a request; the partial unique index maps
// a second pending request for the batch to the custody sentinel.
func (r *Repository) CreateTransferRequest(ctx context.Context, req *models.TransferRequest) error {
	err := r.db.WithContext(ctx).Create(req).Error
	if isUniqueViolation(err) {
		return custody.ErrDuplicatePending
	}
	return err
}

// SaveTransferRequest persists all fields of a transfer request.
func (r *Repository) SaveTransferRequest(ctx context.Context, req *models.TransferRequest) error {
	return r.db.WithContext(ctx).Save(req).Error
}

// GetTransferRequest loads a transfer request.
func (r *Repository) GetTransferRequest(ctx context.Context, id uint) (*models.TransferRequest, error) {
	var req models.TransferRequest
	err := r.db.WithContext(ctx).First(&req, "request_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// GetTransferRequestForUpdate loads and row-locks a transfer request so
// two concurrent resolutions cannot both observe it pending.
func (r *Repository) GetTransferRequestForUpdate(ctx context.Context, id uint) (*models.TransferRequest, error) {
	var req models.TransferRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&req, "request_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// HasPendingRequest reports whether the batch has an unresolved request.
func (r *Repository) HasPendingRequest(ctx context.Context, batchID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.TransferRequest{}).
		Where("batch_id = ? AND status = ?", batchID, models.RequestStatusPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindApprovedRequest returns the approved request naming the holder as
// counterparty for the batch, if any.
func (r *Repository) FindApprovedRequest(ctx context.Context, batchID uint, holder string) (*models.TransferRequest, error) {
	var req models.TransferRequest
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND status = ?", batchID, models.RequestStatusApproved).
		Where("distributor_address = ? OR pharmacy_address = ?", holder, holder).
		Order("resolved_at DESC").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListTransferRequests returns requests involving the address, optionally
// filtered by status.
func (r *Repository) ListTransferRequests(ctx context.Context, address, status string) ([]models.TransferRequest, error) {
	query := r.db.WithContext(ctx).Model(&models.TransferRequest{})
	if address != "" {
		query = query.Where(
			"requested_by = ? OR distributor_address = ? OR pharmacy_address = ?",
			address, address, address,
		)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var reqs []models.TransferRequest
	if err := query.Order("request_id ASC").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

// ListExpiredPending returns pending requests whose deadline has passed.
func (r *Repository) ListExpiredPending(ctx context.Context, cutoff time.Time) ([]models.TransferRequest, error) {
	var reqs []models.TransferRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status = ? AND expires_at < ?", models.RequestStatusPending, cutoff).
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

// AppendMilestone inserts one provenance event. Milestones are never
// updated or deleted.
func (r *Repository) AppendMilestone(ctx context.Context, milestone *models.Milestone) error {
	return r.db.WithContext(ctx).Create(milestone).Error
}

// CreateAuditLog inserts one audit row.
func (r *Repository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// CreateEntityHistory inserts one versioned snapshot.
func (r *Repository) CreateEntityHistory(ctx context.Context, snapshot *models.EntityHistory) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

// MaxEntityVersion returns the entity's highest snapshot version, 0 when
// it has none.
func (r *Repository) MaxEntityVersion(ctx context.Context, entityType string, entityID uint) (int64, error) {
	var version int64
	err := r.db.WithContext(ctx).Model(&models.EntityHistory{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&version).Error
	if err != nil {
		return 0, err
	}
	return version, nil
}

// ListEntityHistory returns an entity's snapshots ordered by version.
func (r *Repository) ListEntityHistory(ctx context.Context, entityType string, entityID uint) ([]models.EntityHistory, error) {
	var snapshots []models.EntityHistory
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("version ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// ListFailedActions returns failed audit rows recorded at or after since.
func (r *Repository) ListFailedActions(ctx context.Context, since time.Time) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at >= ?", models.AuditStatusFailed, since).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == PgErrUniqueViolation
}

var _ custody.Ledger = (*Repository)(nil) // Compile-time interface check
