package models

import "time"

// Batch custody statuses. The engine advances batches along
// created -> active -> in_transit -> received -> in_pharmacy; the two
// transferred_* values are settled statuses written by earlier deployments
// and are ranked alongside their modern equivalents.
const (
	BatchStatusCreated                  = "created"
	BatchStatusActive                   = "active"
	BatchStatusInTransit                = "in_transit"
	BatchStatusReceived                 = "received"
	BatchStatusTransferredToDistributor = "transferred_to_distributor"
	BatchStatusInPharmacy               = "in_pharmacy"
	BatchStatusTransferredToPharmacy    = "transferred_to_pharmacy"
)

// Transfer request lifecycle. Everything past pending is terminal.
const (
	RequestStatusPending   = "pending"
	RequestStatusApproved  = "approved"
	RequestStatusRejected  = "rejected"
	RequestStatusCancelled = "cancelled"
	RequestStatusExpired   = "expired"
)

// Blockchain mirror status for batches and transfer requests.
const (
	ChainStatusPending   = "pending"
	ChainStatusConfirmed = "confirmed"
	ChainStatusFailed    = "failed"
)

// Supply chain legs.
const (
	LegManufacturerToDistributor = "manufacturer_to_distributor"
	LegDistributorToPharmacy     = "distributor_to_pharmacy"
)

// Participant roles.
const (
	RoleManufacturer = "manufacturer"
	RoleDistributor  = "distributor"
	RolePharmacy     = "pharmacy"
)

// Milestone types.
const (
	MilestoneRegistered = "registered"
	MilestoneHandoff    = "handoff"
	MilestoneReceived   = "received"
)

// batchStatusRank orders custody statuses so transitions can be checked
// for backward movement. Legacy settled statuses share a rank with their
// modern equivalents.
var batchStatusRank = map[string]int{
	BatchStatusCreated:                  0,
	BatchStatusActive:                   1,
	BatchStatusInTransit:                2,
	BatchStatusReceived:                 3,
	BatchStatusTransferredToDistributor: 3,
	BatchStatusInPharmacy:               4,
	BatchStatusTransferredToPharmacy:    4,
}

// BatchStatusRank returns the custody rank for a status, or -1 for an
// unknown status.
func BatchStatusRank(status string) int {
	rank, ok := batchStatusRank[status]
	if !ok {
		return -1
	}
	return rank
}

// RequestStatusTerminal reports whether a transfer request status admits
// no further transitions.
func RequestStatusTerminal(status string) bool {
	return status != RequestStatusPending
}

// Batch represents a pharmaceutical production lot whose custody is
// tracked in the ledger and mirrored on chain.
type Batch struct {
	ID          uint    `gorm:"column:batch_id;primaryKey;autoIncrement" json:"id"`
	BatchNumber string  `gorm:"column:batch_number;type:varchar(100);uniqueIndex;not null" json:"batch_number"`
	DrugName    string  `gorm:"column:drug_name;type:varchar(255);not null" json:"drug_name"`
	Quantity    int     `gorm:"column:quantity;not null" json:"quantity"`
	Price       float64 `gorm:"column:price" json:"price"`

	ManufactureDate time.Time `gorm:"column:manufacture_date" json:"manufacture_date"`
	ExpiryDate      time.Time `gorm:"column:expiry_date" json:"expiry_date"`

	// Custody fields. Exactly one holder is implied by Status; the
	// downstream addresses are null until the matching leg settles.
	ManufacturerAddress string  `gorm:"column:manufacturer_address;type:varchar(64);not null;index" json:"manufacturer_address"`
	DistributorAddress  *string `gorm:"column:distributor_address;type:varchar(64);index" json:"distributor_address,omitempty"`
	PharmacyAddress     *string `gorm:"column:pharmacy_address;type:varchar(64);index" json:"pharmacy_address,omitempty"`
	Status              string  `gorm:"column:status;type:varchar(32);not null;default:'created'" json:"status"`

	// Provenance, immutable after the first transfer.
	ImageURL    string `gorm:"column:image_url;type:varchar(512)" json:"image_url,omitempty"`
	MetadataURL string `gorm:"column:metadata_url;type:varchar(512)" json:"metadata_url,omitempty"`
	IpfsHash    string `gorm:"column:ipfs_hash;type:varchar(128)" json:"ipfs_hash,omitempty"`

	// On-chain mirror of the mint.
	BlockchainTxHash *string `gorm:"column:blockchain_tx_hash;type:varchar(66)" json:"blockchain_tx_hash,omitempty"`
	BlockchainStatus string  `gorm:"column:blockchain_status;type:varchar(20);default:'pending'" json:"blockchain_status"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	// Relationships
	Milestones []Milestone `gorm:"foreignKey:BatchID" json:"milestones,omitempty"`
}

// HolderAddress returns the address currently holding the batch, derived
// from Status per the custody model.
func (b *Batch) HolderAddress() string {
	switch b.Status {
	case BatchStatusCreated, BatchStatusActive:
		return b.ManufacturerAddress
	case BatchStatusInTransit, BatchStatusReceived, BatchStatusTransferredToDistributor:
		if b.DistributorAddress != nil {
			return *b.DistributorAddress
		}
	case BatchStatusInPharmacy, BatchStatusTransferredToPharmacy:
		if b.PharmacyAddress != nil {
			return *b.PharmacyAddress
		}
	}
	return ""
}

// TransferRequest is a proposed custody handoff of one batch along one leg.
type TransferRequest struct {
	ID      uint   `gorm:"column:request_id;primaryKey;autoIncrement" json:"id"`
	BatchID uint   `gorm:"column:batch_id;not null;index" json:"batch_id"`
	Leg     string `gorm:"column:leg;type:varchar(40);not null" json:"leg"`

	// RequestedBy is the holder that initiated the transfer; only they may
	// cancel it.
	RequestedBy        string  `gorm:"column:requested_by;type:varchar(64);not null;index" json:"requested_by"`
	DistributorAddress *string `gorm:"column:distributor_address;type:varchar(64)" json:"distributor_address,omitempty"`
	PharmacyAddress    *string `gorm:"column:pharmacy_address;type:varchar(64)" json:"pharmacy_address,omitempty"`

	Status string `gorm:"column:status;type:varchar(20);not null;default:'pending'" json:"status"`

	BlockchainTxHash *string `gorm:"column:blockchain_tx_hash;type:varchar(66)" json:"blockchain_tx_hash,omitempty"`
	BlockchainStatus string  `gorm:"column:blockchain_status;type:varchar(20);default:'pending'" json:"blockchain_status"`

	ExpiresAt  time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	ResolvedAt *time.Time `gorm:"column:resolved_at" json:"resolved_at,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	// Relationships
	Batch *Batch `gorm:"foreignKey:BatchID" json:"-"`
}

// TargetAddress returns the counterparty expected to resolve the request.
func (tr *TransferRequest) TargetAddress() string {
	switch tr.Leg {
	case LegManufacturerToDistributor:
		if tr.DistributorAddress != nil {
			return *tr.DistributorAddress
		}
	case LegDistributorToPharmacy:
		if tr.PharmacyAddress != nil {
			return *tr.PharmacyAddress
		}
	}
	return ""
}

// EffectiveStatus treats an unresolved request past its deadline as
// expired. Expiration is a read-time predicate, not stored state.
func (tr *TransferRequest) EffectiveStatus(now time.Time) string {
	if tr.Status == RequestStatusPending && now.After(tr.ExpiresAt) {
		return RequestStatusExpired
	}
	return tr.Status
}

// Milestone is an immutable provenance event attached to a batch.
// Milestones are append-only and never mutated or deleted.
type Milestone struct {
	ID           uint      `gorm:"column:milestone_id;primaryKey;autoIncrement" json:"id"`
	BatchID      uint      `gorm:"column:batch_id;not null;index" json:"batch_id"`
	Type         string    `gorm:"column:type;type:varchar(40);not null" json:"type"`
	Description  string    `gorm:"column:description;type:varchar(512)" json:"description"`
	Location     string    `gorm:"column:location;type:varchar(255)" json:"location,omitempty"`
	ActorAddress string    `gorm:"column:actor_address;type:varchar(64);not null" json:"actor_address"`
	Timestamp    time.Time `gorm:"column:timestamp;not null;index" json:"timestamp"`
}

// Audit outcome values.
const (
	AuditStatusSuccess = "success"
	AuditStatusFailed  = "failed"
)

// AuditLog is an append-only record of every state-changing operation,
// successful or rejected.
type AuditLog struct {
	ID           uint    `gorm:"column:audit_id;primaryKey;autoIncrement" json:"id"`
	EntityType   string  `gorm:"column:entity_type;type:varchar(40);not null;index:idx_audit_entity" json:"entity_type"`
	EntityID     uint    `gorm:"column:entity_id;not null;index:idx_audit_entity" json:"entity_id"`
	Action       string  `gorm:"column:action;type:varchar(40);not null" json:"action"`
	PerformedBy  string  `gorm:"column:performed_by;type:varchar(64);not null;index" json:"performed_by"`
	OldValues    string  `gorm:"column:old_values;type:text" json:"old_values,omitempty"`
	NewValues    string  `gorm:"column:new_values;type:text" json:"new_values,omitempty"`
	Changes      string  `gorm:"column:changes;type:text" json:"changes,omitempty"`
	Status       string  `gorm:"column:status;type:varchar(20);not null" json:"status"`
	ErrorMessage *string `gorm:"column:error_message;type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

// EntityHistory is a versioned full snapshot of an entity after each
// mutation. Version is monotonically increasing per entity.
type EntityHistory struct {
	ID         uint   `gorm:"column:history_id;primaryKey;autoIncrement" json:"id"`
	EntityType string `gorm:"column:entity_type;type:varchar(40);not null;uniqueIndex:idx_history_version" json:"entity_type"`
	EntityID   uint   `gorm:"column:entity_id;not null;uniqueIndex:idx_history_version" json:"entity_id"`
	Version    int64  `gorm:"column:version;not null;uniqueIndex:idx_history_version" json:"version"`
	EntityData string `gorm:"column:entity_data;type:text;not null" json:"entity_data"`
	ChangedBy  string `gorm:"column:changed_by;type:varchar(64)" json:"changed_by"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
