// Package audit records field-level diffs and versioned snapshots for
// every mutation the custody engine performs, plus rejected attempts.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"pharmachain/repository/models"
)

// Store is the persistence surface the recorder writes through. The
// custody ledger implements it so audit rows land in the same database
// transaction as the business mutation they describe.
type Store interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	CreateEntityHistory(ctx context.Context, snapshot *models.EntityHistory) error
	MaxEntityVersion(ctx context.Context, entityType string, entityID uint) (int64, error)
	ListEntityHistory(ctx context.Context, entityType string, entityID uint) ([]models.EntityHistory, error)
	ListFailedActions(ctx context.Context, since time.Time) ([]models.AuditLog, error)
}

// Change is one field-level difference between two snapshots of an
// entity. Values are rendered as strings; a nil pointer means the field
// was absent on that side.
type Change struct {
	FieldName string  `json:"field_name"`
	OldValue  *string `json:"old_value,omitempty"`
	NewValue  *string `json:"new_value,omitempty"`
}

// Recorder computes diffs and persists AuditLog and EntityHistory rows.
type Recorder struct {
	now       func() time.Time
	threshold int
	window    time.Duration
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the recorder's clock.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithSuspiciousPolicy sets how many failed actions within the trailing
// window flag an actor as suspicious.
func WithSuspiciousPolicy(threshold int, window time.Duration) Option {
	return func(r *Recorder) {
		r.threshold = threshold
		r.window = window
	}
}

// NewRecorder creates a Recorder with the default suspicious-activity
// policy of more than 5 failures within one hour.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		now:       time.Now,
		threshold: 5,
		window:    time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordMutation serializes both snapshots, computes the field diff and
// writes one AuditLog row plus one EntityHistory row whose version is one
// past the entity's current maximum. Call it with the transaction-scoped
// store so audit and business state cannot diverge.
func (r *Recorder) RecordMutation(ctx context.Context, store Store, entityType string, entityID uint, action, performedBy string, oldSnapshot, newSnapshot any, note string) error {
	oldJSON, err := marshalSnapshot(oldSnapshot)
	if err != nil {
		return fmt.Errorf("serialize old snapshot: %w", err)
	}
	newJSON, err := marshalSnapshot(newSnapshot)
	if err != nil {
		return fmt.Errorf("serialize new snapshot: %w", err)
	}

	changes, err := Diff(oldSnapshot, newSnapshot)
	if err != nil {
		return fmt.Errorf("compute diff: %w", err)
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("serialize changes: %w", err)
	}

	entry := &models.AuditLog{
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		PerformedBy: performedBy,
		OldValues:   oldJSON,
		NewValues:   newJSON,
		Changes:     string(changesJSON),
		Status:      models.AuditStatusSuccess,
		CreatedAt:   r.now(),
	}
	if note != "" {
		entry.ErrorMessage = &note
	}
	if err := store.CreateAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}

	version, err := store.MaxEntityVersion(ctx, entityType, entityID)
	if err != nil {
		return fmt.Errorf("read entity version: %w", err)
	}
	snapshot := &models.EntityHistory{
		EntityType: entityType,
		EntityID:   entityID,
		Version:    version + 1,
		EntityData: newJSON,
		ChangedBy:  performedBy,
		CreatedAt:  r.now(),
	}
	if err := store.CreateEntityHistory(ctx, snapshot); err != nil {
		return fmt.Errorf("write entity history: %w", err)
	}
	return nil
}

// RecordFailure writes a failed AuditLog row for an operation rejected
// before any mutation, so attempted-but-denied actions stay visible.
func (r *Recorder) RecordFailure(ctx context.Context, store Store, entityType string, entityID uint, action, performedBy, errorMessage string) error {
	entry := &models.AuditLog{
		EntityType:   entityType,
		EntityID:     entityID,
		Action:       action,
		PerformedBy:  performedBy,
		Status:       models.AuditStatusFailed,
		ErrorMessage: &errorMessage,
		CreatedAt:    r.now(),
	}
	if err := store.CreateAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// GetHistory returns an entity's snapshots ordered by version.
func (r *Recorder) GetHistory(ctx context.Context, store Store, entityType string, entityID uint) ([]models.EntityHistory, error) {
	return store.ListEntityHistory(ctx, entityType, entityID)
}

// GetSuspiciousActivity returns the failed AuditLog rows of every actor
// that exceeded the failure threshold within the trailing window.
func (r *Recorder) GetSuspiciousActivity(ctx context.Context, store Store) ([]models.AuditLog, error) {
	since := r.now().Add(-r.window)
	rows, err := store.ListFailedActions(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list failed actions: %w", err)
	}

	counts := make(map[string]int)
	for _, row := range rows {
		counts[row.PerformedBy]++
	}

	var flagged []models.AuditLog
	for _, row := range rows {
		if counts[row.PerformedBy] > r.threshold {
			flagged = append(flagged, row)
		}
	}
	return flagged, nil
}

// Diff computes the field-level differences between two snapshots: every
// field present in the new snapshot that is absent from or different in
// the old one. Snapshots go through a JSON round trip so the diff sees
// the same representation that is persisted.
func Diff(oldSnapshot, newSnapshot any) ([]Change, error) {
	oldFields, err := snapshotFields(oldSnapshot)
	if err != nil {
		return nil, err
	}
	newFields, err := snapshotFields(newSnapshot)
	if err != nil {
		return nil, err
	}

	var changes []Change
	for field, newVal := range newFields {
		oldVal, existed := oldFields[field]
		if existed && oldVal == newVal {
			continue
		}
		change := Change{FieldName: field}
		if existed {
			v := oldVal
			change.OldValue = &v
		}
		nv := newVal
		change.NewValue = &nv
		changes = append(changes, change)
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].FieldName < changes[j].FieldName
	})
	return changes, nil
}

func marshalSnapshot(snapshot any) (string, error) {
	if snapshot == nil {
		return "", nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// snapshotFields flattens a snapshot into field -> rendered value.
func snapshotFields(snapshot any) (map[string]string, error) {
	if snapshot == nil {
		return map[string]string{}, nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(raw))
	for name, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			fields[name] = s
			continue
		}
		fields[name] = string(value)
	}
	return fields, nil
}
