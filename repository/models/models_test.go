package models

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestBatchStatusRank(t *testing.T) {
	cases := []struct {
		status string
		want   int
	}{
		{BatchStatusCreated, 0},
		{BatchStatusActive, 1},
		{BatchStatusInTransit, 2},
		{BatchStatusReceived, 3},
		{BatchStatusTransferredToDistributor, 3},
		{BatchStatusInPharmacy, 4},
		{BatchStatusTransferredToPharmacy, 4},
		{"bogus", -1},
	}
	for _, tc := range cases {
		if got := BatchStatusRank(tc.status); got != tc.want {
			t.Errorf("BatchStatusRank(%q) = %d, want %d", tc.status, got, tc.want)
		}
	}
}

func TestHolderAddress(t *testing.T) {
	batch := Batch{
		ManufacturerAddress: "0xManu",
		DistributorAddress:  strPtr("0xDist"),
		PharmacyAddress:     strPtr("0xPharm"),
	}

	cases := []struct {
		status string
		want   string
	}{
		{BatchStatusCreated, "0xManu"},
		{BatchStatusActive, "0xManu"},
		{BatchStatusInTransit, "0xDist"},
		{BatchStatusReceived, "0xDist"},
		{BatchStatusTransferredToDistributor, "0xDist"},
		{BatchStatusInPharmacy, "0xPharm"},
		{BatchStatusTransferredToPharmacy, "0xPharm"},
	}
	for _, tc := range cases {
		batch.Status = tc.status
		if got := batch.HolderAddress(); got != tc.want {
			t.Errorf("HolderAddress() with status %s = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestTransferRequestTargetAddress(t *testing.T) {
	leg1 := TransferRequest{Leg: LegManufacturerToDistributor, DistributorAddress: strPtr("0xDist")}
	if got := leg1.TargetAddress(); got != "0xDist" {
		t.Errorf("leg 1 target = %s, want 0xDist", got)
	}

	leg2 := TransferRequest{Leg: LegDistributorToPharmacy, PharmacyAddress: strPtr("0xPharm")}
	if got := leg2.TargetAddress(); got != "0xPharm" {
		t.Errorf("leg 2 target = %s, want 0xPharm", got)
	}

	if got := (&TransferRequest{Leg: "bogus"}).TargetAddress(); got != "" {
		t.Errorf("unknown leg target = %s, want empty", got)
	}
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	pending := TransferRequest{Status: RequestStatusPending, ExpiresAt: now.Add(time.Hour)}
	if got := pending.EffectiveStatus(now); got != RequestStatusPending {
		t.Errorf("unexpired pending = %s, want pending", got)
	}

	overdue := TransferRequest{Status: RequestStatusPending, ExpiresAt: now.Add(-time.Hour)}
	if got := overdue.EffectiveStatus(now); got != RequestStatusExpired {
		t.Errorf("overdue pending = %s, want expired", got)
	}

	// Terminal statuses never flip, even past the deadline.
	approved := TransferRequest{Status: RequestStatusApproved, ExpiresAt: now.Add(-time.Hour)}
	if got := approved.EffectiveStatus(now); got != RequestStatusApproved {
		t.Errorf("approved past deadline = %s, want approved", got)
	}
}
