package srvreg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"pharmachain/audit"
	"pharmachain/chainclient"
	"pharmachain/custody"
	"pharmachain/notifier"
	"pharmachain/repository/models"
)

var (
	manufacturer = custody.Caller{Address: "0xManu", Role: models.RoleManufacturer}
	distributor  = custody.Caller{Address: "0xDist", Role: models.RoleDistributor}
)

func newTestRegistry(t *testing.T) *ServiceRegistry {
	t.Helper()
	engine := custody.NewEngine(
		custody.NewMemoryLedger(),
		chainclient.NewMock(),
		audit.NewRecorder(),
		notifier.NewMockDispatcher(),
		custody.Options{},
	)
	sr := NewServiceRegistry(engine, "node-test")
	sr.RegisterDefaultServices()
	return sr
}

func do(t *testing.T, sr *ServiceRegistry, caller custody.Caller, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	u, err := url.Parse(path)
	if err != nil {
		t.Fatalf("parse path %q: %v", path, err)
	}
	req := &Request{
		Ctx:    context.Background(),
		Method: method,
		Path:   u.Path,
		Query:  u.Query(),
		Body:   body,
		Caller: caller,
	}
	resp, err := req.GenerateResponse(sr)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(resp.Body), &decoded); err != nil {
		t.Fatalf("%s %s: invalid JSON body %q: %v", method, path, resp.Body, err)
	}
	return resp.StatusCode, decoded
}

func registerBatch(t *testing.T, sr *ServiceRegistry) uint {
	t.Helper()
	status, body := do(t, sr, manufacturer, "POST", "/batches",
		`{"batch_number":"BATCH-2025-0001","drug_name":"Amoxicillin 500mg","quantity":10000,"price":0.12}`)
	if status != http.StatusCreated {
		t.Fatalf("register batch status = %d, body = %v", status, body)
	}
	batch := body["batch"].(map[string]interface{})
	return uint(batch["id"].(float64))
}

func createRequest(t *testing.T, sr *ServiceRegistry, batchID uint) uint {
	t.Helper()
	status, body := do(t, sr, manufacturer, "POST", "/transfer-requests",
		fmt.Sprintf(`{"batch_id":%d,"to_address":"0xDist","leg":"manufacturer_to_distributor"}`, batchID))
	if status != http.StatusCreated {
		t.Fatalf("create request status = %d, body = %v", status, body)
	}
	request := body["request"].(map[string]interface{})
	return uint(request["id"].(float64))
}

func TestRegisterBatchEndpoint(t *testing.T) {
	sr := newTestRegistry(t)

	status, body := do(t, sr, manufacturer, "POST", "/batches",
		`{"batch_number":"BATCH-2025-0001","drug_name":"Amoxicillin 500mg","quantity":10000}`)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", status)
	}
	batch := body["batch"].(map[string]interface{})
	if batch["status"] != models.BatchStatusActive {
		t.Errorf("batch status = %v, want active after a successful mint", batch["status"])
	}
	if batch["blockchain_tx_hash"] == nil {
		t.Error("batch should carry the mint tx hash")
	}
}

func TestRegisterBatchWrongRole(t *testing.T) {
	sr := newTestRegistry(t)

	status, body := do(t, sr, distributor, "POST", "/batches",
		`{"batch_number":"B-1","drug_name":"X","quantity":1}`)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body = %v", status, body)
	}
}

func TestRegisterBatchInvalidBody(t *testing.T) {
	sr := newTestRegistry(t)

	status, _ := do(t, sr, manufacturer, "POST", "/batches", `{not json`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestGetBatchEndpoint(t *testing.T) {
	sr := newTestRegistry(t)
	batchID := registerBatch(t, sr)

	status, body := do(t, sr, manufacturer, "GET", fmt.Sprintf("/batches/%d", batchID), "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["holder"] != manufacturer.Address {
		t.Errorf("holder = %v, want the manufacturer", body["holder"])
	}
	batch := body["batch"].(map[string]interface{})
	milestones := batch["milestones"].([]interface{})
	if len(milestones) != 1 {
		t.Errorf("milestones = %d, want the registration milestone", len(milestones))
	}
}

func TestGetBatchNotFound(t *testing.T) {
	sr := newTestRegistry(t)

	status, _ := do(t, sr, manufacturer, "GET", "/batches/999", "")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestListBatchesByHolder(t *testing.T) {
	sr := newTestRegistry(t)
	registerBatch(t, sr)

	status, body := do(t, sr, manufacturer, "GET", "/batches?holder=0xManu", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestTransferRequestLifecycle(t *testing.T) {
	sr := newTestRegistry(t)
	batchID := registerBatch(t, sr)
	requestID := createRequest(t, sr, batchID)

	// Duplicate pending request conflicts.
	status, _ := do(t, sr, manufacturer, "POST", "/transfer-requests",
		fmt.Sprintf(`{"batch_id":%d,"to_address":"0xDist","leg":"manufacturer_to_distributor"}`, batchID))
	if status != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", status)
	}

	// Counterparty approves.
	status, body := do(t, sr, distributor, "PUT", fmt.Sprintf("/transfer-requests/%d", requestID),
		`{"decision":"approve"}`)
	if status != http.StatusOK {
		t.Fatalf("approve status = %d, body = %v", status, body)
	}
	request := body["request"].(map[string]interface{})
	if request["status"] != models.RequestStatusApproved {
		t.Errorf("request status = %v, want approved", request["status"])
	}
	batch := body["batch"].(map[string]interface{})
	if batch["status"] != models.BatchStatusInTransit {
		t.Errorf("batch status = %v, want in_transit", batch["status"])
	}

	// Resolving again is an invalid state.
	status, _ = do(t, sr, distributor, "PUT", fmt.Sprintf("/transfer-requests/%d", requestID),
		`{"decision":"reject"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("second resolve status = %d, want 400", status)
	}
}

func TestResolveByWrongCaller(t *testing.T) {
	sr := newTestRegistry(t)
	batchID := registerBatch(t, sr)
	requestID := createRequest(t, sr, batchID)

	status, _ := do(t, sr, manufacturer, "PUT", fmt.Sprintf("/transfer-requests/%d", requestID),
		`{"decision":"approve"}`)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
}

func TestCancelTransferRequestEndpoint(t *testing.T) {
	sr := newTestRegistry(t)
	batchID := registerBatch(t, sr)
	requestID := createRequest(t, sr, batchID)

	status, body := do(t, sr, manufacturer, "DELETE", fmt.Sprintf("/transfer-requests/%d", requestID), "")
	if status != http.StatusOK {
		t.Fatalf("cancel status = %d, body = %v", status, body)
	}
	request := body["request"].(map[string]interface{})
	if request["status"] != models.RequestStatusCancelled {
		t.Errorf("request status = %v, want cancelled", request["status"])
	}

	status, _ = do(t, sr, manufacturer, "DELETE", fmt.Sprintf("/transfer-requests/%d", requestID), "")
	if status != http.StatusBadRequest {
		t.Fatalf("second cancel status = %d, want 400", status)
	}
}

func TestConfirmReceiptEndpoint(t *testing.T) {
	sr := newTestRegistry(t)
	batchID := registerBatch(t, sr)
	requestID := createRequest(t, sr, batchID)
	if status, body := do(t, sr, distributor, "PUT", fmt.Sprintf("/transfer-requests/%d", requestID),
		`{"decision":"approve"}`); status != http.StatusOK {
		t.Fatalf("approve status = %d, body = %v", status, body)
	}

	status, body := do(t, sr, distributor, "POST", fmt.Sprintf("/batches/%d/confirm-receipt", batchID),
		`{"note":"intact","location":"Warehouse 3"}`)
	if status != http.StatusOK {
		t.Fatalf("confirm status = %d, body = %v", status, body)
	}
	batch := body["batch"].(map[string]interface{})
	if batch["status"] != models.BatchStatusReceived {
		t.Errorf("batch status = %v, want received", batch["status"])
	}
}

func TestConfirmReceiptWithoutApprovedRequest(t *testing.T) {
	sr := newTestRegistry(t)
	batchID := registerBatch(t, sr)

	status, _ := do(t, sr, distributor, "POST", fmt.Sprintf("/batches/%d/confirm-receipt", batchID), "")
	if status != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", status)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	sr := newTestRegistry(t)
	batchID := registerBatch(t, sr)

	status, body := do(t, sr, manufacturer, "GET", fmt.Sprintf("/history/batch/%d", batchID), "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	// Registration writes the create snapshot and the mint mirror snapshot.
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", body["count"])
	}

	status, _ = do(t, sr, manufacturer, "GET", "/history/warehouse/1", "")
	if status != http.StatusBadRequest {
		t.Fatalf("unknown entity type status = %d, want 400", status)
	}
}

func TestSuspiciousEndpoint(t *testing.T) {
	sr := newTestRegistry(t)

	// Hammer a forbidden operation past the default threshold of 5.
	for i := 0; i < 6; i++ {
		do(t, sr, distributor, "POST", "/batches", `{"batch_number":"B-1","drug_name":"X","quantity":1}`)
	}

	status, body := do(t, sr, manufacturer, "GET", "/audit/suspicious", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["count"].(float64) != 6 {
		t.Errorf("count = %v, want the 6 denied attempts", body["count"])
	}
}

func TestUnknownRoute(t *testing.T) {
	sr := newTestRegistry(t)

	status, _ := do(t, sr, manufacturer, "GET", "/nonsense", "")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestInfoEndpoint(t *testing.T) {
	sr := newTestRegistry(t)

	status, body := do(t, sr, custody.Caller{}, "GET", "/info", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["node_id"] != "node-test" {
		t.Errorf("node_id = %v, want node-test", body["node_id"])
	}
}
