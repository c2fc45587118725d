package srvreg

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pharmachain/custody"
)

// jsonResponse marshals a payload into a Response.
func jsonResponse(statusCode int, payload interface{}) *Response {
	body, _ := json.Marshal(payload)
	return &Response{
		StatusCode: statusCode,
		Headers:    defaultHeaders,
		Body:       string(body),
	}
}

// errorResponse maps a custody failure to a Response.
func errorResponse(err error) *Response {
	message := err.Error()
	var cerr *custody.Error
	if errors.As(err, &cerr) {
		message = cerr.Message
	}
	return jsonResponse(statusForError(err), map[string]interface{}{
		"error": message,
	})
}

// idFromPath extracts a numeric path segment.
func idFromPath(path string, index int) (uint, bool) {
	parts := strings.Split(path, "/")
	if index >= len(parts) {
		return 0, false
	}
	id, err := strconv.ParseUint(parts[index], 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

// InfoHandler returns node information
func (sr *ServiceRegistry) InfoHandler(req *Request) (*Response, error) {
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"node_id": sr.nodeID,
		"type":    "Custody Service Node",
		"status":  "active",
	}), nil
}

// RegisterBatchHandler registers a new batch and mints its token
func (sr *ServiceRegistry) RegisterBatchHandler(req *Request) (*Response, error) {
	var body struct {
		BatchNumber     string    `json:"batch_number"`
		DrugName        string    `json:"drug_name"`
		Quantity        int       `json:"quantity"`
		Price           float64   `json:"price"`
		ManufactureDate time.Time `json:"manufacture_date"`
		ExpiryDate      time.Time `json:"expiry_date"`
		ImageURL        string    `json:"image_url"`
		MetadataURL     string    `json:"metadata_url"`
		IpfsHash        string    `json:"ipfs_hash"`
		Location        string    `json:"location"`
	}

	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Invalid request body: %s"}`, err.Error()),
		}, nil
	}

	batch, err := sr.engine.RegisterBatch(req.Ctx, req.Caller, custody.RegisterBatchInput{
		BatchNumber:     body.BatchNumber,
		DrugName:        body.DrugName,
		Quantity:        body.Quantity,
		Price:           body.Price,
		ManufactureDate: body.ManufactureDate,
		ExpiryDate:      body.ExpiryDate,
		ImageURL:        body.ImageURL,
		MetadataURL:     body.MetadataURL,
		IpfsHash:        body.IpfsHash,
		Location:        body.Location,
	})
	if err != nil {
		// A chain failure still registers the batch; report both.
		if custody.KindOf(err) == custody.KindChainError && batch != nil {
			return jsonResponse(http.StatusBadGateway, map[string]interface{}{
				"error": "Batch registered but on-chain mint failed",
				"batch": batch,
			}), nil
		}
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusCreated, map[string]interface{}{
		"message": "Batch registered successfully",
		"batch":   batch,
	}), nil
}

// GetBatchHandler returns a batch with its milestones
func (sr *ServiceRegistry) GetBatchHandler(req *Request) (*Response, error) {
	id, ok := idFromPath(req.Path, 2)
	if !ok {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"Invalid batch id"}`,
		}, nil
	}

	batch, err := sr.engine.GetBatch(req.Ctx, id)
	if err != nil {
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"batch":  batch,
		"holder": batch.HolderAddress(),
	}), nil
}

// ListBatchesHandler lists batches held by an address
func (sr *ServiceRegistry) ListBatchesHandler(req *Request) (*Response, error) {
	holder := req.Query.Get("holder")
	if holder == "" {
		holder = req.Caller.Address
	}
	if holder == "" {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"holder query parameter is required"}`,
		}, nil
	}

	batches, err := sr.engine.ListBatchesByHolder(req.Ctx, holder)
	if err != nil {
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"holder":  holder,
		"batches": batches,
		"count":   len(batches),
	}), nil
}

// ConfirmReceiptHandler acknowledges physical receipt of a batch
func (sr *ServiceRegistry) ConfirmReceiptHandler(req *Request) (*Response, error) {
	id, ok := idFromPath(req.Path, 2)
	if !ok {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"Invalid batch id"}`,
		}, nil
	}

	var body struct {
		Note     string `json:"note"`
		Location string `json:"location"`
	}
	if req.Body != "" {
		if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
			return &Response{
				StatusCode: http.StatusBadRequest,
				Headers:    defaultHeaders,
				Body:       fmt.Sprintf(`{"error":"Invalid request body: %s"}`, err.Error()),
			}, nil
		}
	}

	batch, err := sr.engine.ConfirmReceipt(req.Ctx, req.Caller, id, body.Note, body.Location)
	if err != nil {
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"message": "Receipt confirmed",
		"batch":   batch,
	}), nil
}

// CreateTransferRequestHandler proposes a custody handoff
func (sr *ServiceRegistry) CreateTransferRequestHandler(req *Request) (*Response, error) {
	var body struct {
		BatchID   uint   `json:"batch_id"`
		ToAddress string `json:"to_address"`
		Leg       string `json:"leg"`
	}

	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Invalid request body: %s"}`, err.Error()),
		}, nil
	}

	if body.BatchID == 0 || body.ToAddress == "" || body.Leg == "" {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"batch_id, to_address and leg are required"}`,
		}, nil
	}

	request, err := sr.engine.CreateTransferRequest(req.Ctx, req.Caller, custody.CreateTransferInput{
		BatchID:   body.BatchID,
		ToAddress: body.ToAddress,
		Leg:       body.Leg,
	})
	if err != nil {
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusCreated, map[string]interface{}{
		"message": "Transfer request created",
		"request": request,
	}), nil
}

// GetTransferRequestHandler returns one transfer request
func (sr *ServiceRegistry) GetTransferRequestHandler(req *Request) (*Response, error) {
	id, ok := idFromPath(req.Path, 2)
	if !ok {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"Invalid request id"}`,
		}, nil
	}

	request, err := sr.engine.GetTransferRequest(req.Ctx, id)
	if err != nil {
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"request": request,
	}), nil
}

// ListTransferRequestsHandler lists requests involving an address
func (sr *ServiceRegistry) ListTransferRequestsHandler(req *Request) (*Response, error) {
	address := req.Query.Get("address")
	if address == "" {
		address = req.Caller.Address
	}
	status := req.Query.Get("status")

	requests, err := sr.engine.ListTransferRequests(req.Ctx, address, status)
	if err != nil {
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	}), nil
}

// ResolveTransferRequestHandler approves or rejects a pending request
func (sr *ServiceRegistry) ResolveTransferRequestHandler(req *Request) (*Response, error) {
	id, ok := idFromPath(req.Path, 2)
	if !ok {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"Invalid request id"}`,
		}, nil
	}

	var body struct {
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Invalid request body: %s"}`, err.Error()),
		}, nil
	}

	result, err := sr.engine.ResolveTransferRequest(req.Ctx, req.Caller, id, custody.Decision(body.Decision))
	if err != nil {
		// The ledger transition commits even when the chain transfer
		// fails; report both sides.
		if custody.KindOf(err) == custody.KindChainError && result != nil {
			return jsonResponse(http.StatusBadGateway, map[string]interface{}{
				"error":   "Transfer approved but on-chain transfer failed",
				"request": result.Request,
				"batch":   result.Batch,
			}), nil
		}
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Transfer request %sd", body.Decision),
		"request": result.Request,
		"batch":   result.Batch,
	}), nil
}

// CancelTransferRequestHandler withdraws a pending request
func (sr *ServiceRegistry) CancelTransferRequestHandler(req *Request) (*Response, error) {
	id, ok := idFromPath(req.Path, 2)
	if !ok {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"Invalid request id"}`,
		}, nil
	}

	request, err := sr.engine.CancelTransferRequest(req.Ctx, req.Caller, id)
	if err != nil {
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"message": "Transfer request cancelled",
		"request": request,
	}), nil
}

// HistoryHandler returns an entity's versioned snapshots
func (sr *ServiceRegistry) HistoryHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 4 {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"Invalid path format"}`,
		}, nil
	}

	var entityType string
	switch parts[2] {
	case "batch":
		entityType = custody.EntityBatch
	case "transfer-request":
		entityType = custody.EntityTransferRequest
	default:
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"entity type must be batch or transfer-request"}`,
		}, nil
	}

	id, ok := idFromPath(req.Path, 3)
	if !ok {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"Invalid entity id"}`,
		}, nil
	}

	history, err := sr.engine.History(req.Ctx, entityType, id)
	if err != nil {
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   id,
		"history":     history,
		"count":       len(history),
	}), nil
}

// SuspiciousActivityHandler returns recent failed actions by actors over
// the failure threshold
func (sr *ServiceRegistry) SuspiciousActivityHandler(req *Request) (*Response, error) {
	entries, err := sr.engine.SuspiciousActivity(req.Ctx)
	if err != nil {
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	}), nil
}
