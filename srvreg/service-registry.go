package srvreg

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"pharmachain/custody"
)

// Request represents an incoming HTTP request
type Request struct {
	Ctx    context.Context
	Method string
	Path   string
	Query  url.Values
	Body   string
	Caller custody.Caller
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// HandlerFunc is a function that handles a request
type HandlerFunc func(*Request) (*Response, error)

// ServiceRegistry manages all service handlers
type ServiceRegistry struct {
	handlers map[string]map[string]HandlerFunc
	engine   *custody.Engine
	nodeID   string
}

var defaultHeaders = map[string]string{
	"Content-Type": "application/json",
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(engine *custody.Engine, nodeID string) *ServiceRegistry {
	return &ServiceRegistry{
		handlers: make(map[string]map[string]HandlerFunc),
		engine:   engine,
		nodeID:   nodeID,
	}
}

// RegisterHandler registers a handler for a specific method and path
func (sr *ServiceRegistry) RegisterHandler(method, path string, handler HandlerFunc) {
	if sr.handlers[method] == nil {
		sr.handlers[method] = make(map[string]HandlerFunc)
	}
	sr.handlers[method][path] = handler
	log.Printf("✓ Registered handler: %s %s", method, path)
}

// GetHandlerForPath finds the handler for a given method and path
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (HandlerFunc, bool) {
	methodHandlers, exists := sr.handlers[method]
	if !exists {
		return nil, false
	}

	// Try exact match first
	if handler, exists := methodHandlers[path]; exists {
		return handler, true
	}

	// Try pattern matching for paths with parameters
	for pattern, handler := range methodHandlers {
		if matchPath(pattern, path) {
			return handler, true
		}
	}

	return nil, false
}

// matchPath checks if a path matches a pattern with parameters
// It supports patterns like "/batches/:id" matching "/batches/123"
func matchPath(pattern, path string) bool {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return false
	}

	for i := 0; i < len(patternParts); i++ {
		if strings.HasPrefix(patternParts[i], ":") {
			// This is a parameter, it matches anything
			continue
		}
		if patternParts[i] != pathParts[i] {
			return false
		}
	}

	return true
}

// RegisterDefaultServices sets up all default endpoints
func (sr *ServiceRegistry) RegisterDefaultServices() {
	log.Println("Registering custody services...")

	// Batch endpoints
	sr.RegisterHandler("POST", "/batches", sr.RegisterBatchHandler)
	sr.RegisterHandler("GET", "/batches", sr.ListBatchesHandler)
	sr.RegisterHandler("GET", "/batches/:id", sr.GetBatchHandler)
	sr.RegisterHandler("POST", "/batches/:id/confirm-receipt", sr.ConfirmReceiptHandler)

	// Transfer request endpoints
	sr.RegisterHandler("POST", "/transfer-requests", sr.CreateTransferRequestHandler)
	sr.RegisterHandler("GET", "/transfer-requests", sr.ListTransferRequestsHandler)
	sr.RegisterHandler("GET", "/transfer-requests/:id", sr.GetTransferRequestHandler)
	sr.RegisterHandler("PUT", "/transfer-requests/:id", sr.ResolveTransferRequestHandler)
	sr.RegisterHandler("DELETE", "/transfer-requests/:id", sr.CancelTransferRequestHandler)

	// Audit endpoints
	sr.RegisterHandler("GET", "/history/:entityType/:id", sr.HistoryHandler)
	sr.RegisterHandler("GET", "/audit/suspicious", sr.SuspiciousActivityHandler)

	// Info endpoints
	sr.RegisterHandler("GET", "/info", sr.InfoHandler)

	log.Println("✓ All services registered")
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, found := services.GetHandlerForPath(req.Method, req.Path)

	if !found {
		return &Response{
			StatusCode: 404,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Service not found for %s %s"}`, req.Method, req.Path),
		}, nil
	}

	response, err := handler(req)
	return response, err
}

// statusForError maps a custody failure kind to an HTTP status code.
func statusForError(err error) int {
	switch custody.KindOf(err) {
	case custody.KindNotFound:
		return http.StatusNotFound
	case custody.KindUnauthorized:
		return http.StatusForbidden
	case custody.KindInvalidState:
		return http.StatusBadRequest
	case custody.KindConflict:
		return http.StatusConflict
	case custody.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case custody.KindChainError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
