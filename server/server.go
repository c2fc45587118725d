package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"pharmachain/srvreg"
)

// WebServer handles HTTP requests for the custody service
type WebServer struct {
	httpAddr        string
	server          *http.Server
	serviceRegistry *srvreg.ServiceRegistry
	startTime       time.Time
	nodeID          string
	identity        *Identity
}

// NewWebServer creates a new custody web server
func NewWebServer(httpPort string, serviceRegistry *srvreg.ServiceRegistry, nodeID string, identity *Identity) *WebServer {
	mux := http.NewServeMux()

	ws := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:    ":" + httpPort,
			Handler: RequestID(mux),
		},
		serviceRegistry: serviceRegistry,
		startTime:       time.Now(),
		nodeID:          nodeID,
		identity:        identity,
	}

	// Register routes
	mux.HandleFunc("/", ws.handleRoot)
	mux.HandleFunc("/info", ws.handleInfo)
	mux.HandleFunc("/batches", ws.handleAPI)
	mux.HandleFunc("/batches/", ws.handleAPI)
	mux.HandleFunc("/transfer-requests", ws.handleAPI)
	mux.HandleFunc("/transfer-requests/", ws.handleAPI)
	mux.HandleFunc("/history/", ws.handleAPI)
	mux.HandleFunc("/audit/", ws.handleAPI)

	return ws
}

// Start starts the custody web server
func (ws *WebServer) Start() error {
	log.Printf("🚀 Starting Custody Web Server")
	log.Printf("   Node ID: %s", ws.nodeID)
	log.Printf("   Address: %s", ws.httpAddr)

	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ Custody web server error: %v", err)
		}
	}()

	log.Println("✓ Custody web server started successfully")
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	log.Println("Shutting down custody web server...")
	return ws.server.Shutdown(ctx)
}

// handleRoot shows node information
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(ws.startTime).Round(time.Second)

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)

	html := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <title>Custody Node - %s</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; background: #f5f5f5; }
        .container { background: white; padding: 30px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #2c5aa0; margin-top: 0; }
        .info { margin: 20px 0; }
        .label { font-weight: bold; color: #555; }
        .value { color: #333; margin-left: 10px; }
        .badge { display: inline-block; padding: 4px 12px; border-radius: 12px; font-size: 12px; font-weight: bold; }
        .badge-success { background: #d4edda; color: #155724; }
        .endpoints { margin-top: 30px; }
        .endpoint { background: #f8f9fa; padding: 10px; margin: 8px 0; border-radius: 4px; font-family: monospace; }
        .method { font-weight: bold; color: #007bff; margin-right: 10px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>💊 Batch Custody Node</h1>

        <div class="info">
            <div><span class="label">Node ID:</span><span class="value">%s</span></div>
            <div><span class="label">Status:</span><span class="badge badge-success">Active</span></div>
            <div><span class="label">Uptime:</span><span class="value">%s</span></div>
        </div>

        <div class="endpoints">
            <h3>Available Endpoints:</h3>
            <div class="endpoint"><span class="method">GET</span>/info - Node information</div>
            <div class="endpoint"><span class="method">POST</span>/batches - Register batch and mint token</div>
            <div class="endpoint"><span class="method">GET</span>/batches?holder=addr - List held batches</div>
            <div class="endpoint"><span class="method">GET</span>/batches/:id - Batch with milestones</div>
            <div class="endpoint"><span class="method">POST</span>/batches/:id/confirm-receipt - Confirm physical receipt</div>
            <div class="endpoint"><span class="method">POST</span>/transfer-requests - Propose custody handoff</div>
            <div class="endpoint"><span class="method">PUT</span>/transfer-requests/:id - Approve or reject</div>
            <div class="endpoint"><span class="method">DELETE</span>/transfer-requests/:id - Cancel pending request</div>
            <div class="endpoint"><span class="method">GET</span>/history/:entityType/:id - Versioned snapshots</div>
            <div class="endpoint"><span class="method">GET</span>/audit/suspicious - Flagged failed actions</div>
        </div>
    </div>
</body>
</html>
	`, ws.nodeID, ws.nodeID, uptime)

	w.Write([]byte(html))
}

// handleInfo returns node information as JSON
func (ws *WebServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := &srvreg.Request{
		Ctx:    r.Context(),
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Body:   "",
	}

	response, err := req.GenerateResponse(ws.serviceRegistry)
	if err != nil {
		log.Printf("Error generating response: %v", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeResponse(w, response)
}

// handleAPI handles all authenticated custody endpoints
func (ws *WebServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	caller, err := ws.identity.CallerFromRequest(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnauthorized)
		return
	}

	// Read request body
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		jsonError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Create request object
	req := &srvreg.Request{
		Ctx:    WithCaller(r.Context(), caller),
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Body:   string(bodyBytes),
		Caller: caller,
	}

	// Generate response through service registry
	response, err := req.GenerateResponse(ws.serviceRegistry)
	if err != nil {
		log.Printf("Error generating response: %v", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeResponse(w, response)
}

// writeResponse writes a Response to http.ResponseWriter
func writeResponse(w http.ResponseWriter, resp *srvreg.Response) {
	// Set headers
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	// Set status code
	w.WriteHeader(resp.StatusCode)

	// Write body
	w.Write([]byte(resp.Body))
}

// jsonError writes a JSON error response
func jsonError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]string{
		"error": message,
	}
	json.NewEncoder(w).Encode(errorResp)
}
