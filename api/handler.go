package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/facturaIA/lector-ncf/internal/auth"
	"github.com/facturaIA/lector-ncf/internal/export"
	"github.com/facturaIA/lector-ncf/internal/ledger"
	"github.com/facturaIA/lector-ncf/internal/models"
	"github.com/facturaIA/lector-ncf/internal/ocr"
	"github.com/facturaIA/lector-ncf/internal/services"
	"github.com/facturaIA/lector-ncf/internal/storage"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB
	MaxTextSize   = 1024 * 1024
	Version       = "1.0.0"

	defaultLedgerLimit  = 100
	defaultInvoiceLimit = 50
)

const extractSchema = `{
	"type": "object",
	"required": ["text"],
	"properties": {
		"text": {"type": "string", "maxLength": 200000},
		"ocrConfidence": {"type": "number", "minimum": 0, "maximum": 1},
		"channel": {"type": "string", "maxLength": 64},
		"sourceImage": {"type": "string", "maxLength": 1024}
	},
	"additionalProperties": false
}`

// ImageStore keeps uploaded invoice images.
type ImageStore interface {
	UploadInvoiceImage(ctx context.Context, channel, filename string, reader io.Reader, size int64, contentType string) (string, error)
	GetPresignedURL(ctx context.Context, objectPath string) (string, error)
	DeleteImage(ctx context.Context, objectPath string) error
}

// InvoiceArchive is the stored history of processed invoices.
type InvoiceArchive interface {
	List(ctx context.Context, f export.ListFilter) ([]export.StoredRecord, error)
	MarkReviewed(ctx context.Context, id string) error
	MarkExported(ctx context.Context, id string) error
}

// Deps are the collaborators of the HTTP layer. Only Engine is required.
type Deps struct {
	Engine        *services.Engine
	Ledger        *ledger.Ledger
	Recognizer    ocr.Recognizer
	Images        ImageStore
	Exporter      export.Sink
	Archive       InvoiceArchive
	Auth          *auth.Authenticator
	MinConfidence float64
	Logger        *slog.Logger
}

// Handler handles HTTP requests for invoice processing
type Handler struct {
	engine        *services.Engine
	ledger        *ledger.Ledger
	recognizer    ocr.Recognizer
	images        ImageStore
	exporter      export.Sink
	archive       InvoiceArchive
	auth          *auth.Authenticator
	minConfidence float64
	logger        *slog.Logger
	schema        *jsonschema.Schema
	startTime     time.Time
}

// NewHandler creates a new API handler
func NewHandler(d Deps) (*Handler, error) {
	if d.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extract.json", strings.NewReader(extractSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("extract.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Handler{
		engine:        d.Engine,
		ledger:        d.Ledger,
		recognizer:    d.Recognizer,
		images:        d.Images,
		exporter:      d.Exporter,
		archive:       d.Archive,
		auth:          d.Auth,
		minConfidence: d.MinConfidence,
		logger:        d.Logger,
		schema:        schema,
		startTime:     time.Now(),
	}, nil
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Main endpoints
	router.HandleFunc("/api/extract", h.Extract).Methods("POST")
	router.HandleFunc("/api/process-invoice", h.ProcessInvoice).Methods("POST")

	// Ledger
	router.HandleFunc("/api/ledger", h.ListLedger).Methods("GET")
	router.HandleFunc("/api/ledger/{ncf}", h.GetLedgerEntry).Methods("GET")

	// Invoice archive
	router.HandleFunc("/api/invoices", h.ListInvoices).Methods("GET")
	router.HandleFunc("/api/invoices/{id}/revisada", h.MarkInvoiceReviewed).Methods("POST")
	router.HandleFunc("/api/invoices/{id}/exportada", h.MarkInvoiceExported).Methods("POST")

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	if h.auth != nil {
		router.Use(h.auth.JWTMiddleware)
	}
	return router
}

// ProcessResponse is returned by both processing endpoints.
type ProcessResponse struct {
	Success       bool              `json:"success"`
	Invoice       *models.Invoice   `json:"invoice,omitempty"`
	Summary       *services.Summary `json:"summary,omitempty"`
	Exported      bool              `json:"exported"`
	ImageURL      string            `json:"imageUrl,omitempty"`
	Error         string            `json:"error,omitempty"`
	Reply         string            `json:"reply,omitempty"`
	OCRDuration   float64           `json:"ocrDuration,omitempty"`
	TotalDuration float64           `json:"totalDuration"`
}

type extractRequest struct {
	Text          string   `json:"text"`
	OCRConfidence *float64 `json:"ocrConfidence"`
	Channel       string   `json:"channel"`
	SourceImage   string   `json:"sourceImage"`
}

// Extract runs the engine over already-recognized text.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	startTime := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxTextSize))
	if err != nil {
		h.sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.schema.Validate(doc); err != nil {
		h.sendError(w, http.StatusBadRequest, "request does not match schema: "+err.Error())
		return
	}

	var req extractRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	confidence := 1.0
	if req.OCRConfidence != nil {
		confidence = *req.OCRConfidence
	}
	channel := req.Channel
	if channel == "" {
		channel = "api"
	}

	inv, err := h.process(r.Context(), w, models.ProcessRequest{
		Text:          req.Text,
		OCRConfidence: confidence,
		Channel:       channel,
		SourceImage:   req.SourceImage,
	})
	if err != nil {
		return
	}

	h.respond(r.Context(), w, inv, "", 0, startTime)
}

// ProcessInvoice handles an uploaded invoice image: store, recognize, extract, export.
func (h *Handler) ProcessInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	startTime := time.Now()

	if h.recognizer == nil {
		h.sendError(w, http.StatusServiceUnavailable, "ocr not configured")
		return
	}

	// Parse multipart form
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "File too large or invalid form data")
		return
	}

	// Get file - accept both "file" and "image" field names
	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "No file provided (use 'file' or 'image' field)")
			return
		}
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	channel := r.FormValue("channel")
	if channel == "" {
		channel = "api"
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	filename := fmt.Sprintf("%s_%s%s",
		time.Now().Format("20060102_150405"),
		uuid.New().String()[:8],
		storage.GetFileExtension(contentType),
	)

	// Upload to MinIO (if configured)
	sourceImage := header.Filename
	storedPath := ""
	if h.images != nil {
		path, err := h.images.UploadInvoiceImage(ctx, channel, filename, bytes.NewReader(imageData), int64(len(imageData)), contentType)
		if err != nil {
			// image storage is optional
			h.logger.Warn("storage.upload.failed", "filename", filename, "error", err)
		} else {
			sourceImage = path
			storedPath = path
		}
	}

	ocrStart := time.Now()
	result, err := h.recognizer.Recognize(ctx, imageData, contentType)
	ocrDuration := time.Since(ocrStart).Seconds()
	if err != nil {
		h.logger.Warn("ocr.failed", "recognizer", h.recognizer.Name(), "error", err)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(ProcessResponse{
			Success:       false,
			Error:         "OCR failed: " + err.Error(),
			Reply:         services.ErrorReply(""),
			OCRDuration:   ocrDuration,
			TotalDuration: time.Since(startTime).Seconds(),
		})
		return
	}

	inv, err := h.process(ctx, w, models.ProcessRequest{
		Text:          result.Text,
		OCRConfidence: result.Confidence,
		Channel:       channel,
		SourceImage:   sourceImage,
	})
	if errors.Is(err, services.ErrInvalidInput) && storedPath != "" {
		// no invoice refers to this image
		if err := h.images.DeleteImage(ctx, storedPath); err != nil {
			h.logger.Warn("storage.delete.failed", "path", storedPath, "error", err)
		}
	}
	if err != nil {
		return
	}

	imageURL := ""
	if storedPath != "" {
		if imageURL, err = h.images.GetPresignedURL(ctx, storedPath); err != nil {
			h.logger.Warn("storage.presign.failed", "path", storedPath, "error", err)
		}
	}

	h.respond(ctx, w, inv, imageURL, ocrDuration, startTime)
}

// process runs the engine and writes the error response when it fails.
func (h *Handler) process(ctx context.Context, w http.ResponseWriter, req models.ProcessRequest) (*models.Invoice, error) {
	inv, err := h.engine.Process(ctx, req)
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		h.sendError(w, http.StatusBadRequest, err.Error())
		return nil, err
	case err != nil:
		h.logger.Error("invoice.process.failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to process invoice")
		return nil, err
	}
	return inv, nil
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, inv *models.Invoice, imageURL string, ocrDuration float64, startTime time.Time) {
	exported := false
	if h.exporter != nil {
		if err := h.exporter.Append(ctx, inv); err != nil {
			h.logger.Warn("export.failed", "invoice_id", inv.ID, "error", err)
		} else {
			exported = true
		}
	}

	summary := services.Summarize(inv, h.minConfidence)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ProcessResponse{
		Success:       summary.Accepted,
		Invoice:       inv,
		Summary:       &summary,
		Exported:      exported,
		ImageURL:      imageURL,
		OCRDuration:   ocrDuration,
		TotalDuration: time.Since(startTime).Seconds(),
	})
}

// ListLedger returns the most recent ledger entries. ?limit=N, default 100, 0 for all.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.ledger == nil {
		h.sendError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}

	limit := defaultLedgerLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.ledger.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("ledger.list.failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to list ledger")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"entries": entries,
		"count":   len(entries),
	})
}

// GetLedgerEntry returns the ledger entry for one NCF.
func (h *Handler) GetLedgerEntry(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.ledger == nil {
		h.sendError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}

	ncf := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["ncf"]))
	entry, err := h.ledger.Get(r.Context(), ncf)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		h.sendError(w, http.StatusNotFound, "NCF no registrado: "+ncf)
		return
	case err != nil:
		h.logger.Error("ledger.get.failed", "ncf", ncf, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"entry":   entry,
	})
}

// ListInvoices returns archived invoices, newest first.
// ?empresa=emp_<rnc>, ?pendientes=true for unreviewed only, ?limit=N (default 50, 0 for all).
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.archive == nil {
		h.sendError(w, http.StatusServiceUnavailable, "invoice archive not configured")
		return
	}

	q := r.URL.Query()
	filter := export.ListFilter{EmpresaID: q.Get("empresa"), Limit: defaultInvoiceLimit}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("pendientes"); v != "" {
		pending, err := strconv.ParseBool(v)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid pendientes")
			return
		}
		filter.PendingOnly = pending
	}

	records, err := h.archive.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("invoices.list.failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to list invoices")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"facturas": records,
		"count":    len(records),
	})
}

// MarkInvoiceReviewed flags an archived invoice as reviewed.
func (h *Handler) MarkInvoiceReviewed(w http.ResponseWriter, r *http.Request) {
	h.markInvoice(w, r, "revisada", func(ctx context.Context, id string) error {
		return h.archive.MarkReviewed(ctx, id)
	})
}

// MarkInvoiceExported flags an archived invoice as exported.
func (h *Handler) MarkInvoiceExported(w http.ResponseWriter, r *http.Request) {
	h.markInvoice(w, r, "exportada", func(ctx context.Context, id string) error {
		return h.archive.MarkExported(ctx, id)
	})
}

func (h *Handler) markInvoice(w http.ResponseWriter, r *http.Request, state string, mark func(context.Context, string) error) {
	w.Header().Set("Content-Type", "application/json")

	if h.archive == nil {
		h.sendError(w, http.StatusServiceUnavailable, "invoice archive not configured")
		return
	}

	id := mux.Vars(r)["id"]
	err := mark(r.Context(), id)
	switch {
	case errors.Is(err, export.ErrInvoiceNotFound):
		h.sendError(w, http.StatusNotFound, "factura no encontrada: "+id)
		return
	case err != nil:
		h.logger.Error("invoices.mark.failed", "id", id, "state", state, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to update invoice")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"id":      id,
		state:     true,
	})
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Memory    MemoryStats   `json:"memory"`
	Ledger    ServiceStatus `json:"ledger"`
	Storage   ServiceStatus `json:"storage"`
	OCR       ServiceStatus `json:"ocr"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available     bool   `json:"available"`
	Version       string `json:"version,omitempty"`
	Error         string `json:"error,omitempty"`
	Preprocessing *bool  `json:"preprocessing,omitempty"`
}

// Health endpoint
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// Memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	ledgerStatus := h.checkLedger(r.Context())

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Ledger:  ledgerStatus,
		Storage: h.checkStorage(),
		OCR:     h.checkOCR(),
	}

	// The ledger is the only critical dependency
	if !ledgerStatus.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// checkLedger runs a lookup against the store
func (h *Handler) checkLedger(ctx context.Context) ServiceStatus {
	if h.ledger == nil {
		return ServiceStatus{Available: false, Error: "ledger not configured"}
	}
	if _, err := h.ledger.Contains(ctx, "HEALTHCHECK"); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true}
}

func (h *Handler) checkStorage() ServiceStatus {
	if h.images == nil {
		return ServiceStatus{Available: false, Error: "storage client not initialized"}
	}
	return ServiceStatus{Available: true, Version: "MinIO S3"}
}

func (h *Handler) checkOCR() ServiceStatus {
	if h.recognizer == nil {
		return ServiceStatus{Available: false, Error: "ocr not configured"}
	}
	status := ServiceStatus{Available: true, Version: h.recognizer.Name()}
	if p, ok := h.recognizer.(interface{ PreprocessorAvailable() bool }); ok {
		available := p.PreprocessorAvailable()
		status.Preprocessing = &available
		if !available {
			status.Error = "ImageMagick not found, images are sent unprocessed"
		}
	}
	return status
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
