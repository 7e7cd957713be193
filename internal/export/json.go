package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/lector-ncf/internal/models"
)

// DefaultJSONName is the document the JSON writer maintains.
const DefaultJSONName = "facturas.json"

// Document is the exported JSON shape: {"facturas": [...]}.
type Document struct {
	Facturas []Record `json:"facturas"`
}

// Record is one invoice in a Document. Absent fields are null.
type Record struct {
	ID                 string   `json:"id"`
	FechaProcesamiento string   `json:"fecha_procesamiento"`
	NCF                *string  `json:"ncf"`
	TipoNCF            string   `json:"tipo_ncf,omitempty"`
	RNC                *string  `json:"rnc"`
	RazonSocial        *string  `json:"razon_social"`
	FechaEmision       *string  `json:"fecha_emision"`
	Montos             Montos   `json:"montos"`
	Metadata           Metadata `json:"metadata"`
	Estado             string   `json:"estado"`
	Confianza          float64  `json:"confianza"`
	Alertas            []string `json:"alertas"`
}

// Montos holds the amounts of a Record.
type Montos struct {
	Subtotal *decimal.Decimal `json:"subtotal"`
	ITBIS    *decimal.Decimal `json:"itbis"`
	Total    *decimal.Decimal `json:"total"`
	Moneda   string           `json:"moneda"`
}

// Metadata holds the provenance of a Record.
type Metadata struct {
	ImagenOriginal string  `json:"imagen_original,omitempty"`
	ConfianzaOCR   float64 `json:"confianza_ocr"`
	Origen         string  `json:"origen"`
}

// NewRecord converts an invoice.
func NewRecord(inv *models.Invoice) Record {
	r := Record{
		ID:                 inv.ID,
		FechaProcesamiento: inv.ProcessedAt.Format(time.RFC3339),
		NCF:                ptr(inv.NCF.Present, inv.NCF.Value),
		TipoNCF:            inv.TipoNCF,
		RNC:                ptr(inv.RNC.Present, inv.RNC.Value),
		RazonSocial:        ptr(inv.BusinessName.Present, inv.BusinessName.Value),
		FechaEmision:       ptr(inv.IssueDate.Present, inv.IssueDate.Value.Format(DateLayout)),
		Montos: Montos{
			Subtotal: ptr(inv.Amounts.Subtotal.Present, inv.Amounts.Subtotal.Value),
			ITBIS:    ptr(inv.Amounts.Tax.Present, inv.Amounts.Tax.Value),
			Total:    ptr(inv.Amounts.Total.Present, inv.Amounts.Total.Value),
			Moneda:   inv.Amounts.Currency,
		},
		Metadata: Metadata{
			ImagenOriginal: inv.Provenance.SourceImage,
			ConfianzaOCR:   inv.Provenance.OCRConfidence,
			Origen:         inv.Provenance.Channel,
		},
		Estado:    string(inv.Outcome.Status),
		Confianza: inv.Confidence,
		Alertas:   []string{},
	}
	for _, c := range inv.Outcome.Codes() {
		r.Alertas = append(r.Alertas, string(c))
	}
	return r
}

func ptr[T any](ok bool, v T) *T {
	if !ok {
		return nil
	}
	return &v
}

// JSON returns an indented Document for invs.
func JSON(invs []*models.Invoice) ([]byte, error) {
	doc := Document{Facturas: make([]Record, 0, len(invs))}
	for _, inv := range invs {
		doc.Facturas = append(doc.Facturas, NewRecord(inv))
	}
	return json.MarshalIndent(doc, "", "  ")
}

// DocumentStore reads and replaces named documents. GetDocument returns
// (nil, nil) when the document does not exist yet.
type DocumentStore interface {
	GetDocument(ctx context.Context, name string) ([]byte, error)
	PutDocument(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// DirStore keeps documents as files in a local directory.
type DirStore struct {
	Dir string
}

func (d DirStore) GetDocument(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (d DirStore) PutDocument(_ context.Context, name string, data []byte, _ string) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(d.Dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("replace document: %w", err)
	}
	return path, nil
}

// JSONWriter keeps a growing Document in a DocumentStore.
type JSONWriter struct {
	store  DocumentStore
	name   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewJSONWriter creates a writer. An empty name means DefaultJSONName.
func NewJSONWriter(store DocumentStore, name string, logger *slog.Logger) *JSONWriter {
	if name == "" {
		name = DefaultJSONName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONWriter{store: store, name: name, logger: logger}
}

func (w *JSONWriter) Append(ctx context.Context, inv *models.Invoice) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var doc Document
	data, err := w.store.GetDocument(ctx, w.name)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.name, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode %s: %w", w.name, err)
		}
	}
	doc.Facturas = append(doc.Facturas, NewRecord(inv))

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", w.name, err)
	}
	location, err := w.store.PutDocument(ctx, w.name, out, "application/json")
	if err != nil {
		return err
	}

	w.logger.Info("export.json.ok", "location", location, "facturas", len(doc.Facturas))
	return nil
}
