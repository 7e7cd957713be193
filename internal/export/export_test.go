package export_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/facturaIA/lector-ncf/internal/export"
	"github.com/facturaIA/lector-ncf/internal/models"
)

func present[T any](v T) models.ResolvedField[T] {
	return models.ResolvedField[T]{Value: v, Present: true, Confidence: 0.9}
}

func invoice(id, ncf string) *models.Invoice {
	return &models.Invoice{
		ID:           id,
		NCF:          present(ncf),
		TipoNCF:      ncf[:3],
		RNC:          present("123456789"),
		BusinessName: present("FERRETERIA EL PROGRESO SRL"),
		IssueDate:    present(time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)),
		Amounts: models.MonetaryAmounts{
			Subtotal: present(decimal.RequireFromString("1271.19")),
			Tax:      present(decimal.RequireFromString("228.81")),
			Total:    present(decimal.RequireFromString("1500")),
			Currency: "DOP",
		},
		ProcessedAt: time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC),
		Confidence:  0.81234,
		Outcome:     models.ValidationOutcome{Status: models.StatusAccepted},
		Provenance:  models.Provenance{Channel: "whatsapp", SourceImage: "facturas/whatsapp/2026/02/a.jpg", OCRConfidence: 0.9},
	}
}

func partial(id string) *models.Invoice {
	return &models.Invoice{
		ID:          id,
		ProcessedAt: time.Date(2026, 2, 11, 10, 0, 0, 0, time.UTC),
		Amounts:     models.MonetaryAmounts{Currency: "DOP"},
		Outcome: models.ValidationOutcome{
			Status: models.StatusRejected,
			Flags: []models.Flag{
				{Code: models.FlagNCFNotFound, Severity: models.SeverityReject},
				{Code: models.FlagRNCNotFound, Severity: models.SeverityReject},
			},
		},
	}
}

func TestRow(t *testing.T) {
	row := export.Row(invoice("a", "B0100000123"))
	require.Len(t, row, len(export.Columns))
	assert.Equal(t, []string{
		"2026-02-11 09:30:00", "B0100000123", "123456789", "FERRETERIA EL PROGRESO SRL",
		"2026-02-10", "1271.19", "228.81", "1500.00", "facturas/whatsapp/2026/02/a.jpg",
		"B01", "ACCEPTED", "0.8123", "",
	}, row)

	row = export.Row(partial("b"))
	assert.Equal(t, "", row[1])
	assert.Equal(t, "", row[7])
	assert.Equal(t, "NCF_NOT_FOUND|RNC_NOT_FOUND", row[12])
}

func TestCSVWriterHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", export.DefaultCSVName)
	w := export.NewCSVWriter(path, 0, nil)
	ctx := context.Background()

	require.NoError(t, w.Append(ctx, invoice("a", "B0100000123")))
	require.NoError(t, w.Append(ctx, partial("b")))

	// a second writer on the same file keeps appending
	require.NoError(t, export.NewCSVWriter(path, 0, nil).Append(ctx, invoice("c", "E310000000001")))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 4)
	assert.Equal(t, export.Columns, records[0])
	assert.Equal(t, "B0100000123", records[1][1])
	assert.Equal(t, "", records[2][1])
	assert.Equal(t, "E310000000001", records[3][1])
}

func TestCSVWriterDelimiter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.csv")
	require.NoError(t, export.NewCSVWriter(path, ';', nil).Append(context.Background(), invoice("a", "B0100000123")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "fecha_procesamiento;ncf;rnc;"))
}

func TestXLSX(t *testing.T) {
	data, err := export.XLSX([]*models.Invoice{invoice("a", "B0100000123"), partial("b")})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "facturas.xlsx")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, export.Columns, rows[0])
	assert.Equal(t, "B0100000123", rows[1][1])
	assert.Equal(t, "1500.00", rows[1][7])
}

func TestXLSXWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facturas.xlsx")
	w := export.NewXLSXWriter(path, nil)
	ctx := context.Background()

	require.NoError(t, w.Append(ctx, invoice("a", "B0100000123")))
	require.NoError(t, w.AppendAll([]*models.Invoice{invoice("b", "B0200000001"), invoice("c", "B0100000999")}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "B0100000123", rows[1][1])
	assert.Equal(t, "B0200000001", rows[2][1])
	assert.Equal(t, "B0100000999", rows[3][1])
}

func TestJSON(t *testing.T) {
	data, err := export.JSON([]*models.Invoice{invoice("a", "B0100000123"), partial("b")})
	require.NoError(t, err)

	var raw map[string][]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw["facturas"], 2)

	first := raw["facturas"][0]
	assert.Equal(t, "B0100000123", first["ncf"])
	assert.Equal(t, "2026-02-10", first["fecha_emision"])
	assert.Equal(t, "2026-02-11T09:30:00Z", first["fecha_procesamiento"])
	montos := first["montos"].(map[string]any)
	assert.Equal(t, "1500", montos["total"])
	assert.Equal(t, "DOP", montos["moneda"])
	metadata := first["metadata"].(map[string]any)
	assert.Equal(t, "whatsapp", metadata["origen"])

	second := raw["facturas"][1]
	assert.Nil(t, second["ncf"])
	assert.Nil(t, second["montos"].(map[string]any)["total"])
	assert.Equal(t, []any{"NCF_NOT_FOUND", "RNC_NOT_FOUND"}, second["alertas"])
}

func TestJSONWriterDirStore(t *testing.T) {
	dir := t.TempDir()
	w := export.NewJSONWriter(export.DirStore{Dir: dir}, "", nil)
	ctx := context.Background()

	require.NoError(t, w.Append(ctx, invoice("a", "B0100000123")))
	require.NoError(t, w.Append(ctx, invoice("b", "B0100000124")))

	data, err := os.ReadFile(filepath.Join(dir, export.DefaultJSONName))
	require.NoError(t, err)

	var doc export.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Facturas, 2)
	assert.Equal(t, "a", doc.Facturas[0].ID)
	assert.Equal(t, "B0100000124", *doc.Facturas[1].NCF)
}

type memDocs struct {
	docs map[string][]byte
	err  error
}

func (m *memDocs) GetDocument(_ context.Context, name string) ([]byte, error) {
	return m.docs[name], nil
}

func (m *memDocs) PutDocument(_ context.Context, name string, data []byte, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.docs[name] = data
	return "bucket/exports/" + name, nil
}

func TestJSONWriterCustomStore(t *testing.T) {
	docs := &memDocs{docs: map[string][]byte{}}
	w := export.NewJSONWriter(docs, "lote.json", nil)

	require.NoError(t, w.Append(context.Background(), partial("x")))
	assert.Contains(t, string(docs.docs["lote.json"]), `"facturas"`)
}

func TestMulti(t *testing.T) {
	docs := &memDocs{docs: map[string][]byte{}, err: errors.New("bucket offline")}
	path := filepath.Join(t.TempDir(), "h.csv")
	m := export.NewMulti(nil, export.NewJSONWriter(docs, "", nil), nil, export.NewCSVWriter(path, 0, nil))

	assert.Equal(t, 2, m.Len())
	err := m.Append(context.Background(), invoice("a", "B0100000123"))
	assert.ErrorContains(t, err, "bucket offline")

	// the csv sink still ran
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}
