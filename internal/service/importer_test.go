package service_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/observability"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/service"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func newImportService(t *testing.T) (*service.ImportService, *service.LedgerService) {
	t.Helper()
	ledger := newLedgerService(newFakeKV())
	return service.NewImportService(ledger, observability.NewMetrics(), zap.NewNop()), ledger
}

func buildXLSX(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	return &buf
}

// --- Spreadsheet import ---

func TestImportSpreadsheet_HappyPath(t *testing.T) {
	svc, ledger := newImportService(t)
	buf := buildXLSX(t, [][]any{
		{"Data", "Descrizione", "Categoria", "Importo"},
		{"2025-06-01", "Supermercato", "Spesa", "45,30"},
		{"02/06/2025", "Benzina", "Auto", "-60"},
	})

	result, err := svc.ImportSpreadsheet(buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Imported != 2 || result.Skipped != 0 {
		t.Fatalf("expected 2 imported / 0 skipped, got %d / %d", result.Imported, result.Skipped)
	}
	if result.BatchID == "" {
		t.Error("expected batch id")
	}

	txs := ledger.Load().Transactions
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	first := txs[0]
	if first.Str("descrizione") != "Supermercato" {
		t.Errorf("expected description from column, got '%s'", first.Str("descrizione"))
	}
	if first.Float("importo") != 45.3 {
		t.Errorf("expected comma decimal parsed, got %f", first.Float("importo"))
	}
	if first.Str("tipo") != domain.KindExpense {
		t.Errorf("expected tipo uscita, got '%s'", first.Str("tipo"))
	}
	if first.Str("persona") != "Comune" {
		t.Errorf("expected persona Comune, got '%s'", first.Str("persona"))
	}
	// Negative bank amounts become positive expenses.
	if txs[1].Float("importo") != 60.0 {
		t.Errorf("expected abs amount 60, got %f", txs[1].Float("importo"))
	}
	if txs[1].Str("data") != "2025-06-02" {
		t.Errorf("expected normalized date, got '%s'", txs[1].Str("data"))
	}
}

func TestImportSpreadsheet_MissingAmountColumn(t *testing.T) {
	svc, _ := newImportService(t)
	buf := buildXLSX(t, [][]any{
		{"Data", "Descrizione"},
		{"2025-06-01", "Supermercato"},
	})

	_, err := svc.ImportSpreadsheet(buf)
	var importErr *domain.ErrImport
	if !errors.As(err, &importErr) {
		t.Fatalf("expected import error, got %v", err)
	}
}

func TestImportSpreadsheet_SkipsBadRows(t *testing.T) {
	svc, ledger := newImportService(t)
	buf := buildXLSX(t, [][]any{
		{"DATA OPERAZIONE", "EUR"},
		{"2025-06-01", "100"},
		{"2025-06-02", "boh"},
		{"2025-06-03", "0"},
		{"2025-06-04", "25.5"},
	})

	result, err := svc.ImportSpreadsheet(buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Imported != 2 {
		t.Errorf("expected 2 imported, got %d", result.Imported)
	}
	if result.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", result.Skipped)
	}
	// Without a description column the category fallback applies.
	txs := ledger.Load().Transactions
	if txs[0].Str("descrizione") != domain.CategoryOther {
		t.Errorf("expected fallback description, got '%s'", txs[0].Str("descrizione"))
	}
}

func TestImportSpreadsheet_NotASpreadsheet(t *testing.T) {
	svc, _ := newImportService(t)

	_, err := svc.ImportSpreadsheet(strings.NewReader("this is not xlsx"))
	var importErr *domain.ErrImport
	if !errors.As(err, &importErr) {
		t.Fatalf("expected import error, got %v", err)
	}
}

// --- JSON backup ---

func TestImportJSON_MalformedRejectedWithoutStateChange(t *testing.T) {
	svc, ledger := newImportService(t)
	ledger.Add(domain.CollectionIncome, domain.Record{"descrizione": "Stipendio", "importo": 2000.0})

	_, err := svc.ImportJSON([]byte("{broken"))
	var importErr *domain.ErrImport
	if !errors.As(err, &importErr) {
		t.Fatalf("expected import error, got %v", err)
	}
	if len(ledger.Load().Income) != 1 {
		t.Error("failed import must leave state untouched")
	}
}

func TestImportJSON_ReplacesLedgerAndMergesSettings(t *testing.T) {
	svc, ledger := newImportService(t)
	ledger.SaveSettings(domain.Settings{domain.SettingCCUser1: "999"})

	backup := []byte(`{"settings":{"user1":"Marco"},"costifissi":[{"id":"c1","nome":"Affitto","importo":800}]}`)
	l, err := svc.ImportJSON(backup)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if l.Settings[domain.SettingUser1] != "Marco" {
		t.Errorf("expected imported user1, got '%s'", l.Settings[domain.SettingUser1])
	}
	// Settings merge over defaults, not over the pre-import state.
	if l.Settings[domain.SettingCCUser1] == "999" {
		t.Error("imported settings must not inherit pre-import values")
	}
	if len(l.FixedCosts) != 1 {
		t.Fatalf("expected 1 fixed cost, got %d", len(l.FixedCosts))
	}
	if got := ledger.Load(); len(got.Income) != 0 {
		t.Error("import is a full replacement, prior collections must be gone")
	}
}

func TestExportImportJSON_RoundTrip(t *testing.T) {
	svc, ledger := newImportService(t)
	ledger.Add(domain.CollectionTransactions, domain.Record{"descrizione": "Spesa", "importo": 42.5, "tipo": "uscita"})

	var buf bytes.Buffer
	if err := svc.ExportJSON(&buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}

	l, err := svc.ImportJSON(buf.Bytes())
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if len(l.Transactions) != 1 {
		t.Fatalf("expected 1 transaction after round trip, got %d", len(l.Transactions))
	}
}

// --- CSV export ---

func TestExportCSV_BOMAndColumns(t *testing.T) {
	svc, ledger := newImportService(t)
	ledger.Add(domain.CollectionTransactions, domain.Record{
		"descrizione": "Supermercato",
		"importo":     45.3,
		"tipo":        "uscita",
		"categoria":   "Spesa",
		"persona":     "Comune",
		"data":        "2025-06-01",
	})

	var buf bytes.Buffer
	if err := svc.ExportCSV(&buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	out := buf.Bytes()
	if !bytes.HasPrefix(out, []byte{0xEF, 0xBB, 0xBF}) {
		t.Error("expected UTF-8 BOM prefix")
	}

	lines := strings.Split(strings.TrimSpace(string(out[3:])), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if lines[0] != "Data,Descrizione,Categoria,Persona,Tipo,Importo,Note" {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "45.30") {
		t.Errorf("expected formatted amount in row: %s", lines[1])
	}
	if !strings.Contains(lines[1], "Supermercato") {
		t.Errorf("expected description in row: %s", lines[1])
	}
}
