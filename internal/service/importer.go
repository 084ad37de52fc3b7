package service

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/observability"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ImportService handles backup export/import and best-effort spreadsheet
// ingestion of bank transaction exports.
type ImportService struct {
	ledger  *LedgerService
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewImportService(ledger *LedgerService, metrics *observability.Metrics, logger *zap.Logger) *ImportService {
	return &ImportService{ledger: ledger, metrics: metrics, logger: logger}
}

// ExportJSON writes the current snapshot as an indented JSON backup,
// shaped exactly like the ledger itself.
func (s *ImportService) ExportJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.ledger.Load())
}

// ImportJSON replaces the ledger with a parsed backup. Parse-then-commit:
// a malformed document is rejected with no state change. Settings are
// merged onto defaults exactly like the remote inbound path, not onto the
// current local settings.
func (s *ImportService) ImportJSON(data []byte) (*domain.Ledger, error) {
	var p domain.Ledger
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &domain.ErrImport{Reason: "file di backup non valido"}
	}

	l := &domain.Ledger{
		Settings:     domain.DefaultSettings().Merge(p.Settings),
		FixedCosts:   orEmptyRecords(p.FixedCosts),
		Loans:        orEmptyRecords(p.Loans),
		Income:       orEmptyRecords(p.Income),
		Transactions: orEmptyRecords(p.Transactions),
	}

	s.logger.Info("backup imported",
		zap.Int(domain.CollectionFixedCosts, len(l.FixedCosts)),
		zap.Int(domain.CollectionLoans, len(l.Loans)),
		zap.Int(domain.CollectionIncome, len(l.Income)),
		zap.Int(domain.CollectionTransactions, len(l.Transactions)),
	)
	return s.ledger.Commit(l), nil
}

// ExportCSV writes all transactions as CSV, BOM-prefixed so spreadsheet
// applications detect UTF-8.
func (s *ImportService) ExportCSV(w io.Writer) error {
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Data", "Descrizione", "Categoria", "Persona", "Tipo", "Importo", "Note"}); err != nil {
		return err
	}

	for _, t := range s.ledger.Load().Transactions {
		row := []string{
			t.Str(domain.FieldDate),
			t.Str(domain.FieldDescription),
			t.Str(domain.FieldCategory),
			t.Str(domain.FieldPerson),
			t.Str(domain.FieldKind),
			strconv.FormatFloat(t.Float(domain.FieldAmount), 'f', 2, 64),
			t.Str(domain.FieldNote),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Candidate header names per field, matched case-insensitively against
// trimmed column headers. The lists come from the bank export formats the
// household actually receives.
var (
	amountColumns = []string{"EUR", "IMPORTO", "AMOUNT", "VALORE"}
	categoryCols  = []string{"CATEGORIA", "CATEGORY", "CAT"}
	descCols      = []string{"DESCRIZIONE", "DESCRIPTION", "DESC", "NOME"}
	dateCols      = []string{
		"DATA OPERAZIONE", "DATAOPERAZIONE", "DATA", "DATE",
		"DATA VALUTA", "DATAVALUTA", "DATA CONTABILE", "DATACONTABILE",
	}
)

// ImportSpreadsheet ingests the first sheet of an xlsx bank export as
// expense transactions. Column detection is best-effort; the amount
// column is the only hard requirement. Rows are validated independently:
// bad rows are skipped and counted, good rows commit one by one, so a
// bad row never rejects the rest of the file.
func (s *ImportService) ImportSpreadsheet(r io.Reader) (*domain.ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &domain.ErrImport{Reason: "file Excel non leggibile"}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &domain.ErrImport{Reason: "file Excel vuoto"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &domain.ErrImport{Reason: "file Excel non leggibile"}
	}
	if len(rows) < 2 {
		return nil, &domain.ErrImport{Reason: "file Excel vuoto"}
	}

	header := rows[0]
	colAmount := findColumn(header, amountColumns)
	if colAmount < 0 {
		return nil, &domain.ErrImport{Reason: "colonna importo (EUR) non trovata nel file"}
	}
	colCategory := findColumn(header, categoryCols)
	colDesc := findColumn(header, descCols)
	colDate := findColumn(header, dateCols)
	if colDate < 0 {
		colDate = 0 // fall back to the first column
	}

	result := &domain.ImportResult{BatchID: uuid.New().String()}
	today := time.Now().Format("2006-01-02")

	for _, row := range rows[1:] {
		amount, ok := parseAmount(cell(row, colAmount))
		if !ok || amount == 0 {
			result.Skipped++
			s.metrics.IncrImportRow("skipped")
			continue
		}

		date := parseSpreadsheetDate(cell(row, colDate), today)

		category := strings.TrimSpace(cell(row, colCategory))
		if colCategory < 0 || category == "" {
			category = domain.CategoryOther
		}
		desc := strings.TrimSpace(cell(row, colDesc))
		if colDesc < 0 || desc == "" {
			desc = category
		}

		rec := domain.Record{
			domain.FieldDescription: desc,
			domain.FieldAmount:      abs(amount),
			domain.FieldKind:        domain.KindExpense,
			domain.FieldCategory:    category,
			domain.FieldDate:        date,
			domain.FieldPerson:      "Comune",
			domain.FieldNote:        "",
		}
		if _, err := s.ledger.Add(domain.CollectionTransactions, rec); err != nil {
			result.Skipped++
			s.metrics.IncrImportRow("skipped")
			continue
		}
		result.Imported++
		s.metrics.IncrImportRow("imported")
	}

	s.logger.Info("spreadsheet imported",
		zap.String("batch_id", result.BatchID),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func findColumn(header []string, candidates []string) int {
	for i, h := range header {
		h = strings.ToUpper(strings.TrimSpace(h))
		for _, c := range candidates {
			if h == c {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseAmount(raw string) (float64, bool) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var spreadsheetDateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"01-02-06",
	time.RFC3339,
}

func parseSpreadsheetDate(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	for _, layout := range spreadsheetDateLayouts {
		if d, err := time.Parse(layout, raw); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return fallback
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func orEmptyRecords(in []domain.Record) []domain.Record {
	if in == nil {
		return []domain.Record{}
	}
	return in
}
