// Package importer ingests tabular client data: parse the first sheet, map
// columns to fields, then insert rows one at a time with phone-number dedup
// against the persistent store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"aqardesk/sync/internal/errkind"
	"aqardesk/sync/internal/store"
)

var (
	ErrNoHeader      = errors.New("sheet has no header row")
	ErrNoRows        = errors.New("sheet has no data rows")
	ErrPhoneUnmapped = errors.New("phone column mapping is required")
)

// Sheet is the parsed first worksheet of an uploaded workbook.
type Sheet struct {
	Headers []string
	Rows    [][]string
}

// ParseWorkbook reads the first sheet of an xlsx workbook. It rejects
// workbooks without a header row or without data rows.
func ParseWorkbook(r io.Reader) (*Sheet, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errkind.New(errkind.KindValidation, "parse workbook", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, errkind.New(errkind.KindValidation, "parse workbook", ErrNoHeader)
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 || !hasContent(rows[0]) {
		return nil, errkind.New(errkind.KindValidation, "parse workbook", ErrNoHeader)
	}
	if len(rows) < 2 {
		return nil, errkind.New(errkind.KindValidation, "parse workbook", ErrNoRows)
	}

	headers := make([]string, len(rows[0]))
	for i, cell := range rows[0] {
		headers[i] = strings.TrimSpace(cell)
	}
	return &Sheet{Headers: headers, Rows: rows[1:]}, nil
}

func hasContent(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return true
		}
	}
	return false
}

// Row is one extracted data row, keyed by mapped field.
type Row map[Field]string

// ExtractRows reads only mapped columns, trimming values and skipping empty
// cells. A row is kept only if at least one mapped field produced a non-empty
// value.
func ExtractRows(sheet *Sheet, mapping map[int]Field) []Row {
	rows := make([]Row, 0, len(sheet.Rows))
	for _, cells := range sheet.Rows {
		row := make(Row)
		for column, field := range mapping {
			if column >= len(cells) {
				continue
			}
			value := strings.TrimSpace(cells[column])
			if value == "" {
				continue
			}
			row[field] = value
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows
}

type Outcome string

const (
	OutcomeImported  Outcome = "imported"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// RowResult records what happened to a single row, so callers can retry only
// the failed subset.
type RowResult struct {
	Index   int     `json:"index"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// DuplicateDetail names the existing record (not the incoming row) that
// caused a duplicate skip.
type DuplicateDetail struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Result aggregates one import invocation. It is created per invocation and
// discarded once the caller consumes it.
type Result struct {
	Imported         int               `json:"imported"`
	Duplicates       int               `json:"duplicates"`
	DuplicateDetails []DuplicateDetail `json:"duplicateDetails"`
	Rows             []RowResult       `json:"rows"`
	Inserted         []store.Client    `json:"data,omitempty"`
}

// ClientStore is the persistence surface the pipeline needs.
type ClientStore interface {
	FindClientByPhone(ctx context.Context, phone string) (*store.Client, error)
	InsertClient(ctx context.Context, item store.Client) error
}

type Pipeline struct {
	store ClientStore
	newID func() string
}

func New(clientStore ClientStore) *Pipeline {
	return &Pipeline{store: clientStore, newID: uuid.NewString}
}

// Run processes extracted rows sequentially: for each row it looks up an
// existing client by phone, records a duplicate (with the existing record's
// name and phone) or inserts the row. A single row's failure is accumulated
// into its RowResult and processing continues; nothing aborts the batch.
// Rejection for a missing phone mapping happens before any row is touched.
func (p *Pipeline) Run(ctx context.Context, sheet *Sheet, mapping map[int]Field) (*Result, error) {
	if !mappingHasPhone(mapping) {
		return nil, errkind.New(errkind.KindValidation, "import", ErrPhoneUnmapped)
	}

	rows := ExtractRows(sheet, mapping)
	result := &Result{
		DuplicateDetails: []DuplicateDetail{},
		Rows:             make([]RowResult, 0, len(rows)),
	}

	for index, row := range rows {
		phone := row[FieldPhone]
		if phone == "" {
			result.Rows = append(result.Rows, RowResult{Index: index, Outcome: OutcomeFailed, Error: "row has no phone value"})
			continue
		}

		existing, err := p.store.FindClientByPhone(ctx, phone)
		if err != nil {
			result.Rows = append(result.Rows, RowResult{Index: index, Outcome: OutcomeFailed, Error: err.Error()})
			continue
		}
		if existing != nil {
			result.Duplicates++
			result.DuplicateDetails = append(result.DuplicateDetails, DuplicateDetail{
				Name:  existing.Name,
				Phone: existing.Phone,
			})
			result.Rows = append(result.Rows, RowResult{Index: index, Outcome: OutcomeDuplicate})
			continue
		}

		client := p.clientFromRow(row)
		if err := p.store.InsertClient(ctx, client); err != nil {
			result.Rows = append(result.Rows, RowResult{Index: index, Outcome: OutcomeFailed, Error: err.Error()})
			continue
		}
		result.Imported++
		result.Inserted = append(result.Inserted, client)
		result.Rows = append(result.Rows, RowResult{Index: index, Outcome: OutcomeImported})
	}

	return result, nil
}

// Import is the full pipeline: parse, auto-map, apply caller overrides, run.
func (p *Pipeline) Import(ctx context.Context, r io.Reader, overrides map[int]Field) (*Result, error) {
	sheet, err := ParseWorkbook(r)
	if err != nil {
		return nil, err
	}
	mapping := AutoMap(sheet.Headers)
	for column, field := range overrides {
		if field == "" {
			delete(mapping, column)
			continue
		}
		mapping[column] = field
	}
	return p.Run(ctx, sheet, mapping)
}

func mappingHasPhone(mapping map[int]Field) bool {
	for _, field := range mapping {
		if field == FieldPhone {
			return true
		}
	}
	return false
}

func (p *Pipeline) clientFromRow(row Row) store.Client {
	var comments []string
	if comment := row[FieldComment]; comment != "" {
		comments = []string{comment}
	}
	return store.Client{
		ID:       p.newID(),
		Name:     row[FieldName],
		Status:   store.StatusNew,
		Phone:    row[FieldPhone],
		Email:    row[FieldEmail],
		City:     row[FieldCity],
		Project:  row[FieldProject],
		Budget:   row[FieldBudget],
		Campaign: row[FieldCampaign],
		Comments: comments,
	}
}
