package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"growthos/models"
)

var importEmailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var requiredImportColumns = []string{"email", "first name"}

// MissingColumnsError is returned when the header lacks a required column.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "Missing required columns: " + strings.Join(e.Columns, ", ")
}

// ProspectRow is one validated CSV record ready to become a Prospect.
type ProspectRow struct {
	Row         int
	Email       string
	FirstName   string
	LastName    string
	CompanyName string
	Website     string
	LinkedInURL string
	JobTitle    string
	Notes       string
	Source      string
}

// Prospect maps the row onto the persisted schema.
func (r ProspectRow) Prospect(userID uint) models.Prospect {
	return models.Prospect{
		UserID:      userID,
		Email:       r.Email,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		CompanyName: r.CompanyName,
		Website:     r.Website,
		LinkedInURL: r.LinkedInURL,
		JobTitle:    r.JobTitle,
		Notes:       r.Notes,
		Source:      r.Source,
		Status:      models.ProspectStatusNew,
	}
}

// ParsedImport is the outcome of parsing an import file. Errors keeps input order.
type ParsedImport struct {
	Rows    []ProspectRow
	Errors  []string
	Skipped int
}

// ParseProspectCSV reads a header row followed by prospect records. Rows whose field
// count differs from the header are skipped without an error; rows failing validation are
// reported in Errors and left out of Rows.
func ParseProspectCSV(r io.Reader) (*ParsedImport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &MissingColumnsError{Columns: requiredImportColumns}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		key := normalizeHeader(name)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	var missing []string
	for _, col := range requiredImportColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	result := &ParsedImport{}
	rowNum := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		rowNum++

		if len(record) != len(header) {
			result.Skipped++
			continue
		}

		get := func(names ...string) string {
			for _, name := range names {
				if i, ok := index[name]; ok {
					if v := strings.TrimSpace(record[i]); v != "" {
						return v
					}
				}
			}
			return ""
		}

		row := ProspectRow{
			Row:         rowNum,
			Email:       strings.ToLower(get("email")),
			FirstName:   get("first name"),
			LastName:    get("last name"),
			CompanyName: get("company name", "company"),
			Website:     get("website", "company website"),
			LinkedInURL: get("linkedin", "linkedin profile"),
			JobTitle:    get("job title", "position"),
			Notes:       get("notes", "note", "other"),
			Source:      models.NormalizeSource(get("source")),
		}

		if reasons := validateImportRow(row); len(reasons) > 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %s", rowNum, strings.Join(reasons, ", ")))
			continue
		}
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}

func validateImportRow(row ProspectRow) []string {
	var reasons []string
	if !ValidImportEmail(row.Email) {
		reasons = append(reasons, "Invalid email format")
	}
	if row.FirstName == "" {
		reasons = append(reasons, "First name is required")
	}
	return reasons
}

// ValidImportEmail reports whether s has the local@domain.tld shape.
func ValidImportEmail(s string) bool {
	return importEmailPattern.MatchString(s)
}

func normalizeHeader(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(strings.ReplaceAll(name, "_", " ")), " ")
}
