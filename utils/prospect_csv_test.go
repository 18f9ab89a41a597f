package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growthos/models"
)

func TestParseProspectCSV(t *testing.T) {
	t.Run("valid and invalid rows", func(t *testing.T) {
		parsed, err := ParseProspectCSV(strings.NewReader("email,first name,company\na@b.com,Jane,Acme\nbad-email,John,Beta\n"))
		require.NoError(t, err)
		require.Len(t, parsed.Rows, 1)
		assert.Equal(t, "a@b.com", parsed.Rows[0].Email)
		assert.Equal(t, "Jane", parsed.Rows[0].FirstName)
		assert.Equal(t, "Acme", parsed.Rows[0].CompanyName)
		assert.Equal(t, models.SourceOther, parsed.Rows[0].Source)
		assert.Equal(t, []string{"Row 2: Invalid email format"}, parsed.Errors)
	})

	t.Run("header matching is case insensitive", func(t *testing.T) {
		parsed, err := ParseProspectCSV(strings.NewReader("\ufeffEMAIL, First_Name ,Job Title,Source\nJane@Acme.com,Jane,CTO,LinkedIn\n"))
		require.NoError(t, err)
		require.Len(t, parsed.Rows, 1)
		row := parsed.Rows[0]
		assert.Equal(t, "jane@acme.com", row.Email)
		assert.Equal(t, "CTO", row.JobTitle)
		assert.Equal(t, models.SourceLinkedIn, row.Source)
	})

	t.Run("emails are trimmed and lower-cased", func(t *testing.T) {
		parsed, err := ParseProspectCSV(strings.NewReader("email,first name\n  Jane.Doe@ACME.io ,Jane\n"))
		require.NoError(t, err)
		require.Len(t, parsed.Rows, 1)
		assert.Equal(t, "jane.doe@acme.io", parsed.Rows[0].Email)
		assert.Equal(t, "jane.doe@acme.io", parsed.Rows[0].Prospect(1).Email)
	})

	t.Run("missing columns", func(t *testing.T) {
		_, err := ParseProspectCSV(strings.NewReader("company,phone\nAcme,1\n"))
		var missing *MissingColumnsError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"email", "first name"}, missing.Columns)
		assert.Equal(t, "Missing required columns: email, first name", err.Error())
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := ParseProspectCSV(strings.NewReader(""))
		var missing *MissingColumnsError
		assert.ErrorAs(t, err, &missing)
	})

	t.Run("mismatched field counts are skipped silently", func(t *testing.T) {
		csv := "email,first name\na@b.com,Jane,extra\nc@d.com\ne@f.com,Eve\n"
		parsed, err := ParseProspectCSV(strings.NewReader(csv))
		require.NoError(t, err)
		assert.Equal(t, 2, parsed.Skipped)
		assert.Empty(t, parsed.Errors)
		require.Len(t, parsed.Rows, 1)
		assert.Equal(t, 3, parsed.Rows[0].Row)
	})

	t.Run("every failing reason is reported", func(t *testing.T) {
		parsed, err := ParseProspectCSV(strings.NewReader("email,first name\nnope,\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"Row 1: Invalid email format, First name is required"}, parsed.Errors)
	})
}

func TestProspectSourceNormalization(t *testing.T) {
	tests := map[string]string{
		"LinkedIn":      models.SourceLinkedIn,
		" referral ":    models.SourceReferral,
		"cold_outreach": models.SourceColdOutreach,
		"":              models.SourceOther,
		"billboard":     models.SourceOther,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			csv := "email,first name,source\na@b.com,Jane," + in + "\n"
			parsed, err := ParseProspectCSV(strings.NewReader(csv))
			require.NoError(t, err)
			require.Len(t, parsed.Rows, 1)
			assert.Equal(t, want, parsed.Rows[0].Prospect(1).Source)
		})
	}
}

func TestValidImportEmail(t *testing.T) {
	assert.True(t, ValidImportEmail("jane@acme.co.uk"))
	assert.False(t, ValidImportEmail("jane@acme"))
	assert.False(t, ValidImportEmail("jane doe@acme.com"))
	assert.False(t, ValidImportEmail("@acme.com"))
}
