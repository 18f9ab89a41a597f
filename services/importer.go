package services

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/utils"
)

// DefaultImportBatchSize is the number of prospects written per insert.
const DefaultImportBatchSize = 100

// ImportResult reports a finished import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Batches  int      `json:"batches"`
	Errors   []string `json:"errors"`
}

type ProspectImporter struct {
	DB        *gorm.DB
	Logger    *logrus.Entry
	BatchSize int
}

func NewProspectImporter(db *gorm.DB, logger *logrus.Entry) *ProspectImporter {
	return &ProspectImporter{
		DB:        db,
		Logger:    logger,
		BatchSize: DefaultImportBatchSize,
	}
}

// Import parses src and writes the valid rows in sequential batches. A header missing
// required columns fails before anything is written. A failing batch aborts the import;
// batches already written stay committed.
func (pi *ProspectImporter) Import(rc *utils.RequestContext, src io.Reader) (*ImportResult, error) {
	parsed, err := utils.ParseProspectCSV(src)
	if err != nil {
		return nil, err
	}

	log := pi.Logger.WithFields(rc.Fields())
	result := &ImportResult{
		Skipped: parsed.Skipped,
		Errors:  parsed.Errors,
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	utils.ImportRowErrors.Add(float64(len(parsed.Errors)))

	batchSize := pi.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultImportBatchSize
	}

	db := pi.DB.WithContext(rc.Context())
	for start := 0; start < len(parsed.Rows); start += batchSize {
		end := start + batchSize
		if end > len(parsed.Rows) {
			end = len(parsed.Rows)
		}

		batch := make([]models.Prospect, 0, end-start)
		for _, row := range parsed.Rows[start:end] {
			batch = append(batch, row.Prospect(rc.UserID))
		}

		if err := db.Create(&batch).Error; err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"batch":    result.Batches + 1,
				"imported": result.Imported,
			}).Error("Prospect import batch failed")
			return result, fmt.Errorf("failed to import batch %d: %w", result.Batches+1, err)
		}

		result.Batches++
		result.Imported += len(batch)
		utils.ProspectsImported.Add(float64(len(batch)))
	}

	log.WithFields(logrus.Fields{
		"imported": result.Imported,
		"errors":   len(result.Errors),
		"skipped":  result.Skipped,
		"batches":  result.Batches,
	}).Info("Prospect import finished")

	return result, nil
}
