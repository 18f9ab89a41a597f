package controller

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/services"
	"growthos/utils"
)

type ProspectController struct {
	DB       *gorm.DB
	Logger   *logrus.Entry
	Importer *services.ProspectImporter
	Resolver utils.Resolver
	MaxBytes int
}

func NewProspectController(db *gorm.DB, logger *logrus.Entry, maxBytes int) *ProspectController {
	return &ProspectController{
		DB:       db,
		Logger:   logger,
		Importer: services.NewProspectImporter(db, logger),
		Resolver: utils.DefaultResolver,
		MaxBytes: maxBytes,
	}
}

type ProspectInput struct {
	CompanyName *string `json:"company_name" validate:"omitempty,max=200"`
	FirstName   *string `json:"first_name" validate:"omitempty,max=100"`
	LastName    *string `json:"last_name" validate:"omitempty,max=100"`
	Email       *string `json:"email" validate:"omitempty,email"`
	Phone       *string `json:"phone" validate:"omitempty,max=40"`
	JobTitle    *string `json:"job_title" validate:"omitempty,max=200"`
	Website     *string `json:"website" validate:"omitempty,max=500"`
	LinkedInURL *string `json:"linkedin_url" validate:"omitempty,max=500"`
	Notes       *string `json:"notes"`
	Source      *string `json:"source" validate:"omitempty,prospect_source"`
	Status      *string `json:"status" validate:"omitempty,oneof=new contacted converted"`
}

func (in ProspectInput) apply(p *models.Prospect) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&p.CompanyName, in.CompanyName)
	set(&p.FirstName, in.FirstName)
	set(&p.LastName, in.LastName)
	set(&p.Phone, in.Phone)
	set(&p.JobTitle, in.JobTitle)
	set(&p.Website, in.Website)
	set(&p.LinkedInURL, in.LinkedInURL)
	set(&p.Notes, in.Notes)
	set(&p.Status, in.Status)
	if in.Email != nil {
		p.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Source != nil {
		p.Source = models.NormalizeSource(*in.Source)
	}
}

// GetProspects returns a paginated, filtered list of prospects
func (pc *ProspectController) GetProspects(c *fiber.Ctx) error {
	rc := requestContext(c)
	page, limit, offset := utils.Pagination(c)

	query := pc.DB.WithContext(rc.Context()).Model(&models.Prospect{}).Where("user_id = ?", rc.UserID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if source := c.Query("source"); source != "" {
		query = query.Where("source = ?", models.NormalizeSource(source))
	}
	if search := c.Query("search"); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(company_name) LIKE ?",
			pattern, pattern, pattern, pattern,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count prospects", err)
	}

	var prospects []models.Prospect
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&prospects).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch prospects", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Success: true,
		Data:    prospects,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

func (pc *ProspectController) load(c *fiber.Ctx) (*models.Prospect, error) {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	var prospect models.Prospect
	if err := pc.DB.WithContext(rc.Context()).
		Where("id = ? AND user_id = ?", id, rc.UserID).
		First(&prospect).Error; err != nil {
		return nil, err
	}
	return &prospect, nil
}

func (pc *ProspectController) GetProspect(c *fiber.Ctx) error {
	prospect, err := pc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch prospect", err)
	}

	if err := pc.DB.WithContext(c.UserContext()).
		Preload("Sequence").
		Where("prospect_id = ?", prospect.ID).
		Find(&prospect.Assignments).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch assignments", err)
	}
	return c.JSON(utils.SuccessResponse(prospect))
}

func (pc *ProspectController) CreateProspect(c *fiber.Ctx) error {
	rc := requestContext(c)

	var input ProspectInput
	if err := bindJSON(c, &input); err != nil {
		return serviceError(c, "", err)
	}
	if input.FirstName == nil || strings.TrimSpace(*input.FirstName) == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "first_name is required", nil)
	}

	prospect := models.Prospect{UserID: rc.UserID}
	input.apply(&prospect)

	if err := pc.DB.WithContext(rc.Context()).Create(&prospect).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create prospect", err)
	}

	pc.Logger.WithFields(rc.Fields()).WithField("prospect_id", prospect.ID).Info("Prospect created")
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(prospect))
}

func (pc *ProspectController) UpdateProspect(c *fiber.Ctx) error {
	rc := requestContext(c)

	var input ProspectInput
	if err := bindJSON(c, &input); err != nil {
		return serviceError(c, "", err)
	}

	prospect, err := pc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch prospect", err)
	}
	wasConverted := prospect.Status == models.ProspectStatusConverted
	input.apply(prospect)
	if prospect.Status == models.ProspectStatusConverted && !wasConverted {
		prospect.ConvertedAt = utils.Pointer(time.Now())
	}

	if err := pc.DB.WithContext(rc.Context()).Save(prospect).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update prospect", err)
	}
	return c.JSON(utils.SuccessResponse(prospect))
}

func (pc *ProspectController) DeleteProspect(c *fiber.Ctx) error {
	rc := requestContext(c)
	prospect, err := pc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch prospect", err)
	}

	err = pc.DB.WithContext(rc.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("prospect_id = ?", prospect.ID).Delete(&models.SequenceAssignment{}).Error; err != nil {
			return err
		}
		return tx.Delete(prospect).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete prospect", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Prospect deleted successfully",
	}))
}

// ImportProspects accepts a CSV upload (multipart "file") or a raw text/csv body.
func (pc *ProspectController) ImportProspects(c *fiber.Ctx) error {
	rc := requestContext(c)

	var src io.Reader
	if file, err := c.FormFile("file"); err == nil {
		if pc.MaxBytes > 0 && file.Size > int64(pc.MaxBytes) {
			return utils.ErrorResponse(c, fiber.StatusRequestEntityTooLarge, "File too large", nil)
		}
		f, err := file.Open()
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to open file", err)
		}
		defer f.Close()
		src = f
	} else {
		body := c.Body()
		if len(bytes.TrimSpace(body)) == 0 {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "CSV file is required", nil)
		}
		if pc.MaxBytes > 0 && len(body) > pc.MaxBytes {
			return utils.ErrorResponse(c, fiber.StatusRequestEntityTooLarge, "File too large", nil)
		}
		src = bytes.NewReader(body)
	}

	result, err := pc.Importer.Import(rc, src)
	if err != nil {
		var missing *utils.MissingColumnsError
		if errors.As(err, &missing) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, missing.Error(), nil)
		}
		if result != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   "Import stopped after a failed batch",
				"details": err.Error(),
				"data":    result,
				"refresh": result.Imported > 0,
			})
		}
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to parse CSV file", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    result,
		"refresh": true,
	})
}

var exportHeader = []string{
	"email", "first name", "last name", "company name", "job title",
	"website", "linkedin", "source", "status", "notes",
}

// ExportProspects streams the user's prospects as CSV using the import column names.
func (pc *ProspectController) ExportProspects(c *fiber.Ctx) error {
	rc := requestContext(c)

	var prospects []models.Prospect
	if err := pc.DB.WithContext(rc.Context()).
		Where("user_id = ?", rc.UserID).
		Order("id ASC").
		Find(&prospects).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch prospects", err)
	}

	c.Set("Content-Type", "text/csv")
	c.Set("Content-Disposition", "attachment; filename=prospects_export_"+time.Now().Format("20060102")+".csv")

	writer := csv.NewWriter(c)
	defer writer.Flush()

	if err := writer.Write(exportHeader); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate CSV", err)
	}
	for _, p := range prospects {
		record := []string{
			p.Email, p.FirstName, p.LastName, p.CompanyName, p.JobTitle,
			p.Website, p.LinkedInURL, p.Source, p.Status, p.Notes,
		}
		if err := writer.Write(record); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate CSV", err)
		}
	}
	return nil
}

// ConvertProspect marks a prospect converted and opens a deal for it.
func (pc *ProspectController) ConvertProspect(c *fiber.Ctx) error {
	rc := requestContext(c)
	prospect, err := pc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch prospect", err)
	}
	if prospect.Status == models.ProspectStatusConverted {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Prospect already converted", nil)
	}

	var input struct {
		Title string `json:"title" validate:"omitempty,max=200"`
		Value int64  `json:"value" validate:"min=0"`
	}
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &input); err != nil {
			return serviceError(c, "", err)
		}
	}
	if input.Title == "" {
		input.Title = prospect.CompanyName
		if input.Title == "" {
			input.Title = prospect.FullName()
		}
	}

	now := time.Now()
	deal := models.Deal{
		UserID:     rc.UserID,
		ProspectID: &prospect.ID,
		Title:      input.Title,
		Value:      input.Value,
		Stage:      models.DealStageLead,
	}
	err = pc.DB.WithContext(rc.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(prospect).Updates(map[string]interface{}{
			"status":       models.ProspectStatusConverted,
			"converted_at": now,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&deal).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to convert prospect", err)
	}

	pc.Logger.WithFields(rc.Fields()).WithFields(logrus.Fields{
		"prospect_id": prospect.ID,
		"deal_id":     deal.ID,
	}).Info("Prospect converted")

	prospect.Status = models.ProspectStatusConverted
	prospect.ConvertedAt = &now
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"prospect": prospect,
		"deal":     deal,
	}))
}

// VerifyEmail checks an address before it is added as a prospect
func (pc *ProspectController) VerifyEmail(c *fiber.Ctx) error {
	email := c.Query("email")
	if email == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "email is required", nil)
	}
	return c.JSON(utils.SuccessResponse(pc.Resolver.VerifyEmailAddress(email)))
}

const bulkVerifyConcurrency = 8

// BulkVerify checks the stored addresses of up to 200 prospects, a few lookups at a time.
func (pc *ProspectController) BulkVerify(c *fiber.Ctx) error {
	rc := requestContext(c)

	var input struct {
		ProspectIDs []uint `json:"prospect_ids" validate:"required,min=1,max=200"`
	}
	if err := bindJSON(c, &input); err != nil {
		return serviceError(c, "", err)
	}

	var prospects []models.Prospect
	if err := pc.DB.WithContext(rc.Context()).
		Select("id", "email").
		Where("user_id = ? AND id IN ?", rc.UserID, input.ProspectIDs).
		Order("id ASC").
		Find(&prospects).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch prospects", err)
	}

	type verification struct {
		ProspectID uint `json:"prospect_id"`
		utils.EmailCheck
	}
	results := make([]verification, len(prospects))

	g, gctx := errgroup.WithContext(rc.Context())
	g.SetLimit(bulkVerifyConcurrency)
	for i := range prospects {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = verification{
				ProspectID: prospects[i].ID,
				EmailCheck: pc.Resolver.VerifyEmailAddress(prospects[i].Email),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return utils.ErrorResponse(c, fiber.StatusRequestTimeout, "Verification cancelled", err)
	}

	counts := map[string]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    results,
		"counts":  counts,
	})
}
