package controller

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/services"
	"growthos/utils"
)

type SequenceController struct {
	DB      *gorm.DB
	Logger  *logrus.Entry
	Service *services.SequenceService
}

func NewSequenceController(db *gorm.DB, logger *logrus.Entry, svc *services.SequenceService) *SequenceController {
	return &SequenceController{DB: db, Logger: logger, Service: svc}
}

type StepInput struct {
	StepType        string `json:"step_type" validate:"required,oneof=email linkedin_connection linkedin_message"`
	MessageTemplate string `json:"message_template"`
	DelayDays       int    `json:"delay_days" validate:"min=0,max=365"`
}

type SequenceInput struct {
	Name        string      `json:"name" validate:"required,max=200"`
	Description string      `json:"description"`
	Steps       []StepInput `json:"steps" validate:"dive"`
}

// buildSteps numbers steps 1..n in the order given.
func buildSteps(in []StepInput) []models.SequenceStep {
	steps := make([]models.SequenceStep, 0, len(in))
	for i, s := range in {
		steps = append(steps, models.SequenceStep{
			StepNumber:      i + 1,
			StepType:        s.StepType,
			MessageTemplate: s.MessageTemplate,
			DelayDays:       s.DelayDays,
		})
	}
	return steps
}

func (sc *SequenceController) nameTaken(rc *utils.RequestContext, name string, exceptID uint) (bool, error) {
	var count int64
	err := sc.DB.WithContext(rc.Context()).Model(&models.Sequence{}).
		Where("user_id = ? AND name = ? AND id <> ?", rc.UserID, name, exceptID).
		Count(&count).Error
	return count > 0, err
}

func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	rc := requestContext(c)

	var sequences []models.Sequence
	if err := sc.DB.WithContext(rc.Context()).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_number ASC") }).
		Where("user_id = ?", rc.UserID).
		Order("name ASC").
		Find(&sequences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequences", err)
	}

	type activeCount struct {
		SequenceID uint
		Count      int64
	}
	var counts []activeCount
	if err := sc.DB.WithContext(rc.Context()).Model(&models.SequenceAssignment{}).
		Select("sequence_id, COUNT(*) AS count").
		Where("user_id = ? AND status = ?", rc.UserID, models.AssignmentActive).
		Group("sequence_id").
		Scan(&counts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count assignments", err)
	}
	active := make(map[uint]int64, len(counts))
	for _, ac := range counts {
		active[ac.SequenceID] = ac.Count
	}

	out := make([]fiber.Map, 0, len(sequences))
	for _, seq := range sequences {
		out = append(out, fiber.Map{
			"sequence":           seq,
			"active_assignments": active[seq.ID],
		})
	}
	return c.JSON(utils.SuccessResponse(out))
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}
	seq, err := sc.Service.LoadSequence(rc, id)
	if err != nil {
		return serviceError(c, "Failed to fetch sequence", err)
	}
	return c.JSON(utils.SuccessResponse(seq))
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	rc := requestContext(c)

	var input SequenceInput
	if err := bindJSON(c, &input); err != nil {
		return serviceError(c, "", err)
	}
	input.Name = strings.TrimSpace(input.Name)

	taken, err := sc.nameTaken(rc, input.Name, 0)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check sequence name", err)
	}
	if taken {
		return utils.ErrorResponse(c, fiber.StatusConflict, "A sequence with this name already exists", nil)
	}

	seq := models.Sequence{
		UserID:      rc.UserID,
		Name:        input.Name,
		Description: input.Description,
		Steps:       buildSteps(input.Steps),
	}
	if err := sc.DB.WithContext(rc.Context()).Create(&seq).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", err)
	}

	sc.Logger.WithFields(rc.Fields()).WithField("sequence_id", seq.ID).Info("Sequence created")
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(seq))
}

// UpdateSequence renames a sequence and, when steps are supplied, replaces them. Active
// assignments keep their current step number unless it no longer exists, in which case they
// are completed on the new last step.
func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}

	var input SequenceInput
	if err := bindJSON(c, &input); err != nil {
		return serviceError(c, "", err)
	}
	input.Name = strings.TrimSpace(input.Name)

	seq, err := sc.Service.LoadSequence(rc, id)
	if err != nil {
		return serviceError(c, "Failed to fetch sequence", err)
	}

	taken, err := sc.nameTaken(rc, input.Name, seq.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check sequence name", err)
	}
	if taken {
		return utils.ErrorResponse(c, fiber.StatusConflict, "A sequence with this name already exists", nil)
	}

	err = sc.DB.WithContext(rc.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(seq).Updates(map[string]interface{}{
			"name":        input.Name,
			"description": input.Description,
		}).Error; err != nil {
			return err
		}
		if input.Steps == nil {
			return nil
		}
		if err := tx.Unscoped().Where("sequence_id = ?", seq.ID).Delete(&models.SequenceStep{}).Error; err != nil {
			return err
		}
		steps := buildSteps(input.Steps)
		for i := range steps {
			steps[i].SequenceID = seq.ID
		}
		if len(steps) > 0 {
			if err := tx.Create(&steps).Error; err != nil {
				return err
			}
		}
		return sc.Service.CompleteOverrunAssignments(tx, seq.ID, len(steps))
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", err)
	}

	updated, err := sc.Service.LoadSequence(rc, id)
	if err != nil {
		return serviceError(c, "Failed to fetch sequence", err)
	}
	return c.JSON(utils.SuccessResponse(updated))
}

func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}
	seq, err := sc.Service.LoadSequence(rc, id)
	if err != nil {
		return serviceError(c, "Failed to fetch sequence", err)
	}

	err = sc.DB.WithContext(rc.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sequence_id = ?", seq.ID).Delete(&models.SequenceAssignment{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("sequence_id = ?", seq.ID).Delete(&models.SequenceStep{}).Error; err != nil {
			return err
		}
		// Hard delete so the name can be reused under the unique index.
		return tx.Unscoped().Delete(seq).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sequence", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Sequence deleted successfully"}))
}

// EnrollProspects starts one or more prospects on a sequence. Each prospect is reported
// separately.
func (sc *SequenceController) EnrollProspects(c *fiber.Ctx) error {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}

	var input struct {
		ProspectIDs []uint `json:"prospect_ids" validate:"required,min=1,max=500"`
	}
	if err := bindJSON(c, &input); err != nil {
		return serviceError(c, "", err)
	}

	seq, err := sc.Service.LoadSequence(rc, id)
	if err != nil {
		return serviceError(c, "Failed to fetch sequence", err)
	}
	if len(seq.Steps) == 0 {
		return serviceError(c, "", services.ErrEmptySequence)
	}

	type enrolment struct {
		ProspectID   uint   `json:"prospect_id"`
		AssignmentID uint   `json:"assignment_id,omitempty"`
		TaskID       uint   `json:"task_id,omitempty"`
		Error        string `json:"error,omitempty"`
	}

	results := make([]enrolment, 0, len(input.ProspectIDs))
	enrolled := 0
	for _, prospectID := range input.ProspectIDs {
		assignment, task, err := sc.Service.Enroll(rc, seq.ID, prospectID)
		if err != nil {
			results = append(results, enrolment{ProspectID: prospectID, Error: err.Error()})
			continue
		}
		enrolled++
		results = append(results, enrolment{
			ProspectID:   prospectID,
			AssignmentID: assignment.ID,
			TaskID:       task.ID,
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"enrolled": enrolled,
		"data":     results,
	})
}

func (sc *SequenceController) GetAssignments(c *fiber.Ctx) error {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}
	if _, err := sc.Service.LoadSequence(rc, id); err != nil {
		return serviceError(c, "Failed to fetch sequence", err)
	}

	query := sc.DB.WithContext(rc.Context()).
		Preload("Prospect").
		Where("sequence_id = ? AND user_id = ?", id, rc.UserID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var assignments []models.SequenceAssignment
	if err := query.Find(&assignments).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch assignments", err)
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].ID < assignments[j].ID })
	return c.JSON(utils.SuccessResponse(assignments))
}
