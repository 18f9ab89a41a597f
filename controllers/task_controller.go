package controller

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/services"
	"growthos/utils"
)

type TaskController struct {
	DB        *gorm.DB
	Logger    *logrus.Entry
	Sequences *services.SequenceService
}

func NewTaskController(db *gorm.DB, logger *logrus.Entry, sequences *services.SequenceService) *TaskController {
	return &TaskController{DB: db, Logger: logger, Sequences: sequences}
}

type TaskInput struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=300"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Priority    *string    `json:"priority" validate:"omitempty,oneof=low medium high"`
	ProspectID  *uint      `json:"prospect_id"`
	DealID      *uint      `json:"deal_id"`
	ProjectID   *uint      `json:"project_id"`
}

func (in TaskInput) apply(t *models.Task) {
	if in.Title != nil {
		t.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.DueDate != nil {
		t.DueDate = in.DueDate
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.ProspectID != nil {
		t.ProspectID = in.ProspectID
	}
	if in.DealID != nil {
		t.DealID = in.DealID
	}
	if in.ProjectID != nil {
		t.ProjectID = in.ProjectID
	}
}

// GetTasks lists tasks. Supported filters: completed, source, prospect_id and
// due (overdue, today, upcoming).
func (tc *TaskController) GetTasks(c *fiber.Ctx) error {
	rc := requestContext(c)
	page, limit, offset := utils.Pagination(c)

	query := tc.DB.WithContext(rc.Context()).Model(&models.Task{}).Where("user_id = ?", rc.UserID)
	switch c.Query("completed") {
	case "true":
		query = query.Where("completed = ?", true)
	case "false":
		query = query.Where("completed = ?", false)
	}
	if source := c.Query("source"); source != "" {
		query = query.Where("source = ?", source)
	}
	if prospectID := utils.ParseUint(c.Query("prospect_id")); prospectID != 0 {
		query = query.Where("prospect_id = ?", prospectID)
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch c.Query("due") {
	case "overdue":
		query = query.Where("completed = ? AND due_date < ?", false, now)
	case "today":
		query = query.Where("due_date >= ? AND due_date < ?", startOfDay, startOfDay.AddDate(0, 0, 1))
	case "upcoming":
		query = query.Where("due_date >= ?", now)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count tasks", err)
	}

	var tasks []models.Task
	if err := query.Order("completed ASC, due_date ASC, id ASC").Offset(offset).Limit(limit).Find(&tasks).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch tasks", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Success: true,
		Data:    tasks,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

func (tc *TaskController) load(c *fiber.Ctx) (*models.Task, error) {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	var task models.Task
	if err := tc.DB.WithContext(rc.Context()).Where("id = ? AND user_id = ?", id, rc.UserID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (tc *TaskController) GetTask(c *fiber.Ctx) error {
	task, err := tc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch task", err)
	}
	return c.JSON(utils.SuccessResponse(task))
}

func (tc *TaskController) CreateTask(c *fiber.Ctx) error {
	rc := requestContext(c)

	var input TaskInput
	if err := bindJSON(c, &input); err != nil {
		return serviceError(c, "", err)
	}
	if input.Title == nil || strings.TrimSpace(*input.Title) == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "title is required", nil)
	}

	task := models.Task{
		UserID:   rc.UserID,
		Priority: "medium",
		Source:   models.TaskSourceManual,
	}
	input.apply(&task)

	if err := tc.DB.WithContext(rc.Context()).Create(&task).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create task", err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(task))
}

// UpdateTask edits task details. Completion goes through CompleteTask so that sequence
// tasks advance.
func (tc *TaskController) UpdateTask(c *fiber.Ctx) error {
	rc := requestContext(c)
	task, err := tc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch task", err)
	}

	var input TaskInput
	if err := bindJSON(c, &input); err != nil {
		return serviceError(c, "", err)
	}
	input.apply(task)
	if task.Title == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "title is required", nil)
	}

	if err := tc.DB.WithContext(rc.Context()).Model(task).Updates(map[string]interface{}{
		"title":       task.Title,
		"description": task.Description,
		"due_date":    task.DueDate,
		"priority":    task.Priority,
		"prospect_id": task.ProspectID,
		"deal_id":     task.DealID,
		"project_id":  task.ProjectID,
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update task", err)
	}
	return c.JSON(utils.SuccessResponse(task))
}

func (tc *TaskController) DeleteTask(c *fiber.Ctx) error {
	rc := requestContext(c)
	task, err := tc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch task", err)
	}
	if err := tc.DB.WithContext(rc.Context()).Delete(task).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete task", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"id": task.ID}))
}

// CompleteTask marks a task done. Sequence tasks move their assignments on to the next step
// and the advances are returned alongside the task.
func (tc *TaskController) CompleteTask(c *fiber.Ctx) error {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}

	task, advances, err := tc.Sequences.CompleteTask(rc, id)
	if err != nil {
		return serviceError(c, "Failed to complete task", err)
	}

	if advances == nil {
		advances = []services.AdvanceResult{}
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"data":     task,
		"advances": advances,
	})
}
