package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"growthos/utils"
)

// ResourceController serves per-user CRUD for one table whose rows need no extra behaviour.
type ResourceController[T any] struct {
	DB     *gorm.DB
	Logger *logrus.Entry
	Name   string

	// SetOwner stamps the caller's user id onto a record.
	SetOwner func(*T, uint)
	// Filters lists the columns that may be matched exactly through query parameters.
	Filters []string
	// Search lists the columns matched by ?search=.
	Search []string
	// Preload lists relations loaded on reads.
	Preload []string
	// Prepare, when set, runs on every record before it is written.
	Prepare func(*T)
}

func (h *ResourceController[T]) prepare(item *T, userID uint) {
	h.SetOwner(item, userID)
	if h.Prepare != nil {
		h.Prepare(item)
	}
}

func (h *ResourceController[T]) scoped(c *fiber.Ctx) *gorm.DB {
	req := requestContext(c)
	return h.DB.WithContext(req.Context()).Where("user_id = ?", req.UserID)
}

func (h *ResourceController[T]) preload(q *gorm.DB) *gorm.DB {
	for _, rel := range h.Preload {
		q = q.Preload(rel)
	}
	return q
}

func (h *ResourceController[T]) List(c *fiber.Ctx) error {
	page, limit, offset := utils.Pagination(c)
	query := h.scoped(c).Model(new(T))

	for _, column := range h.Filters {
		if v := c.Query(column); v != "" {
			query = query.Where(column+" = ?", v)
		}
	}
	if search := c.Query("search"); search != "" && len(h.Search) > 0 {
		pattern := "%" + search + "%"
		cond := h.DB.Where(h.Search[0]+" LIKE ?", pattern)
		for _, column := range h.Search[1:] {
			cond = cond.Or(column+" LIKE ?", pattern)
		}
		query = query.Where(cond)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count "+h.Name, err)
	}

	var items []T
	if err := h.preload(query).Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch "+h.Name, err)
	}

	return c.JSON(utils.PaginatedResponse{
		Success: true,
		Data:    items,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

func (h *ResourceController[T]) find(c *fiber.Ctx) (*T, uint, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, 0, err
	}
	item := new(T)
	if err := h.preload(h.scoped(c)).Where("id = ?", id).First(item).Error; err != nil {
		return nil, id, err
	}
	return item, id, nil
}

func (h *ResourceController[T]) Get(c *fiber.Ctx) error {
	item, _, err := h.find(c)
	if err != nil {
		return serviceError(c, "Failed to fetch "+h.Name, err)
	}
	return c.JSON(utils.SuccessResponse(item))
}

func (h *ResourceController[T]) Create(c *fiber.Ctx) error {
	req := requestContext(c)
	item := new(T)
	if err := bindJSON(c, item); err != nil {
		return serviceError(c, "", err)
	}
	h.prepare(item, req.UserID)

	if err := h.DB.WithContext(req.Context()).Omit(clause.Associations).Create(item).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create "+h.Name, err)
	}

	h.Logger.WithFields(req.Fields()).Infof("Created %s", h.Name)
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(item))
}

// Update overlays the request body on the stored record, so omitted fields keep their values.
func (h *ResourceController[T]) Update(c *fiber.Ctx) error {
	req := requestContext(c)
	item, id, err := h.find(c)
	if err != nil {
		return serviceError(c, "Failed to fetch "+h.Name, err)
	}
	if err := bindJSON(c, item); err != nil {
		return serviceError(c, "", err)
	}
	h.prepare(item, req.UserID)

	if err := h.DB.WithContext(req.Context()).
		Model(new(T)).
		Where("id = ? AND user_id = ?", id, req.UserID).
		Select("*").
		Omit("id", "user_id", "created_at", "deleted_at", clause.Associations).
		Updates(item).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update "+h.Name, err)
	}

	updated := new(T)
	if err := h.preload(h.scoped(c)).Where("id = ?", id).First(updated).Error; err != nil {
		return serviceError(c, "Failed to fetch "+h.Name, err)
	}
	return c.JSON(utils.SuccessResponse(updated))
}

func (h *ResourceController[T]) Delete(c *fiber.Ctx) error {
	req := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}

	result := h.DB.WithContext(req.Context()).
		Where("id = ? AND user_id = ?", id, req.UserID).
		Delete(new(T))
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete "+h.Name, result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Not found", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"id": id}))
}

// Register mounts the CRUD routes on router.
func (h *ResourceController[T]) Register(router fiber.Router) {
	router.Get("/", h.List)
	router.Post("/", h.Create)
	router.Get("/:id", h.Get)
	router.Put("/:id", h.Update)
	router.Delete("/:id", h.Delete)
}
