package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/services"
	"growthos/utils"
)

type InvoiceController struct {
	DB      *gorm.DB
	Logger  *logrus.Entry
	Billing *services.BillingService
	Issuer  string
}

func NewInvoiceController(db *gorm.DB, logger *logrus.Entry, billing *services.BillingService, issuer string) *InvoiceController {
	return &InvoiceController{DB: db, Logger: logger, Billing: billing, Issuer: issuer}
}

type InvoiceItemInput struct {
	Description string  `json:"description" validate:"required,max=500"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	UnitPrice   int64   `json:"unit_price" validate:"min=0"`
}

type InvoiceInput struct {
	ProjectID   *uint              `json:"project_id"`
	Number      string             `json:"number" validate:"omitempty,max=50"`
	ClientName  string             `json:"client_name" validate:"required,max=200"`
	ClientEmail string             `json:"client_email" validate:"omitempty,email"`
	Currency    string             `json:"currency" validate:"omitempty,len=3"`
	Notes       string             `json:"notes"`
	IssueDate   *time.Time         `json:"issue_date"`
	DueDate     *time.Time         `json:"due_date"`
	Items       []InvoiceItemInput `json:"items" validate:"dive"`
}

func (in InvoiceInput) items() []models.InvoiceItem {
	items := make([]models.InvoiceItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, models.InvoiceItem{
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return items
}

func (in InvoiceInput) currency() string {
	if in.Currency == "" {
		return "USD"
	}
	return strings.ToUpper(in.Currency)
}

type invoiceView struct {
	models.Invoice
	Total int64 `json:"total"`
}

func viewInvoice(inv *models.Invoice) invoiceView {
	return invoiceView{Invoice: *inv, Total: inv.Total()}
}

func (ic *InvoiceController) GetInvoices(c *fiber.Ctx) error {
	rc := requestContext(c)
	page, limit, offset := utils.Pagination(c)

	query := ic.DB.WithContext(rc.Context()).Model(&models.Invoice{}).Where("user_id = ?", rc.UserID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if projectID := utils.ParseUint(c.Query("project_id")); projectID != 0 {
		query = query.Where("project_id = ?", projectID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count invoices", err)
	}

	var invoices []models.Invoice
	if err := query.Preload("Items").Order("issue_date DESC, id DESC").Offset(offset).Limit(limit).Find(&invoices).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch invoices", err)
	}

	views := make([]invoiceView, 0, len(invoices))
	for i := range invoices {
		views = append(views, viewInvoice(&invoices[i]))
	}
	return c.JSON(utils.PaginatedResponse{
		Success: true,
		Data:    views,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

func (ic *InvoiceController) GetInvoice(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}
	inv, err := ic.Billing.Load(requestContext(c), id)
	if err != nil {
		return serviceError(c, "Failed to fetch invoice", err)
	}
	return c.JSON(utils.SuccessResponse(viewInvoice(inv)))
}

func (ic *InvoiceController) CreateInvoice(c *fiber.Ctx) error {
	rc := requestContext(c)

	var input InvoiceInput
	if err := bindJSON(c, &input); err != nil {
		return serviceError(c, "", err)
	}

	inv := models.Invoice{
		ProjectID:   input.ProjectID,
		Number:      strings.TrimSpace(input.Number),
		ClientName:  strings.TrimSpace(input.ClientName),
		ClientEmail: strings.TrimSpace(input.ClientEmail),
		Currency:    input.currency(),
		Notes:       input.Notes,
		DueDate:     input.DueDate,
		Items:       input.items(),
	}
	if input.IssueDate != nil {
		inv.IssueDate = *input.IssueDate
	}

	if err := ic.Billing.Create(rc, &inv); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create invoice", err)
	}

	ic.Logger.WithFields(rc.Fields()).WithField("invoice_id", inv.ID).Info("Invoice created")
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(viewInvoice(&inv)))
}

// UpdateInvoice rewrites a draft invoice, replacing its items. Sent invoices are frozen.
func (ic *InvoiceController) UpdateInvoice(c *fiber.Ctx) error {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}

	var input InvoiceInput
	if err := bindJSON(c, &input); err != nil {
		return serviceError(c, "", err)
	}

	inv, err := ic.Billing.Load(rc, id)
	if err != nil {
		return serviceError(c, "Failed to fetch invoice", err)
	}
	if inv.Status != models.InvoiceDraft {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only draft invoices can be edited", nil)
	}

	updates := map[string]interface{}{
		"project_id":   input.ProjectID,
		"client_name":  strings.TrimSpace(input.ClientName),
		"client_email": strings.TrimSpace(input.ClientEmail),
		"currency":     input.currency(),
		"notes":        input.Notes,
		"due_date":     input.DueDate,
	}
	if number := strings.TrimSpace(input.Number); number != "" {
		updates["number"] = number
	}
	if input.IssueDate != nil {
		updates["issue_date"] = *input.IssueDate
	}

	err = ic.DB.WithContext(rc.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(inv).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Where("invoice_id = ?", inv.ID).Delete(&models.InvoiceItem{}).Error; err != nil {
			return err
		}
		items := input.items()
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].InvoiceID = inv.ID
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update invoice", err)
	}

	updated, err := ic.Billing.Load(rc, id)
	if err != nil {
		return serviceError(c, "Failed to fetch invoice", err)
	}
	return c.JSON(utils.SuccessResponse(viewInvoice(updated)))
}

func (ic *InvoiceController) DeleteInvoice(c *fiber.Ctx) error {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}
	inv, err := ic.Billing.Load(rc, id)
	if err != nil {
		return serviceError(c, "Failed to fetch invoice", err)
	}
	if inv.Status != models.InvoiceDraft && inv.Status != models.InvoiceVoid {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only draft or void invoices can be deleted", nil)
	}

	err = ic.DB.WithContext(rc.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invoice_id = ?", inv.ID).Delete(&models.InvoiceItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(inv).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete invoice", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"id": inv.ID}))
}

// SendInvoice publishes the invoice to Stripe and emails it to the client.
func (ic *InvoiceController) SendInvoice(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}
	inv, err := ic.Billing.Send(requestContext(c), id)
	if err != nil {
		return serviceError(c, "Failed to send invoice", err)
	}
	return c.JSON(utils.SuccessResponse(viewInvoice(inv)))
}

func (ic *InvoiceController) InvoicePDF(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}
	inv, err := ic.Billing.Load(requestContext(c), id)
	if err != nil {
		return serviceError(c, "Failed to fetch invoice", err)
	}

	data, err := utils.RenderInvoicePDF(*inv, ic.Issuer)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to render invoice", err)
	}

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", inv.Number+".pdf"))
	return c.Send(data)
}
