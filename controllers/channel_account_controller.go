package controller

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/services"
	"growthos/utils"
)

type ChannelAccountController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
	Inbox  *services.InboxService
}

func NewChannelAccountController(db *gorm.DB, logger *logrus.Entry, inbox *services.InboxService) *ChannelAccountController {
	return &ChannelAccountController{DB: db, Logger: logger, Inbox: inbox}
}

type CreateChannelAccountRequest struct {
	Channel        string `json:"channel" validate:"required,oneof=email linkedin whatsapp"`
	Name           string `json:"name" validate:"required,max=200"`
	Address        string `json:"address" validate:"max=320"`
	IMAPHost       string `json:"imap_host" validate:"required_if=Channel email"`
	IMAPPort       int    `json:"imap_port"`
	IMAPUsername   string `json:"imap_username" validate:"required_if=Channel email"`
	IMAPPassword   string `json:"imap_password" validate:"required_if=Channel email"`
	IMAPEncryption string `json:"imap_encryption" validate:"omitempty,oneof=SSL TLS STARTTLS NONE"`
	IMAPMailbox    string `json:"imap_mailbox"`
	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port"`
	SMTPUsername   string `json:"smtp_username"`
	SMTPPassword   string `json:"smtp_password"`
	AccessToken    string `json:"access_token" validate:"required_unless=Channel email"`
}

type UpdateChannelAccountRequest struct {
	Name           *string `json:"name" validate:"omitempty,max=200"`
	Address        *string `json:"address" validate:"omitempty,max=320"`
	IMAPHost       *string `json:"imap_host"`
	IMAPPort       *int    `json:"imap_port"`
	IMAPUsername   *string `json:"imap_username"`
	IMAPPassword   *string `json:"imap_password"`
	IMAPEncryption *string `json:"imap_encryption" validate:"omitempty,oneof=SSL TLS STARTTLS NONE"`
	IMAPMailbox    *string `json:"imap_mailbox"`
	SMTPHost       *string `json:"smtp_host"`
	SMTPPort       *int    `json:"smtp_port"`
	SMTPUsername   *string `json:"smtp_username"`
	SMTPPassword   *string `json:"smtp_password"`
	AccessToken    *string `json:"access_token"`
	IsActive       *bool   `json:"is_active"`
}

func (cc *ChannelAccountController) GetAccounts(c *fiber.Ctx) error {
	rc := requestContext(c)

	query := cc.DB.WithContext(rc.Context()).Where("user_id = ?", rc.UserID)
	if channel := c.Query("channel"); channel != "" {
		query = query.Where("channel = ?", channel)
	}

	var accounts []models.ChannelAccount
	if err := query.Order("id ASC").Find(&accounts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch channel accounts", err)
	}
	return c.JSON(utils.SuccessResponse(accounts))
}

func (cc *ChannelAccountController) load(c *fiber.Ctx) (*models.ChannelAccount, error) {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	var account models.ChannelAccount
	if err := cc.DB.WithContext(rc.Context()).Where("id = ? AND user_id = ?", id, rc.UserID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (cc *ChannelAccountController) GetAccount(c *fiber.Ctx) error {
	account, err := cc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch channel account", err)
	}
	return c.JSON(utils.SuccessResponse(account))
}

func (cc *ChannelAccountController) CreateAccount(c *fiber.Ctx) error {
	rc := requestContext(c)

	var req CreateChannelAccountRequest
	if err := bindJSON(c, &req); err != nil {
		return serviceError(c, "", err)
	}

	// Encrypt sensitive data
	imapPassword, err := utils.Encrypt(req.IMAPPassword)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt IMAP password", err)
	}
	smtpPassword, err := utils.Encrypt(req.SMTPPassword)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt SMTP password", err)
	}
	accessToken, err := utils.Encrypt(req.AccessToken)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt access token", err)
	}

	account := models.ChannelAccount{
		UserID:         rc.UserID,
		Channel:        req.Channel,
		Name:           strings.TrimSpace(req.Name),
		Address:        strings.TrimSpace(req.Address),
		IMAPHost:       req.IMAPHost,
		IMAPPort:       req.IMAPPort,
		IMAPUsername:   req.IMAPUsername,
		IMAPPassword:   imapPassword,
		IMAPEncryption: strings.ToUpper(req.IMAPEncryption),
		IMAPMailbox:    req.IMAPMailbox,
		SMTPHost:       req.SMTPHost,
		SMTPPort:       req.SMTPPort,
		SMTPUsername:   req.SMTPUsername,
		SMTPPassword:   smtpPassword,
		AccessToken:    accessToken,
		IsActive:       true,
	}

	if err := cc.DB.WithContext(rc.Context()).Create(&account).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create channel account", err)
	}

	cc.Logger.WithFields(rc.Fields()).WithFields(logrus.Fields{
		"account_id": account.ID,
		"channel":    account.Channel,
	}).Info("Channel account created")

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(account))
}

func (cc *ChannelAccountController) UpdateAccount(c *fiber.Ctx) error {
	rc := requestContext(c)
	account, err := cc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch channel account", err)
	}

	var req UpdateChannelAccountRequest
	if err := bindJSON(c, &req); err != nil {
		return serviceError(c, "", err)
	}

	updates := map[string]interface{}{}
	setString := func(column string, v *string) {
		if v != nil {
			updates[column] = strings.TrimSpace(*v)
		}
	}
	setString("name", req.Name)
	setString("address", req.Address)
	setString("imap_host", req.IMAPHost)
	setString("imap_username", req.IMAPUsername)
	setString("imap_mailbox", req.IMAPMailbox)
	setString("smtp_host", req.SMTPHost)
	setString("smtp_username", req.SMTPUsername)
	if req.IMAPEncryption != nil {
		updates["imap_encryption"] = strings.ToUpper(*req.IMAPEncryption)
	}
	if req.IMAPPort != nil {
		updates["imap_port"] = *req.IMAPPort
	}
	if req.SMTPPort != nil {
		updates["smtp_port"] = *req.SMTPPort
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	secrets := []struct {
		column string
		value  *string
	}{
		{"imap_password", req.IMAPPassword},
		{"smtp_password", req.SMTPPassword},
		{"access_token", req.AccessToken},
	}
	for _, secret := range secrets {
		if secret.value == nil {
			continue
		}
		sealed, err := utils.Encrypt(*secret.value)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
		}
		updates[secret.column] = sealed
	}

	if len(updates) > 0 {
		if err := cc.DB.WithContext(rc.Context()).Model(account).Updates(updates).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update channel account", err)
		}
	}

	updated, err := cc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch channel account", err)
	}
	return c.JSON(utils.SuccessResponse(updated))
}

// DeleteAccount removes the account. Messages already synced from it stay in the inbox.
func (cc *ChannelAccountController) DeleteAccount(c *fiber.Ctx) error {
	rc := requestContext(c)
	account, err := cc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch channel account", err)
	}
	if err := cc.DB.WithContext(rc.Context()).Delete(account).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete channel account", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"id": account.ID}))
}

// TestAccount performs one fetch against the channel without storing anything.
func (cc *ChannelAccountController) TestAccount(c *fiber.Ctx) error {
	rc := requestContext(c)
	account, err := cc.load(c)
	if err != nil {
		return serviceError(c, "Failed to fetch channel account", err)
	}

	src, ok := cc.Inbox.Sources[account.Channel]
	if !ok {
		return serviceError(c, "", services.ErrUnsupported)
	}

	fetched, err := src.Fetch(rc.Context(), account)
	if err != nil {
		cc.Logger.WithFields(rc.Fields()).WithError(err).WithField("account_id", account.ID).Warn("Channel account test failed")
		return c.JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"messages": len(fetched)}))
}
