package controller

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"growthos/services"
	"growthos/utils"
)

type InboxController struct {
	Logger  *logrus.Entry
	Service *services.InboxService
}

func NewInboxController(logger *logrus.Entry, svc *services.InboxService) *InboxController {
	return &InboxController{Logger: logger, Service: svc}
}

// GetMessages returns the messages under ?filter= together with the count of every filter.
func (ic *InboxController) GetMessages(c *fiber.Ctx) error {
	rc := requestContext(c)
	filter := c.Query("filter", services.FilterAll)
	switch filter {
	case services.FilterAll, services.FilterUnread, services.FilterStarred, services.FilterArchived:
	default:
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid filter", nil)
	}

	messages, counts, err := ic.Service.List(rc, filter)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch messages", err)
	}

	if channel := c.Query("channel"); channel != "" {
		kept := messages[:0]
		for _, m := range messages {
			if m.Channel == channel {
				kept = append(kept, m)
			}
		}
		messages = kept
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    messages,
		"counts":  counts,
	})
}

// GetMessage returns one message and marks it read.
func (ic *InboxController) GetMessage(c *fiber.Ctx) error {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}

	msg, err := ic.Service.Get(rc, id)
	if err != nil {
		return serviceError(c, "Failed to fetch message", err)
	}
	if !msg.IsRead {
		read := true
		if msg, err = ic.Service.Update(rc, id, services.MessageUpdate{IsRead: &read}); err != nil {
			return serviceError(c, "Failed to mark message read", err)
		}
	}
	return c.JSON(utils.SuccessResponse(msg))
}

func (ic *InboxController) UpdateMessage(c *fiber.Ctx) error {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}

	var update services.MessageUpdate
	if err := bindJSON(c, &update); err != nil {
		return serviceError(c, "", err)
	}

	msg, err := ic.Service.Update(rc, id, update)
	if err != nil {
		return serviceError(c, "Failed to update message", err)
	}
	return c.JSON(utils.SuccessResponse(msg))
}

func (ic *InboxController) SyncMessages(c *fiber.Ctx) error {
	rc := requestContext(c)

	results, err := ic.Service.Sync(rc)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to sync inbox", err)
	}

	fetched := 0
	for _, r := range results {
		fetched += r.Fetched
	}
	ic.Logger.WithFields(rc.Fields()).WithFields(logrus.Fields{
		"accounts": len(results),
		"fetched":  fetched,
	}).Info("Inbox synced")

	return c.JSON(fiber.Map{
		"success": true,
		"data":    results,
		"fetched": fetched,
	})
}

func (ic *InboxController) ReplyMessage(c *fiber.Ctx) error {
	rc := requestContext(c)
	id, err := paramID(c)
	if err != nil {
		return serviceError(c, "", err)
	}

	var input struct {
		Body string `json:"body" validate:"required,max=20000"`
	}
	if err := bindJSON(c, &input); err != nil {
		return serviceError(c, "", err)
	}
	if strings.TrimSpace(input.Body) == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "body is required", nil)
	}

	if err := ic.Service.Reply(rc, id, input.Body); err != nil {
		return serviceError(c, "Failed to send reply", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Reply sent"}))
}

type syncProgress struct {
	Status   string                `json:"status"` // running, completed, error
	Accounts int                   `json:"accounts,omitempty"`
	Done     int                   `json:"done"`
	Result   *services.SyncResult  `json:"result,omitempty"`
	Results  []services.SyncResult `json:"results,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// SyncStream runs a sync when the client sends {"action":"sync"} and pushes one frame per
// account as it finishes.
func (ic *InboxController) SyncStream(conn *websocket.Conn) {
	defer conn.Close()

	rc, _ := conn.Locals(utils.RequestContextKey).(*utils.RequestContext)
	if rc == nil {
		_ = conn.WriteJSON(syncProgress{Status: "error", Error: "Unauthorized"})
		return
	}
	log := ic.Logger.WithFields(rc.Fields())

	var input struct {
		Action string `json:"action"`
	}
	if err := conn.ReadJSON(&input); err != nil {
		log.WithError(err).Debug("Error reading sync request")
		return
	}
	if input.Action != "sync" {
		_ = conn.WriteJSON(syncProgress{Status: "error", Error: "Unknown action"})
		return
	}

	done := 0
	results, err := ic.Service.SyncEach(rc, func(r services.SyncResult) {
		done++
		if werr := conn.WriteJSON(syncProgress{Status: "running", Done: done, Result: &r}); werr != nil {
			log.WithError(werr).Debug("Error writing sync progress")
		}
	})
	if err != nil {
		_ = conn.WriteJSON(syncProgress{Status: "error", Error: err.Error()})
		return
	}

	if err := conn.WriteJSON(syncProgress{
		Status:   "completed",
		Accounts: len(results),
		Done:     done,
		Results:  results,
	}); err != nil {
		log.WithError(err).Debug("Error writing sync result")
	}
}
