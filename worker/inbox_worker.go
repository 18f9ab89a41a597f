package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"growthos/services"
	"growthos/utils"
)

type InboxWorker struct {
	inbox    *services.InboxService
	logger   *logrus.Entry
	interval time.Duration
}

func NewInboxWorker(inbox *services.InboxService, logger *logrus.Entry, interval time.Duration) *InboxWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &InboxWorker{
		inbox:    inbox,
		logger:   logger,
		interval: interval,
	}
}

// Start syncs every user's channel accounts once per interval until ctx is cancelled.
func (w *InboxWorker) Start(ctx context.Context) {
	w.logger.WithField("interval", w.interval.String()).Info("Starting inbox worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.syncAll(ctx)
		case <-ctx.Done():
			w.logger.Info("Stopping inbox worker")
			return
		}
	}
}

func (w *InboxWorker) syncAll(ctx context.Context) {
	rc := &utils.RequestContext{Ctx: ctx, RequestID: uuid.NewString()}
	started := time.Now()

	results := w.inbox.SyncAllUsers(rc)

	fetched, failed := 0, 0
	for userID, userResults := range results {
		for _, r := range userResults {
			fetched += r.Fetched
			if r.Error != "" {
				failed++
				w.logger.WithFields(logrus.Fields{
					"user_id":    userID,
					"account_id": r.AccountID,
					"channel":    r.Channel,
				}).Warn(r.Error)
			}
		}
	}

	w.logger.WithFields(logrus.Fields{
		"request_id": rc.RequestID,
		"users":      len(results),
		"fetched":    fetched,
		"failed":     failed,
		"took":       time.Since(started).String(),
	}).Info("Inbox sync pass finished")
}
