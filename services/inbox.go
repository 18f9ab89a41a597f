package services

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"growthos/models"
	"growthos/utils"
)

// Inbox filters
const (
	FilterAll      = "all"
	FilterUnread   = "unread"
	FilterStarred  = "starred"
	FilterArchived = "archived"
)

type InboxCounts struct {
	All      int `json:"all"`
	Unread   int `json:"unread"`
	Starred  int `json:"starred"`
	Archived int `json:"archived"`
}

// CountInbox computes every filter count from one set of messages.
func CountInbox(messages []models.InboxMessage) InboxCounts {
	var counts InboxCounts
	for i := range messages {
		m := &messages[i]
		if m.IsArchived {
			counts.Archived++
			continue
		}
		counts.All++
		if !m.IsRead {
			counts.Unread++
		}
		if m.IsStarred {
			counts.Starred++
		}
	}
	return counts
}

// FilterInbox returns the messages visible under filter. Unknown filters behave like "all".
func FilterInbox(messages []models.InboxMessage, filter string) []models.InboxMessage {
	out := make([]models.InboxMessage, 0, len(messages))
	for _, m := range messages {
		if matchesFilter(&m, filter) {
			out = append(out, m)
		}
	}
	return out
}

func matchesFilter(m *models.InboxMessage, filter string) bool {
	switch filter {
	case FilterArchived:
		return m.IsArchived
	case FilterUnread:
		return !m.IsArchived && !m.IsRead
	case FilterStarred:
		return !m.IsArchived && m.IsStarred
	default:
		return !m.IsArchived
	}
}

// MessageUpdate is a partial flag update; nil fields are left alone.
type MessageUpdate struct {
	IsRead     *bool `json:"is_read"`
	IsStarred  *bool `json:"is_starred"`
	IsArchived *bool `json:"is_archived"`
}

func (u MessageUpdate) columns() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.IsRead != nil {
		updates["is_read"] = *u.IsRead
	}
	if u.IsStarred != nil {
		updates["is_starred"] = *u.IsStarred
	}
	if u.IsArchived != nil {
		updates["is_archived"] = *u.IsArchived
	}
	return updates
}

// SyncResult reports one account's sync.
type SyncResult struct {
	AccountID uint   `json:"account_id"`
	Channel   string `json:"channel"`
	Fetched   int    `json:"fetched"`
	Error     string `json:"error,omitempty"`
}

type InboxService struct {
	DB      *gorm.DB
	Logger  *logrus.Entry
	Sources map[string]ChannelSource
	Now     func() time.Time
}

func NewInboxService(db *gorm.DB, logger *logrus.Entry, sources ...ChannelSource) *InboxService {
	s := &InboxService{
		DB:      db,
		Logger:  logger,
		Sources: make(map[string]ChannelSource, len(sources)),
		Now:     time.Now,
	}
	for _, src := range sources {
		s.Sources[src.Channel()] = src
	}
	return s
}

// List loads the user's messages once and derives the filtered list and all counts from it.
func (s *InboxService) List(rc *utils.RequestContext, filter string) ([]models.InboxMessage, InboxCounts, error) {
	var all []models.InboxMessage
	if err := s.DB.WithContext(rc.Context()).
		Where("user_id = ?", rc.UserID).
		Order("received_at DESC").
		Find(&all).Error; err != nil {
		return nil, InboxCounts{}, fmt.Errorf("failed to load inbox: %w", err)
	}
	return FilterInbox(all, filter), CountInbox(all), nil
}

func (s *InboxService) Get(rc *utils.RequestContext, id uint) (*models.InboxMessage, error) {
	var msg models.InboxMessage
	err := s.DB.WithContext(rc.Context()).
		Where("id = ? AND user_id = ?", id, rc.UserID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Update applies a partial flag update to one message in a single statement.
func (s *InboxService) Update(rc *utils.RequestContext, id uint, update MessageUpdate) (*models.InboxMessage, error) {
	msg, err := s.Get(rc, id)
	if err != nil {
		return nil, err
	}

	cols := update.columns()
	if len(cols) == 0 {
		return msg, nil
	}
	if err := s.DB.WithContext(rc.Context()).Model(msg).Updates(cols).Error; err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return s.Get(rc, id)
}

// Store upserts fetched messages for an account. Read state already set locally is kept.
func (s *InboxService) Store(rc *utils.RequestContext, channel string, accountID *uint, fetched []FetchedMessage) (int, error) {
	if len(fetched) == 0 {
		return 0, nil
	}

	rows := make([]models.InboxMessage, 0, len(fetched))
	for _, f := range fetched {
		if f.ExternalID == "" {
			continue
		}
		received := f.ReceivedAt
		if received.IsZero() {
			received = s.Now()
		}
		rows = append(rows, models.InboxMessage{
			UserID:      rc.UserID,
			AccountID:   accountID,
			Channel:     channel,
			ExternalID:  f.ExternalID,
			ThreadID:    f.ThreadID,
			FromName:    f.FromName,
			FromAddress: f.FromAddress,
			ToAddress:   f.ToAddress,
			Subject:     f.Subject,
			Body:        f.Body,
			BodyHTML:    f.BodyHTML,
			ReceivedAt:  received,
			IsRead:      f.IsRead,
			ProspectID:  s.matchProspect(rc, f.FromAddress),
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := s.DB.WithContext(rc.Context()).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "channel"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"thread_id", "from_name", "from_address", "to_address",
			"subject", "body", "body_html", "received_at", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to store messages: %w", err)
	}

	utils.InboxSynced.WithLabelValues(channel).Add(float64(len(rows)))
	return len(rows), nil
}

func (s *InboxService) matchProspect(rc *utils.RequestContext, address string) *uint {
	if address == "" {
		return nil
	}
	var prospect models.Prospect
	err := s.DB.WithContext(rc.Context()).
		Select("id").
		Where("user_id = ? AND (LOWER(email) = LOWER(?) OR phone = ?)", rc.UserID, address, address).
		First(&prospect).Error
	if err != nil {
		return nil
	}
	return &prospect.ID
}

// Sync fetches every active channel account of the user concurrently. A failing account is
// reported in its result and does not stop the others.
func (s *InboxService) Sync(rc *utils.RequestContext) ([]SyncResult, error) {
	return s.SyncEach(rc, nil)
}

// SyncEach is Sync with a callback invoked as each account finishes. Calls to onResult are
// serialized.
func (s *InboxService) SyncEach(rc *utils.RequestContext, onResult func(SyncResult)) ([]SyncResult, error) {
	var accounts []models.ChannelAccount
	if err := s.DB.WithContext(rc.Context()).
		Where("user_id = ? AND is_active = ?", rc.UserID, true).
		Order("id ASC").
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to load channel accounts: %w", err)
	}

	var mu sync.Mutex
	results := make([]SyncResult, len(accounts))
	g, gctx := errgroup.WithContext(rc.Context())
	for i := range accounts {
		i := i
		g.Go(func() error {
			scoped := *rc
			scoped.Ctx = gctx
			results[i] = s.syncAccount(&scoped, &accounts[i])
			if onResult != nil {
				mu.Lock()
				onResult(results[i])
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (s *InboxService) syncAccount(rc *utils.RequestContext, account *models.ChannelAccount) SyncResult {
	result := SyncResult{AccountID: account.ID, Channel: account.Channel}
	log := s.Logger.WithFields(rc.Fields()).WithFields(logrus.Fields{
		"account_id": account.ID,
		"channel":    account.Channel,
	})

	src, ok := s.Sources[account.Channel]
	if !ok {
		result.Error = fmt.Sprintf("%s: %s", ErrUnsupported, account.Channel)
		return result
	}

	started := s.Now()
	fetched, err := src.Fetch(rc.Context(), account)
	if err == nil {
		result.Fetched, err = s.Store(rc, account.Channel, &account.ID, fetched)
	}

	updates := map[string]interface{}{}
	if err != nil {
		result.Error = err.Error()
		updates["last_error"] = result.Error
		log.WithError(err).Warn("Inbox sync failed")
	} else {
		updates["last_synced_at"] = started
		updates["last_error"] = nil
		log.WithField("fetched", result.Fetched).Debug("Inbox sync completed")
	}
	if uerr := s.DB.WithContext(rc.Context()).Model(account).Updates(updates).Error; uerr != nil {
		log.WithError(uerr).Error("Failed to record sync state")
	}
	return result
}

// Reply sends body as a reply to message id through the account it arrived on.
func (s *InboxService) Reply(rc *utils.RequestContext, id uint, body string) error {
	msg, err := s.Get(rc, id)
	if err != nil {
		return err
	}
	if msg.AccountID == nil {
		return fmt.Errorf("%w: message has no channel account", ErrUnsupported)
	}

	var account models.ChannelAccount
	if err := s.DB.WithContext(rc.Context()).
		Where("id = ? AND user_id = ?", *msg.AccountID, rc.UserID).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	src, ok := s.Sources[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, msg.Channel)
	}
	if err := src.Reply(rc.Context(), &account, msg, body); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}

	if !msg.IsRead {
		read := true
		if _, err := s.Update(rc, id, MessageUpdate{IsRead: &read}); err != nil {
			s.Logger.WithFields(rc.Fields()).WithError(err).Warn("Failed to mark replied message read")
		}
	}
	return nil
}

// SyncAllUsers runs Sync for every user owning an active channel account.
func (s *InboxService) SyncAllUsers(rc *utils.RequestContext) map[uint][]SyncResult {
	var userIDs []uint
	if err := s.DB.WithContext(rc.Context()).
		Model(&models.ChannelAccount{}).
		Where("is_active = ?", true).
		Distinct().
		Pluck("user_id", &userIDs).Error; err != nil {
		s.Logger.WithError(err).Error("Failed to list users with channel accounts")
		return nil
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	out := make(map[uint][]SyncResult, len(userIDs))
	for _, userID := range userIDs {
		if rc.Context().Err() != nil {
			break
		}
		userRC := *rc
		userRC.UserID = userID
		results, err := s.Sync(&userRC)
		if err != nil {
			s.Logger.WithField("user_id", userID).WithError(err).Error("Inbox sync failed")
			continue
		}
		out[userID] = results
	}
	return out
}
