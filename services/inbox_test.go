package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/utils"
)

type fakeSource struct {
	channel  string
	messages []FetchedMessage
	err      error

	mu      sync.Mutex
	replies []string
}

func (f *fakeSource) Channel() string { return f.channel }

func (f *fakeSource) Fetch(context.Context, *models.ChannelAccount) ([]FetchedMessage, error) {
	return f.messages, f.err
}

func (f *fakeSource) Reply(_ context.Context, _ *models.ChannelAccount, _ *models.InboxMessage, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, body)
	return f.err
}

func createAccount(t *testing.T, db *gorm.DB, rc *utils.RequestContext, channel string) *models.ChannelAccount {
	t.Helper()
	account := models.ChannelAccount{UserID: rc.UserID, Channel: channel, Name: channel + " account", IsActive: true}
	require.NoError(t, db.Create(&account).Error)
	return &account
}

func TestInboxFilterAndCounts(t *testing.T) {
	messages := []models.InboxMessage{
		{ExternalID: "1", IsRead: true, IsArchived: true},
		{ExternalID: "2"},
		{ExternalID: "3", IsRead: true, IsStarred: true},
		{ExternalID: "4", IsStarred: true},
		{ExternalID: "5", IsStarred: true, IsArchived: true},
	}

	counts := CountInbox(messages)
	assert.Equal(t, InboxCounts{All: 3, Unread: 2, Starred: 2, Archived: 2}, counts)

	ids := func(ms []models.InboxMessage) []string {
		out := []string{}
		for _, m := range ms {
			out = append(out, m.ExternalID)
		}
		return out
	}

	tests := []struct {
		filter string
		want   []string
	}{
		{FilterAll, []string{"2", "3", "4"}},
		{FilterUnread, []string{"2", "4"}},
		{FilterStarred, []string{"3", "4"}},
		{FilterArchived, []string{"1", "5"}},
		{"bogus", []string{"2", "3", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(FilterInbox(messages, tt.filter)))
		})
	}
}

func TestInboxStoreUpserts(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewInboxService(db, testLogger())
	account := createAccount(t, db, rc, models.ChannelEmail)
	prospect := createProspect(t, db, rc, "jane@acme.com")

	received := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	msg := FetchedMessage{
		ExternalID:  "<abc@acme.com>",
		FromAddress: "JANE@acme.com",
		Subject:     "Hello",
		Body:        "first",
		ReceivedAt:  received,
	}

	n, err := svc.Store(rc, models.ChannelEmail, &account.ID, []FetchedMessage{msg})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, _, err := svc.List(rc, FilterAll)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].ProspectID)
	assert.Equal(t, prospect.ID, *list[0].ProspectID)

	read := true
	_, err = svc.Update(rc, list[0].ID, MessageUpdate{IsRead: &read})
	require.NoError(t, err)

	msg.Body = "edited"
	_, err = svc.Store(rc, models.ChannelEmail, &account.ID, []FetchedMessage{msg, {FromAddress: "no-id@acme.com"}})
	require.NoError(t, err)

	list, counts, err := svc.List(rc, FilterAll)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "edited", list[0].Body)
	assert.True(t, list[0].IsRead, "local read state survives a resync")
	assert.Equal(t, 0, counts.Unread)
}

func TestInboxUpdateIsPartial(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewInboxService(db, testLogger())

	_, err := svc.Store(rc, models.ChannelLinkedIn, nil, []FetchedMessage{{ExternalID: "m1", FromAddress: "urn:li:person:1", IsRead: true}})
	require.NoError(t, err)
	list, _, err := svc.List(rc, FilterAll)
	require.NoError(t, err)
	require.Len(t, list, 1)

	starred := true
	updated, err := svc.Update(rc, list[0].ID, MessageUpdate{IsStarred: &starred})
	require.NoError(t, err)
	assert.True(t, updated.IsStarred)
	assert.True(t, updated.IsRead)
	assert.False(t, updated.IsArchived)

	archived := true
	updated, err = svc.Update(rc, list[0].ID, MessageUpdate{IsArchived: &archived})
	require.NoError(t, err)
	assert.True(t, updated.IsStarred)
	assert.True(t, updated.IsArchived)

	other := createUser(t, db, "other@example.com")
	_, err = svc.Update(other, list[0].ID, MessageUpdate{IsStarred: &starred})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInboxSyncIsolatesFailures(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")

	email := &fakeSource{channel: models.ChannelEmail, messages: []FetchedMessage{
		{ExternalID: "e1", FromAddress: "a@x.com"},
		{ExternalID: "e2", FromAddress: "b@x.com"},
	}}
	linkedin := &fakeSource{channel: models.ChannelLinkedIn, err: errors.New("token expired")}
	svc := NewInboxService(db, testLogger(), email, linkedin)

	emailAccount := createAccount(t, db, rc, models.ChannelEmail)
	linkedinAccount := createAccount(t, db, rc, models.ChannelLinkedIn)
	createAccount(t, db, rc, models.ChannelWhatsApp)

	var streamed []SyncResult
	results, err := svc.SyncEach(rc, func(r SyncResult) { streamed = append(streamed, r) })
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Len(t, streamed, 3)

	assert.Equal(t, 2, results[0].Fetched)
	assert.Empty(t, results[0].Error)
	assert.Contains(t, results[1].Error, "token expired")
	assert.Contains(t, results[2].Error, ErrUnsupported.Error())

	var stored int64
	require.NoError(t, db.Model(&models.InboxMessage{}).Count(&stored).Error)
	assert.EqualValues(t, 2, stored)

	var ok, failed models.ChannelAccount
	require.NoError(t, db.First(&ok, emailAccount.ID).Error)
	require.NoError(t, db.First(&failed, linkedinAccount.ID).Error)
	assert.NotNil(t, ok.LastSyncedAt)
	assert.Nil(t, ok.LastError)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "token expired")
}

func TestInboxSyncAllUsers(t *testing.T) {
	db := newTestDB(t)
	first := createUser(t, db, "one@example.com")
	second := createUser(t, db, "two@example.com")
	createUser(t, db, "idle@example.com")

	email := &fakeSource{channel: models.ChannelEmail, messages: []FetchedMessage{{ExternalID: "shared", FromAddress: "a@x.com"}}}
	svc := NewInboxService(db, testLogger(), email)
	createAccount(t, db, first, models.ChannelEmail)
	createAccount(t, db, second, models.ChannelEmail)

	results := svc.SyncAllUsers(&utils.RequestContext{Ctx: context.Background()})
	assert.Len(t, results, 2)
	assert.Equal(t, 1, results[first.UserID][0].Fetched)
	assert.Equal(t, 1, results[second.UserID][0].Fetched)

	var stored int64
	require.NoError(t, db.Model(&models.InboxMessage{}).Count(&stored).Error)
	assert.EqualValues(t, 2, stored, "the same external id is kept per user")
}

func TestInboxReply(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	email := &fakeSource{channel: models.ChannelEmail}
	svc := NewInboxService(db, testLogger(), email)
	account := createAccount(t, db, rc, models.ChannelEmail)

	_, err := svc.Store(rc, models.ChannelEmail, &account.ID, []FetchedMessage{{ExternalID: "m1", FromAddress: "a@x.com"}})
	require.NoError(t, err)
	_, err = svc.Store(rc, models.ChannelEmail, nil, []FetchedMessage{{ExternalID: "m2", FromAddress: "b@x.com"}})
	require.NoError(t, err)

	var withAccount, orphan models.InboxMessage
	require.NoError(t, db.Where("external_id = ?", "m1").First(&withAccount).Error)
	require.NoError(t, db.Where("external_id = ?", "m2").First(&orphan).Error)

	require.NoError(t, svc.Reply(rc, withAccount.ID, "Thanks!"))
	assert.Equal(t, []string{"Thanks!"}, email.replies)

	reloaded, err := svc.Get(rc, withAccount.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsRead)

	assert.ErrorIs(t, svc.Reply(rc, orphan.ID, "Hi"), ErrUnsupported)
	assert.ErrorIs(t, svc.Reply(rc, 9999, "Hi"), ErrNotFound)
}
