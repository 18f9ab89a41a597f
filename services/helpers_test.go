package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"growthos/models"
	"growthos/utils"
)

var dbSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	return db
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func createUser(t *testing.T, db *gorm.DB, email string) *utils.RequestContext {
	t.Helper()
	user := models.User{Email: email, PasswordHash: "x", IsActive: true}
	require.NoError(t, db.Create(&user).Error)
	return &utils.RequestContext{Ctx: context.Background(), UserID: user.ID, Email: email, RequestID: "test"}
}

func createProspect(t *testing.T, db *gorm.DB, rc *utils.RequestContext, email string) *models.Prospect {
	t.Helper()
	p := models.Prospect{UserID: rc.UserID, Email: email, FirstName: strings.Split(email, "@")[0]}
	require.NoError(t, db.Create(&p).Error)
	return &p
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
