// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"momentum/internal/database"
	"momentum/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory sqlite database with the full schema.
// A single connection keeps concurrent callers on one shared database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// NewMockDB returns a postgres-dialect gorm handle backed by sqlmock.
func NewMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gormDB, mock
}

// CreateUser inserts a user with a unique username.
func CreateUser(t *testing.T, db *gorm.DB, mutate ...func(*models.User)) *models.User {
	t.Helper()
	u := &models.User{
		Username:    "user_" + uuid.NewString()[:8],
		DisplayName: "Test User",
		Industry:    "technology",
	}
	for _, m := range mutate {
		m(u)
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// CreatePost inserts an active public post by author.
func CreatePost(t *testing.T, db *gorm.DB, author *models.User, mutate ...func(*models.Post)) *models.Post {
	t.Helper()
	p := &models.Post{
		UserID:      author.ID,
		Content:     "hello from " + author.Username,
		ContentType: models.ContentTypeText,
		Industry:    author.Industry,
		Visibility:  models.DefaultVisibility,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	for _, m := range mutate {
		m(p)
	}
	active := p.IsActive
	require.NoError(t, db.Create(p).Error)
	// gorm skips zero values for columns with a default
	if !active {
		require.NoError(t, db.Model(p).Update("is_active", false).Error)
		p.IsActive = false
	}
	return p
}
