package testutil

import (
	"testing"

	"github.com/sgic-platform/sgic-audit/cache"
	"github.com/sgic-platform/sgic-audit/config"
	dbadapter "github.com/sgic-platform/sgic-audit/db"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SetupTestDB creates a private in-memory SQLite DB and runs AutoMigrate,
// storage guards included. It requires no external services.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode: dbadapter.ModeSQLiteMemory,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// CreateUser inserts an agent with the given role and password "password".
func CreateUser(t *testing.T, db *gorm.DB, username, lastName, role string) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	pin, err := bcrypt.GenerateFromPassword([]byte("1234"), bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{
		Username:     username,
		PasswordHash: string(hash),
		PINHash:      string(pin),
		FirstName:    "Agent",
		LastName:     lastName,
		Role:         role,
		Status:       model.UserStatusActive,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}
