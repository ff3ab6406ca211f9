package db

import (
	"testing"
	"time"

	"github.com/ikkim/cartage/config"
	"github.com/ikkim/cartage/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTestDB_MigratesCartTables(t *testing.T) {
	testDB, err := SetupTestDB()
	require.NoError(t, err)
	defer CleanupTestDB(testDB)

	for _, m := range model.CartModels() {
		assert.True(t, testDB.Migrator().HasTable(m))
	}

	// Running the migration again is harmless.
	require.NoError(t, MigrateDB(testDB))
}

func TestTruncateAllTables(t *testing.T) {
	testDB, err := SetupTestDB()
	require.NoError(t, err)
	defer CleanupTestDB(testDB)

	now := time.Now().UTC()
	require.NoError(t, testDB.Create(&model.Cart{ID: "c1", CreatedAt: now, LastModified: now}).Error)
	require.NoError(t, testDB.Create(&model.CartLine{CartID: "c1", ID: "l1", ProductCode: "A", CreatedAt: now}).Error)

	require.NoError(t, TruncateAllTables(testDB))

	var count int64
	testDB.Model(&model.Cart{}).Count(&count)
	assert.Zero(t, count)
	testDB.Model(&model.CartLine{}).Count(&count)
	assert.Zero(t, count)
}

func TestInitialize_RejectsRedisDriver(t *testing.T) {
	err := Initialize(&config.Config{Store: config.StoreConfig{Driver: config.DriverRedis}})
	assert.Error(t, err)
}

func TestInitialize_SQLiteFile(t *testing.T) {
	cfg := &config.Config{
		Store:    config.StoreConfig{Driver: config.DriverSQLite},
		Database: config.DatabaseConfig{SQLitePath: t.TempDir() + "/cartage.db"},
	}
	require.NoError(t, Initialize(cfg))
	defer Close()

	require.NoError(t, Migrate())
	assert.True(t, GetDB().Migrator().HasTable(&model.Cart{}))
}
