// Package testutil opens throwaway inquiry stores for tests.
package testutil

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/emitra/internal/storage"
)

const (
	sqliteTestDatabaseNamePrefix        = "emitra-test-db"
	sqliteInMemoryDataSourceNamePattern = "file:%s-%s?mode=memory&cache=shared&_foreign_keys=on"
)

// SQLiteTestDatabase describes a uniquely named in-memory SQLite database.
type SQLiteTestDatabase struct {
	configuration storage.Config
}

// NewSQLiteTestDatabase returns a configuration whose query warnings go to the test log.
func NewSQLiteTestDatabase(testingT *testing.T) SQLiteTestDatabase {
	testingT.Helper()
	return SQLiteTestDatabase{
		configuration: storage.Config{
			DriverName:     storage.DriverNameSQLite,
			DataSourceName: fmt.Sprintf(sqliteInMemoryDataSourceNamePattern, sqliteTestDatabaseNamePrefix, storage.NewID()),
			Logger:         zaptest.NewLogger(testingT, zaptest.Level(zap.WarnLevel)),
		},
	}
}

// Configuration returns the storage configuration for the temporary database.
func (database SQLiteTestDatabase) Configuration() storage.Config {
	return database.configuration
}

// DataSourceName returns the SQLite data source name for the temporary database.
func (database SQLiteTestDatabase) DataSourceName() string {
	return database.configuration.DataSourceName
}

// Open opens and migrates the database, closing it when the test ends.
func (database SQLiteTestDatabase) Open(testingT *testing.T) *gorm.DB {
	testingT.Helper()
	opened, openErr := storage.OpenDatabase(database.configuration)
	if openErr != nil {
		testingT.Fatalf("open sqlite database: %v", openErr)
	}
	sqlDatabase, sqlErr := opened.DB()
	if sqlErr != nil {
		testingT.Fatalf("sqlite handle: %v", sqlErr)
	}
	testingT.Cleanup(func() {
		_ = sqlDatabase.Close()
	})
	if migrateErr := storage.AutoMigrate(opened); migrateErr != nil {
		testingT.Fatalf("migrate sqlite database: %v", migrateErr)
	}
	return opened
}

// OpenSQLiteDatabase opens a migrated in-memory database that lives for the test.
func OpenSQLiteDatabase(testingT *testing.T) *gorm.DB {
	testingT.Helper()
	return NewSQLiteTestDatabase(testingT).Open(testingT)
}
