package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/emitra/internal/model"
)

func TestOpenDatabaseWrapsOpenerError(testingT *testing.T) {
	originalOpeners := databaseOpeners
	testingT.Cleanup(func() {
		databaseOpeners = originalOpeners
	})

	var received Config
	databaseOpeners = map[string]databaseOpener{
		DriverNameSQLite: func(configuration Config) (*gorm.DB, error) {
			received = configuration
			return nil, errors.New("open failure")
		},
	}

	_, openErr := OpenDatabase(Config{
		DriverName:     " " + DriverNameSQLite + " ",
		DataSourceName: " file:kiosk.db ",
	})
	require.ErrorContains(testingT, openErr, errorMessageOpenDatabase)
	require.Equal(testingT, DriverNameSQLite, received.DriverName)
	require.Equal(testingT, "file:kiosk.db", received.DataSourceName)
	require.Equal(testingT, DefaultBusyTimeout, received.BusyTimeout)
	require.Equal(testingT, DefaultSlowQueryThreshold, received.SlowQueryThreshold)
	require.NotNil(testingT, received.Logger)
}

func TestOpenSQLiteDatabaseReportsOpenError(testingT *testing.T) {
	missingDirectory := filepath.Join(testingT.TempDir(), "missing")
	dataSourceName := fmt.Sprintf("file:%s?mode=rwc&_foreign_keys=on", filepath.Join(missingDirectory, "kiosk.db"))

	_, openErr := openSQLiteDatabase(Config{DataSourceName: dataSourceName}.withDefaults())
	require.ErrorContains(testingT, openErr, errorMessageOpenSQLiteDatabase)
}

func TestOpenSQLiteDatabaseRequiresDataSourceName(testingT *testing.T) {
	database, openErr := openSQLiteDatabase(Config{DriverName: DriverNameSQLite}.withDefaults())
	require.ErrorIs(testingT, openErr, ErrMissingDataSourceName)
	require.Nil(testingT, database)
}

func TestWithBusyTimeout(testingT *testing.T) {
	testCases := []struct {
		name           string
		dataSourceName string
		expected       string
	}{
		{
			name:           "no query",
			dataSourceName: "file:kiosk.db",
			expected:       "file:kiosk.db?_pragma=busy_timeout(2500)",
		},
		{
			name:           "existing query",
			dataSourceName: "file:kiosk.db?_foreign_keys=on",
			expected:       "file:kiosk.db?_foreign_keys=on&_pragma=busy_timeout(2500)",
		},
		{
			name:           "other pragma kept",
			dataSourceName: "file:kiosk.db?_pragma=journal_mode(WAL)",
			expected:       "file:kiosk.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2500)",
		},
		{
			name:           "explicit busy timeout wins",
			dataSourceName: "file:kiosk.db?_pragma=BUSY_TIMEOUT(100)",
			expected:       "file:kiosk.db?_pragma=BUSY_TIMEOUT(100)",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			dataSourceName, pragmaErr := withBusyTimeout(testCase.dataSourceName, 2500*time.Millisecond)
			require.NoError(testingT, pragmaErr)
			require.Equal(testingT, testCase.expected, dataSourceName)
		})
	}
}

func TestWithBusyTimeoutRejectsMalformedQuery(testingT *testing.T) {
	_, pragmaErr := withBusyTimeout("file:kiosk.db?mode=%zz", time.Second)
	require.ErrorIs(testingT, pragmaErr, ErrInvalidDataSourceName)
}

func TestSQLErrorsAreLoggedThroughZap(testingT *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	database, openErr := OpenDatabase(Config{
		DriverName:     DriverNameSQLite,
		DataSourceName: fmt.Sprintf("file:%s?mode=memory&cache=shared", NewID()),
		Logger:         zap.New(core),
	})
	require.NoError(testingT, openErr)

	queryErr := database.Exec("SELECT * FROM missing_table").Error
	require.Error(testingT, queryErr)
	require.NotEmpty(testingT, observed.FilterLoggerName("database").All())
}

func TestAutoMigrateNamesFailingStep(testingT *testing.T) {
	database, openErr := OpenDatabase(Config{
		DriverName:     DriverNameSQLite,
		DataSourceName: fmt.Sprintf("file:%s?mode=memory&cache=shared", NewID()),
	})
	require.NoError(testingT, openErr)
	sqlDatabase, sqlErr := database.DB()
	require.NoError(testingT, sqlErr)
	require.NoError(testingT, sqlDatabase.Close())

	migrateErr := AutoMigrate(database)
	require.ErrorContains(testingT, migrateErr, "migration create_tables")
	require.Error(testingT, backfillInquiryKinds(database))
}

func TestBackfillInquiryKindsUpdatesLegacyRows(testingT *testing.T) {
	database, openErr := OpenDatabase(Config{
		DriverName:     DriverNameSQLite,
		DataSourceName: fmt.Sprintf("file:%s?mode=memory&cache=shared", NewID()),
	})
	require.NoError(testingT, openErr)
	sqlDatabase, sqlErr := database.DB()
	require.NoError(testingT, sqlErr)
	testingT.Cleanup(func() { _ = sqlDatabase.Close() })
	require.NoError(testingT, AutoMigrate(database))

	require.NoError(testingT, database.Exec(
		"INSERT INTO inquiries (kind, name, phone_number, message, created_at) VALUES ('', 'Asha', '9876543210', 'legacy', CURRENT_TIMESTAMP)",
	).Error)
	require.NoError(testingT, AutoMigrate(database))

	var kind string
	require.NoError(testingT, database.Raw("SELECT kind FROM inquiries WHERE name = 'Asha'").Scan(&kind).Error)
	require.Equal(testingT, "contact", kind)
}

func openInternalDatabase(testingT *testing.T) *gorm.DB {
	testingT.Helper()
	database, openErr := OpenDatabase(Config{
		DriverName:     DriverNameSQLite,
		DataSourceName: fmt.Sprintf("file:%s?mode=memory&cache=shared", NewID()),
	})
	require.NoError(testingT, openErr)
	require.NoError(testingT, AutoMigrate(database))
	return database
}

func TestAdminGrantsLapseAndArePruned(testingT *testing.T) {
	database := openInternalDatabase(testingT)
	repository := NewInquiryRepository(database)
	issuedAt := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	repository.now = func() time.Time { return issuedAt }
	ctx := context.Background()

	lapsing, lapsingErr := model.NewAdminGrant("lapsing-session", "anon:one", issuedAt.Add(time.Minute))
	require.NoError(testingT, lapsingErr)
	require.NoError(testingT, repository.GrantAdmin(ctx, lapsing))

	isAdmin, adminErr := repository.IsAdmin(ctx, lapsing.SessionID)
	require.NoError(testingT, adminErr)
	require.True(testingT, isAdmin)

	repository.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	isAdmin, adminErr = repository.IsAdmin(ctx, lapsing.SessionID)
	require.NoError(testingT, adminErr)
	require.False(testingT, isAdmin)

	fresh, freshErr := model.NewAdminGrant("fresh-session", "anon:two", issuedAt.Add(time.Hour))
	require.NoError(testingT, freshErr)
	require.NoError(testingT, repository.GrantAdmin(ctx, fresh))

	var remaining []model.AdminGrant
	require.NoError(testingT, database.Find(&remaining).Error)
	require.Len(testingT, remaining, 1)
	require.Equal(testingT, fresh.SessionID, remaining[0].SessionID)
}

type principalKeyedGrant struct {
	Principal string `gorm:"primaryKey;size:200"`
	GrantedAt time.Time
}

func (principalKeyedGrant) TableName() string {
	return "admin_grants"
}

func TestAutoMigrateDropsPrincipalKeyedGrants(testingT *testing.T) {
	database, openErr := OpenDatabase(Config{
		DriverName:     DriverNameSQLite,
		DataSourceName: fmt.Sprintf("file:%s?mode=memory&cache=shared", NewID()),
	})
	require.NoError(testingT, openErr)
	require.NoError(testingT, database.AutoMigrate(&principalKeyedGrant{}))
	require.NoError(testingT, database.Create(&principalKeyedGrant{Principal: "user:K107182721", GrantedAt: time.Now()}).Error)

	require.NoError(testingT, AutoMigrate(database))

	require.True(testingT, database.Migrator().HasColumn(&model.AdminGrant{}, "SessionID"))
	var count int64
	require.NoError(testingT, database.Model(&model.AdminGrant{}).Count(&count).Error)
	require.Zero(testingT, count)

	isAdmin, adminErr := NewInquiryRepository(database).IsAdmin(context.Background(), "user:K107182721")
	require.NoError(testingT, adminErr)
	require.False(testingT, isAdmin)

	require.NoError(testingT, AutoMigrate(database))
}
