package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	// DriverNameSQLite identifies the SQLite driver implementation.
	DriverNameSQLite = "sqlite"

	// DefaultBusyTimeout bounds how long a writer waits on a locked kiosk database.
	DefaultBusyTimeout = 5 * time.Second
	// DefaultSlowQueryThreshold is the duration above which queries are logged as slow.
	DefaultSlowQueryThreshold = 200 * time.Millisecond

	sqlitePragmaParameter = "_pragma"
	sqliteBusyTimeoutName = "busy_timeout"

	errorMessageMissingDatabaseDriverName = "storage: missing database driver name"
	errorMessageUnsupportedDatabaseDriver = "storage: unsupported database driver"
	errorMessageMissingDataSourceName     = "storage: missing database data source name"
	errorMessageInvalidDataSourceName     = "storage: invalid database data source name"
	errorMessageOpenDatabase              = "storage: open database"
	errorMessageOpenSQLiteDatabase        = "storage: open sqlite database"
)

var (
	// ErrMissingDatabaseDriverName indicates the database driver name configuration was omitted.
	ErrMissingDatabaseDriverName = errors.New(errorMessageMissingDatabaseDriverName)
	// ErrUnsupportedDatabaseDriver indicates the provided database driver is not supported.
	ErrUnsupportedDatabaseDriver = errors.New(errorMessageUnsupportedDatabaseDriver)
	// ErrMissingDataSourceName indicates the database data source name configuration was omitted.
	ErrMissingDataSourceName = errors.New(errorMessageMissingDataSourceName)
	// ErrInvalidDataSourceName indicates the data source name could not be parsed.
	ErrInvalidDataSourceName = errors.New(errorMessageInvalidDataSourceName)
)

type databaseOpener func(Config) (*gorm.DB, error)

var databaseOpeners = map[string]databaseOpener{
	DriverNameSQLite: openSQLiteDatabase,
}

// Config captures database connection configuration. Logger receives slow
// queries and SQL errors; nil discards them.
type Config struct {
	DriverName         string
	DataSourceName     string
	BusyTimeout        time.Duration
	SlowQueryThreshold time.Duration
	Logger             *zap.Logger
}

func (configuration Config) withDefaults() Config {
	configuration.DriverName = strings.TrimSpace(configuration.DriverName)
	configuration.DataSourceName = strings.TrimSpace(configuration.DataSourceName)
	if configuration.BusyTimeout <= 0 {
		configuration.BusyTimeout = DefaultBusyTimeout
	}
	if configuration.SlowQueryThreshold <= 0 {
		configuration.SlowQueryThreshold = DefaultSlowQueryThreshold
	}
	if configuration.Logger == nil {
		configuration.Logger = zap.NewNop()
	}
	return configuration
}

// OpenDatabase opens a database connection using the configured driver and data source name.
func OpenDatabase(configuration Config) (*gorm.DB, error) {
	configuration = configuration.withDefaults()
	if configuration.DriverName == "" {
		return nil, ErrMissingDatabaseDriverName
	}

	opener, driverSupported := databaseOpeners[configuration.DriverName]
	if !driverSupported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDatabaseDriver, configuration.DriverName)
	}

	database, openErr := opener(configuration)
	if openErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageOpenDatabase, openErr)
	}
	return database, nil
}

func openSQLiteDatabase(configuration Config) (*gorm.DB, error) {
	if configuration.DataSourceName == "" {
		return nil, ErrMissingDataSourceName
	}
	dataSourceName, pragmaErr := withBusyTimeout(configuration.DataSourceName, configuration.BusyTimeout)
	if pragmaErr != nil {
		return nil, pragmaErr
	}

	database, openErr := gorm.Open(sqlite.Open(dataSourceName), &gorm.Config{
		Logger: newQueryLogger(configuration.Logger, configuration.SlowQueryThreshold),
	})
	if openErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageOpenSQLiteDatabase, openErr)
	}
	return database, nil
}

// withBusyTimeout adds a busy_timeout pragma unless the data source already sets one.
// Concurrent bulk updates otherwise fail fast with SQLITE_BUSY on file databases.
func withBusyTimeout(dataSourceName string, busyTimeout time.Duration) (string, error) {
	base, rawQuery, _ := strings.Cut(dataSourceName, "?")
	parameters, parseErr := url.ParseQuery(rawQuery)
	if parseErr != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDataSourceName, parseErr)
	}
	for _, pragma := range parameters[sqlitePragmaParameter] {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(pragma)), sqliteBusyTimeoutName) {
			return dataSourceName, nil
		}
	}
	pragma := sqlitePragmaParameter + "=" + fmt.Sprintf("%s(%d)", sqliteBusyTimeoutName, busyTimeout.Milliseconds())
	if rawQuery == "" {
		return base + "?" + pragma, nil
	}
	return dataSourceName + "&" + pragma, nil
}

// zapQueryWriter adapts zap to the printf-style writer gorm's logger expects.
type zapQueryWriter struct {
	logger *zap.Logger
}

func (writer zapQueryWriter) Printf(format string, arguments ...any) {
	writer.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, arguments...)))
}

func newQueryLogger(logger *zap.Logger, slowQueryThreshold time.Duration) gormlogger.Interface {
	return gormlogger.New(zapQueryWriter{logger: logger.Named("database")}, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// NewID generates a new globally unique identifier for principals and test databases.
func NewID() string {
	return uuid.NewString()
}
