package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/emitra/internal/storage"
)

const (
	commandUseName                = "server"
	commandShortDescription       = "Run the e-Mitra kiosk server"
	commandLongDescription        = "Serve the bilingual kiosk site, the admin panel and the inquiry store API"
	missingConfigurationMessage   = "missing required configuration"
	loggerCreationErrorMessage    = "logger"
	logEventListening             = "listening"
	logEventShutdown              = "shutdown"
	logFieldAddress               = "addr"
	logFieldServeMode             = "mode"
	loggerContextOpenDatabase     = "open_db"
	loggerContextAutoMigrate      = "migrate"
	loggerContextServer           = "server"
	readHeaderTimeoutSeconds      = 5
	shutdownTimeout               = 10 * time.Second
	unexpectedArgumentsMessage    = "unexpected command arguments"
	commandInitializationFailure  = "failed to configure command"
	flagNotDefinedMessage         = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"

	flagNameApplicationAddress = "app-addr"
	flagNameDatabaseDriver     = "db-driver"
	flagNameDatabaseDSN        = "db-dsn"
	flagNameTokenSigningKey    = "token-signing-key"
	flagNameTokenTTL           = "token-ttl"
	flagNameAdminSecret        = "admin-secret"
	flagNameOperatorUserID     = "operator-user-id"
	flagNameOperatorPassword   = "operator-password"
	flagNameSessionSecret      = "session-secret"
	flagNameCookieSecure       = "cookie-secure"
	flagNameServeMode          = "serve-mode"
	flagNamePublicBaseURL      = "public-base-url"
	flagNameAdminOrigin        = "admin-origin"
	flagNameRateLimitWindow    = "rate-limit-window"
	flagNameRateLimitRequests  = "rate-limit-requests"

	environmentKeyApplicationAddress = "APP_ADDR"
	environmentKeyDatabaseDriver     = "DB_DRIVER"
	environmentKeyDatabaseDSN        = "DB_DSN"
	environmentKeyTokenSigningKey    = "TOKEN_SIGNING_KEY"
	environmentKeyTokenTTL           = "TOKEN_TTL"
	environmentKeyAdminSecret        = "ADMIN_SECRET"
	environmentKeyOperatorUserID     = "OPERATOR_USER_ID"
	environmentKeyOperatorPassword   = "OPERATOR_PASSWORD"
	environmentKeySessionSecret      = "SESSION_SECRET"
	environmentKeyCookieSecure       = "COOKIE_SECURE"
	environmentKeyServeMode          = "SERVE_MODE"
	environmentKeyPublicBaseURL      = "PUBLIC_BASE_URL"
	environmentKeyAdminOrigin        = "ADMIN_ORIGIN"
	environmentKeyRateLimitWindow    = "RATE_LIMIT_WINDOW"
	environmentKeyRateLimitRequests  = "RATE_LIMIT_REQUESTS"

	defaultApplicationAddress = ":8080"
	defaultDatabaseDriver     = storage.DriverNameSQLite
	defaultDatabaseDSN        = "file:emitra.db?_foreign_keys=on"
	defaultTokenTTL           = 12 * time.Hour
	defaultServeMode          = string(ServeModeMonolith)
	defaultPublicBaseURL      = "http://localhost:8080"
	defaultRateLimitWindow    = 30 * time.Second
	defaultRateLimitRequests  = 6
)

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress string
	DatabaseDriver     string
	DatabaseDSN        string
	TokenSigningKey    string
	TokenTTL           time.Duration
	AdminSecret        string
	OperatorUserID     string
	OperatorPassword   string
	SessionSecret      string
	CookieSecure       bool
	ServeMode          ServeMode
	PublicBaseURL      string
	AdminOrigin        string
	RateLimitWindow    time.Duration
	RateLimitRequests  int
}

// DatabaseOpener opens a database connection using the provided configuration.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

type flagBinding struct {
	environmentKey string
	flagName       string
}

var flagBindings = []flagBinding{
	{environmentKey: environmentKeyApplicationAddress, flagName: flagNameApplicationAddress},
	{environmentKey: environmentKeyDatabaseDriver, flagName: flagNameDatabaseDriver},
	{environmentKey: environmentKeyDatabaseDSN, flagName: flagNameDatabaseDSN},
	{environmentKey: environmentKeyTokenSigningKey, flagName: flagNameTokenSigningKey},
	{environmentKey: environmentKeyTokenTTL, flagName: flagNameTokenTTL},
	{environmentKey: environmentKeyAdminSecret, flagName: flagNameAdminSecret},
	{environmentKey: environmentKeyOperatorUserID, flagName: flagNameOperatorUserID},
	{environmentKey: environmentKeyOperatorPassword, flagName: flagNameOperatorPassword},
	{environmentKey: environmentKeySessionSecret, flagName: flagNameSessionSecret},
	{environmentKey: environmentKeyCookieSecure, flagName: flagNameCookieSecure},
	{environmentKey: environmentKeyServeMode, flagName: flagNameServeMode},
	{environmentKey: environmentKeyPublicBaseURL, flagName: flagNamePublicBaseURL},
	{environmentKey: environmentKeyAdminOrigin, flagName: flagNameAdminOrigin},
	{environmentKey: environmentKeyRateLimitWindow, flagName: flagNameRateLimitWindow},
	{environmentKey: environmentKeyRateLimitRequests, flagName: flagNameRateLimitRequests},
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	commandFlags.String(flagNameApplicationAddress, defaultApplicationAddress, "address for the HTTP server to listen on")
	commandFlags.String(flagNameDatabaseDriver, defaultDatabaseDriver, "database driver name")
	commandFlags.String(flagNameDatabaseDSN, defaultDatabaseDSN, "database connection string")
	commandFlags.String(flagNameTokenSigningKey, "", "HMAC key used to sign bearer tokens")
	commandFlags.Duration(flagNameTokenTTL, defaultTokenTTL, "lifetime of issued bearer tokens")
	commandFlags.String(flagNameAdminSecret, "", "shared secret that elevates a session to admin")
	commandFlags.String(flagNameOperatorUserID, "", "operator user id accepted by the admin login")
	commandFlags.String(flagNameOperatorPassword, "", "operator password accepted by the admin login")
	commandFlags.String(flagNameSessionSecret, "", "secret used to sign the admin session cookie")
	commandFlags.Bool(flagNameCookieSecure, false, "restrict cookies to HTTPS")
	commandFlags.String(flagNameServeMode, defaultServeMode, "which surfaces to serve: "+serveModeNames())
	commandFlags.String(flagNamePublicBaseURL, defaultPublicBaseURL, "public base URL used in the sitemap")
	commandFlags.String(flagNameAdminOrigin, "", "browser origin allowed to call the admin API (optional)")
	commandFlags.Duration(flagNameRateLimitWindow, defaultRateLimitWindow, "window for the per-IP submission limit")
	commandFlags.Int(flagNameRateLimitRequests, defaultRateLimitRequests, "submissions allowed per IP in each window")

	for _, binding := range flagBindings {
		if bindErr := application.bindFlag(commandFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}
	}

	for _, binding := range flagBindings {
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadConfiguration() (ServerConfig, error) {
	loader := application.configurationLoader
	serveMode, serveModeErr := ParseServeMode(loader.GetString(environmentKeyServeMode))
	if serveModeErr != nil {
		return ServerConfig{}, serveModeErr
	}
	return ServerConfig{
		ApplicationAddress: loader.GetString(environmentKeyApplicationAddress),
		DatabaseDriver:     strings.TrimSpace(loader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDSN:        strings.TrimSpace(loader.GetString(environmentKeyDatabaseDSN)),
		TokenSigningKey:    strings.TrimSpace(loader.GetString(environmentKeyTokenSigningKey)),
		TokenTTL:           loader.GetDuration(environmentKeyTokenTTL),
		AdminSecret:        strings.TrimSpace(loader.GetString(environmentKeyAdminSecret)),
		OperatorUserID:     loader.GetString(environmentKeyOperatorUserID),
		OperatorPassword:   loader.GetString(environmentKeyOperatorPassword),
		SessionSecret:      loader.GetString(environmentKeySessionSecret),
		CookieSecure:       loader.GetBool(environmentKeyCookieSecure),
		ServeMode:          serveMode,
		PublicBaseURL:      strings.TrimSpace(loader.GetString(environmentKeyPublicBaseURL)),
		AdminOrigin:        strings.TrimSpace(loader.GetString(environmentKeyAdminOrigin)),
		RateLimitWindow:    loader.GetDuration(environmentKeyRateLimitWindow),
		RateLimitRequests:  loader.GetInt(environmentKeyRateLimitRequests),
	}, nil
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig, configurationErr := application.loadConfiguration()
	if configurationErr != nil {
		return configurationErr
	}
	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriver,
		DataSourceName: serverConfig.DatabaseDSN,
		Logger:         logger,
	})
	if databaseErr != nil {
		logger.Fatal(loggerContextOpenDatabase, zap.Error(databaseErr))
	}

	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Fatal(loggerContextAutoMigrate, zap.Error(migrateErr))
	}

	server, serverErr := newKioskServer(serverConfig, database, logger)
	if serverErr != nil {
		return serverErr
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           server.router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	signalContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	go func() {
		<-signalContext.Done()
		logger.Info(logEventShutdown)
		server.Close()
		shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownContext)
	}()

	logger.Info(logEventListening,
		zap.String(logFieldAddress, serverConfig.ApplicationAddress),
		zap.String(logFieldServeMode, string(serverConfig.ServeMode)),
	)
	if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Fatal(loggerContextServer, zap.Error(serveErr))
	}

	return nil
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.DatabaseDSN == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDSN)
	}

	if configuration.ServeMode.servesAPI() {
		if configuration.TokenSigningKey == "" {
			missingParameters = append(missingParameters, flagNameTokenSigningKey)
		}
		if configuration.AdminSecret == "" {
			missingParameters = append(missingParameters, flagNameAdminSecret)
		}
	}

	if configuration.ServeMode.servesWeb() {
		if configuration.OperatorUserID == "" {
			missingParameters = append(missingParameters, flagNameOperatorUserID)
		}
		if configuration.OperatorPassword == "" {
			missingParameters = append(missingParameters, flagNameOperatorPassword)
		}
		if configuration.SessionSecret == "" {
			missingParameters = append(missingParameters, flagNameSessionSecret)
		}
		if configuration.ServeMode == ServeModeWeb && configuration.AdminSecret == "" {
			missingParameters = append(missingParameters, flagNameAdminSecret)
		}
	}

	if len(missingParameters) == 0 {
		return nil
	}

	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

func main() {
	_ = godotenv.Load()

	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
