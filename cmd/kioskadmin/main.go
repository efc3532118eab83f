package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MarkoPoloResearchLab/emitra/internal/console"
	"github.com/MarkoPoloResearchLab/emitra/internal/session"
	"github.com/MarkoPoloResearchLab/emitra/internal/storeclient"
)

const (
	commandUseName                = "kioskadmin"
	commandShortDescription       = "Manage kiosk inquiries from the terminal"
	commandLongDescription        = "Log in as the kiosk operator, elevate against the inquiry store and list, update, export or watch inquiries"
	missingConfigurationMessage   = "missing required configuration"
	commandInitializationFailure  = "failed to configure command"
	flagNotDefinedMessage         = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"

	flagNameStoreURL         = "store-url"
	flagNameOperatorUserID   = "operator-user-id"
	flagNameOperatorPassword = "operator-password"
	flagNameAdminSecret      = "admin-secret"
	flagNameTimeout          = "timeout"
	flagNameNoColor          = "no-color"
	flagNameVerbose          = "verbose"

	environmentKeyStoreURL         = "STORE_URL"
	environmentKeyOperatorUserID   = "OPERATOR_USER_ID"
	environmentKeyOperatorPassword = "OPERATOR_PASSWORD"
	environmentKeyAdminSecret      = "ADMIN_SECRET"
	environmentKeyTimeout          = "REQUEST_TIMEOUT"

	defaultStoreURL = "http://localhost:8080"
	defaultTimeout  = console.DefaultInitializationTimeout
)

var errLoginRejected = errors.New("operator credentials were rejected")

// AdminConfig captures the CLI's connection settings.
type AdminConfig struct {
	StoreURL         string
	OperatorUserID   string
	OperatorPassword string
	AdminSecret      string
	Timeout          time.Duration
	Verbose          bool
}

// AdminApplication builds the kioskadmin command tree.
type AdminApplication struct {
	configurationLoader *viper.Viper
	httpClient          *http.Client
	now                 func() time.Time
}

// NewAdminApplication creates an AdminApplication with default dependencies.
func NewAdminApplication() *AdminApplication {
	return &AdminApplication{
		configurationLoader: viper.New(),
		now:                 time.Now,
	}
}

// WithHTTPClient overrides the HTTP client used to reach the store.
func (application *AdminApplication) WithHTTPClient(httpClient *http.Client) *AdminApplication {
	application.httpClient = httpClient
	return application
}

// Command builds the Cobra command tree.
func (application *AdminApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:           commandUseName,
		Short:         commandShortDescription,
		Long:          commandLongDescription,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(command *cobra.Command, _ []string) {
			if noColor, _ := command.Flags().GetBool(flagNameNoColor); noColor {
				color.NoColor = true
			}
		},
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	rootCommand.AddCommand(
		application.listCommand(),
		application.markCommand(true),
		application.markCommand(false),
		application.deleteCommand(),
		application.exportCommand(),
		application.watchCommand(),
		application.submitCommand(),
		application.healthCommand(),
	)
	return rootCommand, nil
}

type flagBinding struct {
	environmentKey string
	flagName       string
}

var flagBindings = []flagBinding{
	{environmentKey: environmentKeyStoreURL, flagName: flagNameStoreURL},
	{environmentKey: environmentKeyOperatorUserID, flagName: flagNameOperatorUserID},
	{environmentKey: environmentKeyOperatorPassword, flagName: flagNameOperatorPassword},
	{environmentKey: environmentKeyAdminSecret, flagName: flagNameAdminSecret},
	{environmentKey: environmentKeyTimeout, flagName: flagNameTimeout},
}

func (application *AdminApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.AutomaticEnv()

	persistentFlags := command.PersistentFlags()
	persistentFlags.String(flagNameStoreURL, defaultStoreURL, "base URL of the inquiry store")
	persistentFlags.String(flagNameOperatorUserID, "", "operator user id")
	persistentFlags.String(flagNameOperatorPassword, "", "operator password")
	persistentFlags.String(flagNameAdminSecret, "", "shared secret used for privilege elevation")
	persistentFlags.Duration(flagNameTimeout, defaultTimeout, "bound on login and elevation")
	persistentFlags.Bool(flagNameNoColor, false, "disable colored output")
	persistentFlags.Bool(flagNameVerbose, false, "log store calls to stderr")

	for _, binding := range flagBindings {
		if bindErr := application.bindFlag(persistentFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}
	}
	for _, binding := range flagBindings {
		if environmentErr := application.applyEnvironmentConfiguration(persistentFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}
	}
	return application.bindFlag(persistentFlags, flagNameVerbose, flagNameVerbose)
}

func (application *AdminApplication) bindFlag(flagSet *pflag.FlagSet, configurationKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}
	return application.configurationLoader.BindPFlag(configurationKey, flag)
}

func (application *AdminApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}
	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}
	return nil
}

func (application *AdminApplication) loadConfiguration() AdminConfig {
	loader := application.configurationLoader
	return AdminConfig{
		StoreURL:         strings.TrimSpace(loader.GetString(environmentKeyStoreURL)),
		OperatorUserID:   loader.GetString(environmentKeyOperatorUserID),
		OperatorPassword: loader.GetString(environmentKeyOperatorPassword),
		AdminSecret:      strings.TrimSpace(loader.GetString(environmentKeyAdminSecret)),
		Timeout:          loader.GetDuration(environmentKeyTimeout),
		Verbose:          loader.GetBool(flagNameVerbose),
	}
}

func ensureCredentials(configuration AdminConfig) error {
	var missingParameters []string
	if configuration.OperatorUserID == "" {
		missingParameters = append(missingParameters, flagNameOperatorUserID)
	}
	if configuration.OperatorPassword == "" {
		missingParameters = append(missingParameters, flagNameOperatorPassword)
	}
	if configuration.AdminSecret == "" {
		missingParameters = append(missingParameters, flagNameAdminSecret)
	}
	if len(missingParameters) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

func (application *AdminApplication) newLogger(configuration AdminConfig, errorOutput io.Writer) *zap.Logger {
	if !configuration.Verbose {
		return zap.NewNop()
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(errorOutput), zapcore.DebugLevel))
}

func (application *AdminApplication) newClient(configuration AdminConfig, logger *zap.Logger) (*storeclient.Client, error) {
	return storeclient.New(configuration.StoreURL,
		storeclient.WithHTTPClient(application.httpClient),
		storeclient.WithLogger(logger),
	)
}

// adminSession is one logged-in, elevated console, the terminal's equivalent of a browser tab.
type adminSession struct {
	client      *storeclient.Client
	gate        *session.Gate
	store       *session.Store
	initializer *console.Initializer
	controller  *console.Controller
}

func (application *AdminApplication) openSession(command *cobra.Command) (*adminSession, error) {
	configuration := application.loadConfiguration()
	if credentialsErr := ensureCredentials(configuration); credentialsErr != nil {
		return nil, credentialsErr
	}
	logger := application.newLogger(configuration, command.ErrOrStderr())
	client, clientErr := application.newClient(configuration, logger)
	if clientErr != nil {
		return nil, clientErr
	}

	gate, gateErr := session.NewGate(session.Credentials{
		UserID:      configuration.OperatorUserID,
		Password:    configuration.OperatorPassword,
		AdminSecret: configuration.AdminSecret,
	})
	if gateErr != nil {
		return nil, gateErr
	}
	store := session.NewStore()
	if !gate.Login(store, configuration.OperatorUserID, configuration.OperatorPassword) {
		return nil, errLoginRejected
	}

	initializer := console.NewInitializer(client, store, logger, console.InitializerConfig{Timeout: configuration.Timeout})
	if _, readyErr := initializer.EnsureReady(command.Context()); readyErr != nil {
		return nil, readyErr
	}
	return &adminSession{
		client:      client,
		gate:        gate,
		store:       store,
		initializer: initializer,
		controller:  console.NewController(initializer, logger),
	}, nil
}

// Close logs the session out.
func (adminSession *adminSession) Close() {
	adminSession.gate.Logout(adminSession.store)
	adminSession.initializer.Close()
}

func main() {
	_ = godotenv.Load()

	application := NewAdminApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	executeErr := rootCommand.ExecuteContext(ctx)
	stop()
	if executeErr != nil {
		newPrinter(os.Stdout, os.Stderr).failure(executeErr)
		os.Exit(1)
	}
}
