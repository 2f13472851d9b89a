package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/kestrelwallet/kestreld/internal/core/application"
	"github.com/kestrelwallet/kestreld/internal/core/ports"
	restcoordinator "github.com/kestrelwallet/kestreld/internal/infrastructure/coordinator/rest"
	"github.com/kestrelwallet/kestreld/internal/infrastructure/db"
	"github.com/kestrelwallet/kestreld/internal/infrastructure/hardware"
	filekeystore "github.com/kestrelwallet/kestreld/internal/infrastructure/keystore/file"
	timescheduler "github.com/kestrelwallet/kestreld/internal/infrastructure/scheduler/gocron"
)

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return fmt.Sprintf("%v", types)
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}

var (
	supportedDbs = supportedType{
		"badger": {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
	}
)

type Config struct {
	Datadir          string
	LogLevel         int
	AccountId        string
	CoordinatorURL   string
	DbType           string
	DbDir            string
	SchedulerType    string
	PollInterval     int64
	KeyStorePassword string

	repo        ports.RepoManager
	coordinator ports.CoordinatorClient
	scheduler   ports.SchedulerService
	keyStore    ports.KeyStore
	keygen      *application.KeyGenService
	syncer      *application.StatusSyncer
}

func (c *Config) String() string {
	clone := *c
	if clone.KeyStorePassword != "" {
		clone.KeyStorePassword = "••••••"
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

func defaultAppDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "kestreld-data"
	}
	return filepath.Join(dir, "kestreld")
}

var (
	defaultDatadir       = defaultAppDataDir()
	defaultLogLevel      = 4
	defaultDbType        = "badger"
	defaultSchedulerType = "gocron"
	defaultPollInterval  = int64(60) // seconds
)

// env returns a list of strings prefixed with `KESTRELD_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("KESTRELD_%s", value)
	}

	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}
	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}
	AccountId = &cli.StringFlag{
		Usage: "Account id this device belongs to",
		Name:  "account-id", EnvVars: env("ACCOUNT_ID"),
		Required: true,
	}
	CoordinatorURL = &cli.StringFlag{
		Usage: "Base url of the coordination service",
		Name:  "coordinator-url", EnvVars: env("COORDINATOR_URL"),
		Required: true,
	}
	DbType = &cli.StringFlag{
		Usage: "Database type (badger)",
		Name:  "db-type", EnvVars: env("DB_TYPE"),
		Value: defaultDbType,
	}
	SchedulerType = &cli.StringFlag{
		Usage: "Scheduler type (gocron)",
		Name:  "scheduler-type", EnvVars: env("SCHEDULER_TYPE"),
		Value: defaultSchedulerType,
	}
	PollInterval = &cli.Int64Flag{
		Usage: "Recovery status poll interval in seconds",
		Name:  "poll-interval", EnvVars: env("POLL_INTERVAL"),
		Value: defaultPollInterval,
	}
	KeyStorePassword = &cli.StringFlag{
		Usage: "Password protecting the local key store",
		Name:  "keystore-password", EnvVars: env("KEYSTORE_PASSWORD"),
		Required: true,
	}
)

var Flags = []cli.Flag{
	Datadir,
	LogLevel,
	AccountId,
	CoordinatorURL,
	DbType,
	SchedulerType,
	PollInterval,
	KeyStorePassword,
}

func LoadConfig(ctx *cli.Context) (*Config, error) {
	dbType := ctx.String(DbType.Name)
	if !supportedDbs.supports(dbType) {
		return nil, fmt.Errorf(
			"unsupported db type %s, please select one of %s",
			dbType, supportedDbs,
		)
	}
	schedulerType := ctx.String(SchedulerType.Name)
	if !supportedSchedulers.supports(schedulerType) {
		return nil, fmt.Errorf(
			"unsupported scheduler type %s, please select one of %s",
			schedulerType, supportedSchedulers,
		)
	}
	pollInterval := ctx.Int64(PollInterval.Name)
	if pollInterval <= 0 {
		return nil, fmt.Errorf("invalid poll interval %d", pollInterval)
	}

	datadir := ctx.String(Datadir.Name)
	return &Config{
		Datadir:          datadir,
		LogLevel:         ctx.Int(LogLevel.Name),
		AccountId:        ctx.String(AccountId.Name),
		CoordinatorURL:   ctx.String(CoordinatorURL.Name),
		DbType:           dbType,
		DbDir:            filepath.Join(datadir, "db"),
		SchedulerType:    schedulerType,
		PollInterval:     pollInterval,
		KeyStorePassword: ctx.String(KeyStorePassword.Name),
	}, nil
}

func (c *Config) RepoManager() (ports.RepoManager, error) {
	if c.repo == nil {
		svc, err := db.NewService(db.ServiceConfig{
			DataStoreType:   c.DbType,
			DataStoreConfig: []interface{}{c.DbDir, nil},
		})
		if err != nil {
			return nil, err
		}
		c.repo = svc
	}
	return c.repo, nil
}

func (c *Config) CoordinatorClient() ports.CoordinatorClient {
	if c.coordinator == nil {
		c.coordinator = restcoordinator.New(c.CoordinatorURL)
	}
	return c.coordinator
}

func (c *Config) SchedulerService() ports.SchedulerService {
	if c.scheduler == nil {
		c.scheduler = timescheduler.NewScheduler()
	}
	return c.scheduler
}

func (c *Config) KeyStore() (ports.KeyStore, error) {
	if c.keyStore == nil {
		store, err := filekeystore.New(c.Datadir, c.KeyStorePassword)
		if err != nil {
			return nil, err
		}
		c.keyStore = store
	}
	return c.keyStore, nil
}

func (c *Config) KeyGenService() (*application.KeyGenService, error) {
	if c.keygen == nil {
		keyStore, err := c.KeyStore()
		if err != nil {
			return nil, err
		}
		svc, err := application.NewKeyGenService(keyStore)
		if err != nil {
			return nil, err
		}
		c.keygen = svc
	}
	return c.keygen, nil
}

func (c *Config) StatusSyncer() (*application.StatusSyncer, error) {
	if c.syncer == nil {
		repo, err := c.RepoManager()
		if err != nil {
			return nil, err
		}
		syncer, err := application.NewStatusSyncer(
			c.CoordinatorClient(), repo, c.SchedulerService(),
			c.AccountId, c.PollInterval,
		)
		if err != nil {
			return nil, err
		}
		c.syncer = syncer
	}
	return c.syncer, nil
}

// RecoveryService builds the state machine around a host-supplied hardware
// transport, wrapped with the bounded retry layer.
func (c *Config) RecoveryService(
	transport ports.HardwareChannel,
) (*application.RecoveryService, error) {
	keygen, err := c.KeyGenService()
	if err != nil {
		return nil, err
	}
	repo, err := c.RepoManager()
	if err != nil {
		return nil, err
	}
	return application.NewRecoveryService(
		keygen, c.CoordinatorClient(), hardware.NewRetryChannel(transport),
		repo, c.AccountId,
	)
}

func (c *Config) CompletionService(
	transport ports.HardwareChannel,
) (*application.CompletionService, error) {
	keygen, err := c.KeyGenService()
	if err != nil {
		return nil, err
	}
	repo, err := c.RepoManager()
	if err != nil {
		return nil, err
	}
	return application.NewCompletionService(
		keygen, c.CoordinatorClient(), hardware.NewRetryChannel(transport),
		repo, c.AccountId,
	)
}
