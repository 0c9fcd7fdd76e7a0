package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/hay-kot/sublet/internal/api"
	"github.com/hay-kot/sublet/internal/core/config"
	"github.com/hay-kot/sublet/internal/session"
	"github.com/hay-kot/sublet/internal/store/jsonfile"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string
	APIURL     string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// Store, Client and Manager are built from Config in the Before hook.
	Store   *jsonfile.TokenStore
	Client  *api.Client
	Manager *session.Manager
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "sublet", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "sublet")
}

// diagnostic commands report on an invalid configuration instead of failing
// before they run.
var diagnostic = map[string]bool{
	"config": true,
	"doctor": true,
}

// Setup loads the configuration for command and connects the session
// manager. An invalid configuration is an error unless command is a
// diagnostic command, in which case Config is set and nothing is connected.
func (f *Flags) Setup(ctx context.Context, command string, log zerolog.Logger) error {
	cfg, err := config.Read(f.ConfigPath, f.DataDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	f.Config = cfg

	if err := cfg.Validate(); err != nil {
		if diagnostic[command] {
			log.Debug().Err(err).Str("command", command).Msg("invalid config, not connecting")
			return nil
		}
		return fmt.Errorf("load config: invalid config: %w", err)
	}

	return f.Connect(ctx, log)
}

// Connected reports whether Connect has built the session manager.
func (f *Flags) Connected() bool {
	return f.Manager != nil
}

// Connect builds the token store, API client and session manager from Config
// and starts the manager. APIURL, when set, overrides api.base_url.
func (f *Flags) Connect(ctx context.Context, log zerolog.Logger) error {
	if f.Config == nil {
		return errors.New("configuration not loaded")
	}

	if f.APIURL != "" {
		f.Config.API.BaseURL = f.APIURL
	}

	client, err := api.New(api.Config{
		BaseURL:  f.Config.API.BaseURL,
		Timeout:  f.Config.API.Timeout,
		RetryMax: f.Config.API.RetryMax,
	}, log.With().Str("component", "api").Logger())
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}

	store := jsonfile.NewTokenStore(jsonfile.NamespacePath(f.Config.DataDir, f.Config.Store.Namespace)).
		WithPollInterval(f.Config.Store.PollInterval).
		WithLogger(log.With().Str("component", "store").Logger())

	manager := session.New(store, client, log.With().Str("component", "session").Logger())
	if err := manager.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("start session manager: %w", err)
	}

	f.Store = store
	f.Client = client
	f.Manager = manager
	return nil
}

// Close stops the session manager and the token store.
func (f *Flags) Close() error {
	var errs []error
	if f.Manager != nil {
		errs = append(errs, f.Manager.Close())
	}
	if f.Store != nil {
		errs = append(errs, f.Store.Close())
	}
	return errors.Join(errs...)
}
