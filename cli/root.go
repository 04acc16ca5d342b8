// Package cli is the wastechat command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wastechat/api"
	"wastechat/auth"
	"wastechat/config"
	"wastechat/crypto"
	"wastechat/discovery"
	"wastechat/storage"
)

// app holds state shared by every command of one invocation.
type app struct {
	verbose bool
	backend string

	logger  *zap.Logger
	cfg     *config.ClientConfig
	cfgPath string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "wastechat",
		Short:         "Marketplace chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logConfig := zap.NewProductionConfig()
			if a.verbose {
				logConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := logConfig.Build()
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			a.logger = logger

			cfg, cfgPath, err := config.LoadOrCreate()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.cfgPath = cfgPath
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.backend, "backend", "", "backend base URL (overrides config and discovery)")

	root.AddCommand(
		a.loginCommand(),
		a.logoutCommand(),
		a.whoamiCommand(),
		a.conversationsCommand(),
		a.startCommand(),
		a.sendCommand(),
		a.historyCommand(),
		a.pruneCommand(),
		a.chatCommand(),
		a.serveCommand(),
	)
	return root
}

// Execute runs the command line until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) openStore() (*storage.Store, error) {
	store, _, err := storage.Open(config.DataDir(a.cfgPath))
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) openVault(store *storage.Store) (*auth.Vault, error) {
	key, err := crypto.EnsureSecretKey(a.cfg.SecretKeyPath)
	if err != nil {
		return nil, err
	}
	return auth.NewVault(store, key)
}

// resolveBackend picks the backend from --backend, then config, then mDNS.
func (a *app) resolveBackend(ctx context.Context) (string, error) {
	if url := strings.TrimSpace(a.backend); url != "" {
		return url, nil
	}
	if a.cfg.BackendURL != "" {
		return a.cfg.BackendURL, nil
	}
	if !a.cfg.Discovery.Enabled {
		return "", errors.New("no backend configured; pass --backend or set backend_url in " + a.cfgPath)
	}

	a.logger.Debug("looking up backend via mDNS", zap.String("service", a.cfg.Discovery.Service))
	endpoint, err := discovery.Lookup(ctx, discovery.Config{
		Service: a.cfg.Discovery.Service,
		Timeout: a.cfg.Discovery.Timeout,
	})
	if err != nil {
		return "", fmt.Errorf("discover backend: %w", err)
	}
	a.logger.Info("discovered backend",
		zap.String("instance", endpoint.Instance),
		zap.String("url", endpoint.BaseURL()),
	)
	return endpoint.BaseURL(), nil
}

func (a *app) newClient(baseURL, token string) (*api.Client, error) {
	return api.New(api.Options{
		BaseURL:  baseURL,
		Token:    token,
		ClientID: a.cfg.ClientID,
		Timeout:  a.cfg.RequestTimeout,
		Logger:   a.logger.Named("api"),
	})
}

// signedIn is an open store plus a client authenticated as the stored user.
type signedIn struct {
	store   *storage.Store
	vault   *auth.Vault
	session *auth.Session
	client  *api.Client
}

func (s *signedIn) Close() error {
	return s.store.Close()
}

func (a *app) signIn() (*signedIn, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	vault, err := a.openVault(store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	session, err := vault.Load()
	switch {
	case errors.Is(err, auth.ErrNoSession):
		_ = store.Close()
		return nil, fmt.Errorf("%w: run `wastechat login` first", err)
	case errors.Is(err, auth.ErrTokenExpired):
		_ = store.Close()
		return nil, fmt.Errorf("%w: run `wastechat login` again", err)
	case err != nil:
		_ = store.Close()
		return nil, err
	}

	baseURL := session.BackendURL
	if flag := strings.TrimSpace(a.backend); flag != "" {
		baseURL = flag
	}
	client, err := a.newClient(baseURL, session.Tokens.Access)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &signedIn{store: store, vault: vault, session: session, client: client}, nil
}
