package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wastechat/chat"
	"wastechat/discovery"
	"wastechat/gateway"
)

func (a *app) serveCommand() *cobra.Command {
	var (
		listen       string
		advertise    bool
		secureCookie bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web gateway in front of the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			gw := a.cfg.Gateway
			if !cmd.Flags().Changed("listen") {
				listen = gw.Listen
			}
			if !cmd.Flags().Changed("advertise") {
				advertise = gw.Advertise
			}

			baseURL, err := a.resolveBackend(ctx)
			if err != nil {
				return err
			}
			client, err := a.newClient(baseURL, "")
			if err != nil {
				return err
			}

			presence, closePresence, err := a.presenceCache(ctx)
			if err != nil {
				return err
			}
			defer closePresence()

			server, err := gateway.New(gateway.Options{
				Client:          client,
				CookieName:      gw.CookieName,
				ProtectedRoutes: gw.ProtectedRoutes,
				SecureCookie:    secureCookie,
				Presence:        presence,
				PresenceTTL:     gw.PresenceTTL,
				Session: chat.Options{
					ConversationInterval: a.cfg.Polling.Conversations,
					LatestInterval:       a.cfg.Polling.LatestMessages,
					PresenceInterval:     a.cfg.Polling.Presence,
					HeartbeatInterval:    a.cfg.Polling.Heartbeat,
					RequestTimeout:       a.cfg.RequestTimeout,
				},
				Logger: a.logger,
			})
			if err != nil {
				return err
			}

			var broadcaster *discovery.Broadcaster
			if advertise {
				port, err := listenPort(listen)
				if err != nil {
					return err
				}
				instance := gw.InstanceName
				if instance == "" {
					host, _ := os.Hostname()
					instance = "wastechat-" + host
				}
				broadcaster, err = discovery.Advertise(discovery.Config{
					Service:      a.cfg.Discovery.Service,
					InstanceName: instance,
					Port:         port,
				})
				if err != nil {
					return err
				}
				a.logger.Info("advertising gateway",
					zap.String("instance", instance),
					zap.Int("port", port),
				)
			}

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return server.Run(groupCtx, listen)
			})

			if broadcaster != nil {
				group.Go(func() error {
					<-groupCtx.Done()
					broadcaster.Stop()
					return nil
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Gateway on %s, backend %s\n", listen, baseURL)
			return group.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&advertise, "advertise", false, "advertise the gateway over mDNS")
	cmd.Flags().BoolVar(&secureCookie, "secure-cookie", false, "mark the session cookie Secure (serve behind TLS)")
	return cmd
}

// presenceCache picks Redis when configured so several gateways share answers.
func (a *app) presenceCache(ctx context.Context) (gateway.PresenceCache, func(), error) {
	gw := a.cfg.Gateway
	if gw.RedisAddr == "" {
		return gateway.NewMemoryPresence(), func() {}, nil
	}

	redis, err := gateway.NewRedisPresence(ctx, gw.RedisAddr, gw.RedisPassword, gw.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("presence cache on redis", zap.String("addr", gw.RedisAddr))
	return redis, func() {
		if err := redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}, nil
}

func listenPort(listen string) (int, error) {
	_, rawPort, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("listen address %q needs a fixed port to advertise", listen)
	}
	return port, nil
}
