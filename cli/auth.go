package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wastechat/auth"
)

func (a *app) loginCommand() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Long: `Sign in with your marketplace account. The password is read from
standard input. The access token is stored sealed in the local data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			in := bufio.NewReader(cmd.InOrStdin())

			if strings.TrimSpace(email) == "" {
				fmt.Fprint(out, "Email: ")
				line, err := in.ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read email: %w", err)
				}
				email = strings.TrimSpace(line)
			}
			fmt.Fprint(out, "Password: ")
			password, err := in.ReadString('\n')
			if err != nil && password == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(password, "\r\n")
			fmt.Fprintln(out)

			baseURL, err := a.resolveBackend(ctx)
			if err != nil {
				return err
			}
			client, err := a.newClient(baseURL, "")
			if err != nil {
				return err
			}
			tokens, err := client.Login(ctx, email, password)
			if err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			vault, err := a.openVault(store)
			if err != nil {
				return err
			}
			session, err := vault.Save(client.BaseURL(), tokens)
			if err != nil {
				return err
			}

			a.logger.Info("signed in", zap.Int64("user_id", session.UserID), zap.String("backend", session.BackendURL))
			fmt.Fprintf(out, "Signed in as user %d\n", session.UserID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			vault, err := a.openVault(store)
			if err != nil {
				return err
			}

			session, err := vault.Load()
			if errors.Is(err, auth.ErrNoSession) {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			if session != nil && !errors.Is(err, auth.ErrTokenExpired) {
				client, clientErr := a.newClient(session.BackendURL, session.Tokens.Access)
				if clientErr == nil {
					if err := client.Logout(cmd.Context()); err != nil {
						a.logger.Debug("backend logout failed", zap.Error(err))
					}
				}
			}

			if err := vault.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func (a *app) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := a.signIn()
			if err != nil {
				return err
			}
			defer signed.Close()

			user, err := signed.client.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:       %d\n", user.ID)
			fmt.Fprintf(out, "Name:     %s\n", user.Name)
			if user.Email != "" {
				fmt.Fprintf(out, "Email:    %s\n", user.Email)
			}
			fmt.Fprintf(out, "Backend:  %s\n", signed.session.BackendURL)
			if !signed.session.ExpiresAt.IsZero() {
				fmt.Fprintf(out, "Expires:  %s\n", signed.session.ExpiresAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}
