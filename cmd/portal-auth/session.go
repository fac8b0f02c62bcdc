package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/99minutos/portal-auth/internal/core/domain"
	"github.com/99minutos/portal-auth/internal/core/service"
)

const defaultWait = 10 * time.Second

func signInCmd() *cobra.Command {
	var (
		email         string
		passwordStdin bool
		wait          time.Duration
	)

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with e-mail and password",
		Long: `Sign in against the backend and persist the session. The password is
read from PORTAL_AUTH_PASSWORD, or from stdin with --password-stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("PORTAL_AUTH_PASSWORD")
			if passwordStdin {
				p, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			}
			if email == "" || password == "" {
				return errors.New("email and password are required")
			}

			return withState(cmd.Context(), wait, func(ctx context.Context, a *app, state *service.AuthState) error {
				if _, err := a.client.SignInWithPassword(ctx, email, password); err != nil {
					return err
				}
				return nil
			}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account e-mail")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	cmd.Flags().DurationVar(&wait, "wait", defaultWait, "How long to wait for role, profile and department")

	return cmd
}

func signOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd.Context(), 0, func(ctx context.Context, a *app, state *service.AuthState) error {
				if err := state.SignOut(ctx); err != nil {
					a.log.Warn().Err(err).Msg("backend sign-out failed, local session cleared")
				}
				return nil
			}, cmd.OutOrStdout())
		},
	}
}

func statusCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current auth state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd.Context(), wait, nil, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", defaultWait, "How long to wait for role, profile and department")

	return cmd
}

// withState builds an auth state over the persisted session, runs fn, waits
// up to wait for enrichment and prints the resulting state.
func withState(parent context.Context, wait time.Duration, fn func(context.Context, *app, *service.AuthState) error, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := newApp(parent)
	if err != nil {
		return err
	}
	defer a.Close()

	state := service.NewAuthState(a.client, a.log)
	defer state.Close()

	if err := state.Initialize(parent); err != nil {
		a.log.Warn().Err(err).Msg("could not restore session")
	}
	if fn != nil {
		if err := fn(parent, a, state); err != nil {
			return err
		}
	}

	if wait > 0 {
		ctx, cancel := context.WithTimeout(parent, wait)
		err := state.WaitContext(ctx)
		cancel()
		if err != nil {
			a.log.Warn().Err(err).Msg("enrichment still pending, printing partial state")
		}
	}
	return printState(out, state.Snapshot())
}

type stateView struct {
	Authenticated bool            `json:"authenticated"`
	UserID        string          `json:"user_id,omitempty"`
	Email         string          `json:"email,omitempty"`
	Role          *domain.Role    `json:"role"`
	Profile       *domain.Profile `json:"profile"`
	Department    *string         `json:"department"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

func printState(out io.Writer, st domain.State) error {
	view := stateView{
		Authenticated: st.Authenticated(),
		Role:          st.Role,
		Profile:       st.Profile,
		Department:    st.Department,
	}
	if st.User != nil {
		view.UserID = st.User.ID
		view.Email = st.User.Email
	}
	if st.Session != nil && !st.Session.ExpiresAt.IsZero() {
		exp := st.Session.ExpiresAt
		view.ExpiresAt = &exp
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("print state: %w", err)
	}
	return nil
}

func readPassword(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
