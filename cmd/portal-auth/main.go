// Command portal-auth runs the authentication context of the staff portal,
// either as an HTTP service for the UI or as one-shot session commands.
//
//	@title			Portal Auth API
//	@version		1.0
//	@description	Authentication context of the staff portal: session, user, role, profile and department.
//	@BasePath		/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-auth",
		Short: "Authentication context of the staff portal",
		Long: `portal-auth holds the signed-in session of the staff portal and keeps
the user's role, profile and department in sync with the backend.

Run "portal-auth serve" to expose the auth state to the UI over HTTP, or use
the session commands to sign in and inspect the persisted session.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		signInCmd(),
		signOutCmd(),
		statusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
