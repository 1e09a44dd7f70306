package cmd

import (
	"context"
	"os"

	"htwg-backend/cmd/htwg-cli/globals"
	"htwg-backend/cmd/htwg-cli/utils"
	"htwg-backend/internal/application"
	"htwg-backend/internal/components/cache"
	"htwg-backend/internal/components/chrono"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/pkg/configutil"
	"htwg-backend/pkg/serviceutil"

	"github.com/spf13/cobra"
)

var (
	configPath string
	username   string
	password   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "htwg-cli",
	Short:        "htwg-cli reads your data from the HTWG Konstanz portals.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose, "text")

		cfg := application.Config{
			Cache: cache.Config{Backend: "memory"},
		}
		if configPath != "" {
			var err error
			cfg, err = configutil.ReadConfig[application.Config](configPath)
			if err != nil {
				return err
			}
		}

		scrapers, closeStore, err := application.Open(cmd.Context(), cfg, chrono.NewStandardImpl(), telemetry.SlogAPI{})
		if err != nil {
			return err
		}
		cmd.SetContext(globals.Set(cmd.Context(), &globals.Value{
			Scrapers:    scrapers,
			Credentials: utils.Credentials(username, password, os.LookupEnv),
			Close:       closeStore,
		}))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return globals.Get(cmd.Context()).Close()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Read portal, http and cache settings from this json5 file.")
	flags.StringVarP(&username, "username", "u", "", "Portal username, defaults to $"+utils.UsernameEnv+".")
	flags.StringVarP(&password, "password", "p", "", "Portal password, defaults to $"+utils.PasswordEnv+".")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
}

// credentials fails the command before any request when nothing was supplied.
func credentials(ctx context.Context) (portal.Credentials, error) {
	creds := globals.Get(ctx).Credentials
	if !creds.Valid() {
		return portal.Credentials{}, utils.ErrNoCredentials
	}
	return creds, nil
}

func Execute() {
	ctx := serviceutil.SignalContext()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
