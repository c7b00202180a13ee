// Command clinic runs the clinic booking service and its maintenance tasks.
//
//	clinic serve                      HTTP API plus scheduled jobs
//	clinic migrate                    create or update the schema
//	clinic init-slots --start 6 --end 22
//	clinic reconcile [--date YYYY-MM-DD]
//
// Configuration comes from the environment; a .env file (or ENV_FILE) is
// loaded first when present.
//
// @title                      Clinic Booking API
// @version                    1.0
// @description                Slot-capacity appointment booking with staff-assigned fees and online payment.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Type "Bearer" followed by a space and the identity token.
package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/clinic-booking/internal/config"
	"github.com/tbourn/clinic-booking/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries what every subcommand needs after the root pre-run.
type app struct {
	cfg config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "clinic",
		Short:         "Clinic appointment booking service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.AddCommand(
		serveCmd(a),
		migrateCmd(a),
		initSlotsCmd(a),
		reconcileCmd(a),
	)
	return root
}

// load reads the optional env file, then the configuration, and installs the
// global logger.
func (a *app) load(cmd *cobra.Command) error {
	envFile := sysutil.FirstNonEmpty(os.Getenv("ENV_FILE"), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	sysutil.SetupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	log.Debug().Str("command", cmd.Name()).Str("db_driver", cfg.DB.Driver).Msg("configuration loaded")
	return nil
}
