package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Arttribute/agent-commons-sub004/internal/config"
	"github.com/Arttribute/agent-commons-sub004/internal/database"
	"github.com/Arttribute/agent-commons-sub004/internal/services"
)

var (
	cfgFile  string
	logLevel string

	// loaded before every command
	cfg *config.Config
	log *logrus.Logger
)

// openBackend connects to the checkpoint store. The returned func releases
// the connection.
var openBackend = func(cfg *config.Config, logger *logrus.Logger) (*services.Services, func() error, error) {
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return services.NewServices(db.DB, cfg.Database.Schema, db, logger), db.Close, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect Agent Commons session checkpoints",
		Long:  "checkpoints manages the checkpoint schema and reads session checkpoints stored in Postgres.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfgFile != "" {
				cfg, err = config.LoadFile(cfgFile)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			log, err = cfg.Log.NewLogger()
			if err != nil {
				return err
			}
			log.SetOutput(cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.json)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newSessionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
