package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"fhirstack/pkg/logging"
)

var logLevelFlag string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fhirstack",
	Short: "Bring a FHIR store and its database up and down as one stack",
	Long: `fhirstack manages a small topology of dependent services - by default
a PostgreSQL database and the HAPI FHIR server that needs it - without an
external compose engine. It starts services in dependency order, gates each
dependent on its dependencies becoming healthy, supervises crashes with
restart policies, and tears everything down in reverse order.`,
	// SilenceUsage prevents printing the usage message on errors we handle
	// ourselves (failed starts, invalid topologies)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "fhirstack version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(newUpCmd())
	rootCmd.AddCommand(newDownCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

// parsedLogLevel maps the --log-level flag to a logging level, defaulting
// to info on anything unrecognized.
func parsedLogLevel() logging.LogLevel {
	switch logLevelFlag {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
