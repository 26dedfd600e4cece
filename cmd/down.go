package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"fhirstack/internal/config"
	"fhirstack/internal/orchestrator"
	"fhirstack/internal/registry"
	"fhirstack/internal/runtime"
	"fhirstack/pkg/logging"
)

func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop the service topology",
		Long: `Stop the stack's services in reverse dependency order.

Container-backed services are found by their deterministic names
(<stack>-<service>) and stopped best effort: a failure to stop one service
never prevents the stop attempt on the others. Process-backed services only
exist underneath a foreground 'up' and are not reattachable.

Exits 0 even when individual stops fail; failures are logged. A non-zero
exit means the teardown could not be attempted at all.`,
		Args: cobra.NoArgs,
		RunE: runDown,
	}
}

func runDown(cmd *cobra.Command, args []string) error {
	logging.InitForCLI(parsedLogLevel(), os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	reg, err := registry.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	orch := orchestrator.New(cfg, reg, nil)
	defer orch.Close()

	if err := orch.DownDetached(cmd.Context(), runtime.NewDockerRuntime()); err != nil {
		// Best-effort teardown: report, but do not fail the command.
		logging.Error("Down", err, "Some services could not be stopped")
	}
	return nil
}
