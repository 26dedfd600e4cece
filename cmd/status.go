package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fhirstack/internal/config"
	"fhirstack/internal/orchestrator"
	"fhirstack/internal/registry"
	"fhirstack/internal/runtime"
	"fhirstack/pkg/logging"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state and health of every service",
		Long: `Print a table with the current state and health of every service in
the topology. Container state is inspected through the container runtime;
health comes from running each service's declared readiness probe once.
This is a pure read: nothing is started, stopped or restarted.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	statuses, err := orch.InspectDetached(cmd.Context(), runtime.NewDockerRuntime())
	if err != nil {
		return fmt.Errorf("failed to inspect services: %w", err)
	}

	fmt.Print(renderStatusTable(statuses))
	return nil
}
