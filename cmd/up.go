package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"fhirstack/internal/config"
	"fhirstack/internal/orchestrator"
	"fhirstack/internal/registry"
	"fhirstack/internal/tui"
	"fhirstack/pkg/logging"
)

var (
	upWatch   bool
	upTimeout time.Duration
)

func newUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the whole service topology",
		Long: `Start every enabled service in dependency order.

A service is launched only after all of its declared dependencies report
healthy; if a dependency never gets there within the readiness timeout,
the run is aborted and everything that did start is stopped again.

After a successful startup, fhirstack keeps supervising the services in
the foreground - restarting crashes according to each service's restart
policy - until interrupted with Ctrl+C, at which point the topology is
torn down in reverse order.

Exit code is 0 only when every service came up healthy.`,
		Args: cobra.NoArgs,
		RunE: runUp,
	}
	cmd.Flags().BoolVar(&upWatch, "watch", false, "show a live dashboard instead of log output")
	cmd.Flags().DurationVar(&upTimeout, "timeout", 0, "per-service readiness timeout (overrides configuration)")
	return cmd
}

func runUp(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if upTimeout > 0 {
		cfg.Stack.ReadyTimeout = upTimeout
	}

	reg, err := registry.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if upWatch {
		return runUpWatch(ctx, cfg, reg)
	}

	logging.InitForCLI(parsedLogLevel(), os.Stderr)

	orch := orchestrator.New(cfg, reg, nil)
	defer orch.Close()

	report, err := orch.Up(ctx)
	fmt.Println()
	fmt.Print(renderStatusTable(report.Services))
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	logging.Info("Up", "Topology is up; press Ctrl+C to stop")
	<-ctx.Done()
	stop()

	teardown := orch.Down(context.Background())
	fmt.Println()
	fmt.Print(renderStatusTable(teardown.Services))
	if teardownErr := teardown.Err(); teardownErr != nil {
		return fmt.Errorf("teardown finished with errors: %w", teardownErr)
	}
	return nil
}

// runUpWatch drives the same lifecycle underneath the live dashboard. The
// dashboard's quit key plays the role of Ctrl+C.
func runUpWatch(ctx context.Context, cfg config.StackConfig, reg *registry.Registry) error {
	logCh := logging.InitForWatch(parsedLogLevel())
	defer logging.CloseWatchChannel()

	orch := orchestrator.New(cfg, reg, nil)
	defer orch.Close()

	events := orch.Subscribe()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	model := tui.NewModel(cfg.Stack.Name, reg.Names(), events, logCh, cancelRun)
	program := tea.NewProgram(model)

	upErr := make(chan error, 1)
	go func() {
		if _, err := orch.Up(runCtx); err != nil {
			upErr <- err
			cancelRun()
			program.Quit()
			return
		}
		// Supervise until the user quits or a signal arrives, then tear
		// down and release the dashboard.
		<-runCtx.Done()
		teardown := orch.Down(context.Background())
		upErr <- teardown.Err()
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		cancelRun()
		<-upErr
		return fmt.Errorf("dashboard failed: %w", err)
	}

	if err := <-upErr; err != nil {
		return err
	}
	return nil
}
