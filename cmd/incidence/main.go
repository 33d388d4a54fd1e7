package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/samirrijal/geoincidence/internal/bootstrap"
	"github.com/samirrijal/geoincidence/internal/pkg/config"
	"github.com/samirrijal/geoincidence/internal/pkg/logging"
)

// cliApp carries state shared by subcommands. The stack is built on first
// use so commands that do not query upstream never need credentials.
type cliApp struct {
	cfg      *config.Config
	stack    *bootstrap.Stack
	logLevel string
}

func (a *cliApp) load() error {
	cfg, err := config.Load("geoincidence-cli")
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	// Logs go to stderr as text; stdout stays reserved for results.
	logging.Setup(level, "text")
	a.cfg = cfg
	return nil
}

func (a *cliApp) buildStack(publish bool) (*bootstrap.Stack, error) {
	if a.stack != nil {
		return a.stack, nil
	}
	stack, err := bootstrap.Build(a.cfg, bootstrap.Options{Publish: publish})
	if err != nil {
		return nil, err
	}
	a.stack = stack
	return stack, nil
}

func (a *cliApp) close() {
	if a.stack != nil {
		a.stack.Close()
	}
}

func main() {
	_ = godotenv.Load()

	app := &cliApp{}
	defer app.close()

	root := &cobra.Command{
		Use:           "incidence",
		Short:         "Check a point in the Federal District against government GIS layers",
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load()
		},
	}
	root.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to config")

	root.AddCommand(
		newQueryCmd(app),
		newServicesCmd(app),
		newTransformCmd(),
		newWatchCmd(app),
		newBatchCmd(app),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		app.close()
		os.Exit(1)
	}
}
