package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"

	"entropy-compare/internal/config"
	"entropy-compare/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	loadConfigFunc      = config.Load
	connectMQTTFunc     = connectMQTTWithRetry
	waitForShutdownFunc = waitForShutdown
	signalNotifyFunc    = signal.Notify
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if err := godotenv.Overload(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(stderr, "dotenv: %v\n", err)
	}

	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// app carries the state shared by all subcommands once configuration and
// logging are set up.
type app struct {
	stdout      io.Writer
	stderr      io.Writer
	cfg         config.Config
	logger      *zap.SugaredLogger
	closeLogger func()
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, logger: zap.NewNop().Sugar(), closeLogger: func() {}}

	cmd := &cobra.Command{
		Use:   "entropy-compare",
		Short: "Compare classical PRNG output against quantum and hardware entropy sources",
		Long: `entropy-compare generates bit strings from a seedable classical PRNG and from a
quantum or hardware entropy source, runs both through a battery of six
statistical tests and reports which source wins on quality, speed and security.

Configuration is read from CONFIG_FILE (YAML) and environment variables. A .env
file in the working directory is loaded first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.closeLogger()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newAnalyzeCmd(a))
	cmd.AddCommand(newCompareCmd(a))
	cmd.AddCommand(newBenchmarkCmd(a))
	return cmd
}

func (a *app) setup() error {
	cfg, err := loadConfigFunc()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, closeLogger, err := logging.Install(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.closeLogger = closeLogger

	logger.Debugw("configuration loaded", "environment", cfg.Environment, "hardware_backend", cfg.Hardware.Backend)
	return nil
}
