package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nullhaven/overseerd/internal/configfile"
	"github.com/nullhaven/overseerd/internal/ipc"
	"github.com/nullhaven/overseerd/internal/log"
	"github.com/nullhaven/overseerd/internal/metrics"
	"github.com/nullhaven/overseerd/internal/socketdir"
	"github.com/nullhaven/overseerd/internal/supervisor"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "overseerd",
	Short:   "overseerd - per-host service supervisor",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("overseerd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().Bool("system", false, "Run as the system-wide supervisor instance rather than a per-session one")
	rootCmd.Flags().String("socket-dir-prefix", "/var/run/overseerd", "Parent directory under which the per-uid control-socket directory is created")
	rootCmd.Flags().String("config", "", "Control-socket script read at startup (spec §6); only its submit-job lines are applied, loading the manifests they reference")
	rootCmd.Flags().String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.Flags().StringSlice("firstborn", nil, "Program (and arguments) to load as the firstborn job; its clean exit shuts the supervisor down")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func run(cmd *cobra.Command, args []string) error {
	isSystem, _ := cmd.Flags().GetBool("system")
	prefix, _ := cmd.Flags().GetString("socket-dir-prefix")
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	firstborn, _ := cmd.Flags().GetStringSlice("firstborn")

	dir, err := socketdir.Open(prefix, !isSystem)
	if err != nil {
		return fmt.Errorf("overseerd: %w", err)
	}
	defer dir.Close()

	core, err := supervisor.New(isSystem)
	if err != nil {
		return fmt.Errorf("overseerd: %w", err)
	}

	disp := ipc.NewDispatcher()
	core.RegisterVerbs(disp)

	server, err := ipc.Listen(dir.SockPath, disp, core.Loop, core.Log)
	if err != nil {
		return fmt.Errorf("overseerd: listen %s: %w", dir.SockPath, err)
	}
	defer server.Close()

	core.Log.Info().Str("socket", dir.SockPath).Bool("system", isSystem).Msg("overseerd listening")

	if metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(metricsAddr, metrics.Handler()); err != nil {
				core.Log.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	core.OnFirstbornExit(func() {
		core.Log.Info().Msg("firstborn exited cleanly, shutting down")
		core.RequestShutdown(supervisor.DefaultShutdownTimeout)
		cancel()
	})

	if len(firstborn) > 0 {
		if err := core.LoadFirstborn(firstborn); err != nil {
			core.Log.Error().Err(err).Msg("firstborn load failed")
		}
	}

	if configPath != "" {
		if err := loadStartupConfig(core, configPath); err != nil {
			core.Log.Error().Err(err).Msg("startup config load failed")
		}
	}

	go func() {
		if err := server.Serve(); err != nil {
			core.Log.Error().Err(err).Msg("control socket accept loop stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		core.Log.Info().Msg("received shutdown signal")
		core.RequestShutdown(supervisor.DefaultShutdownTimeout)
		cancel()
	}()

	core.Run(ctx)
	return nil
}

// loadStartupConfig reads the control-socket script named by path and
// applies its submit-job lines to core directly (rather than over the
// socket itself): each one names a YAML manifest file, which is loaded
// with configfile.LoadManifestYAML. Lines with any other verb are
// skipped without being run.
func loadStartupConfig(core *supervisor.Core, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cmds, err := configfile.Parse(f)
	if err != nil {
		return err
	}
	for _, c := range cmds {
		if c.Verb != "submit-job" {
			continue
		}
		if len(c.Args) != 1 {
			core.Log.Error().Str("verb", c.Verb).Msg("submit-job requires exactly one manifest path")
			continue
		}
		mf, err := os.Open(c.Args[0])
		if err != nil {
			core.Log.Error().Err(err).Str("manifest", c.Args[0]).Msg("failed to open manifest")
			continue
		}
		v, err := configfile.LoadManifestYAML(mf)
		mf.Close()
		if err != nil {
			core.Log.Error().Err(err).Str("manifest", c.Args[0]).Msg("failed to parse manifest")
			continue
		}
		if err := core.LoadManifest(v); err != nil {
			core.Log.Error().Err(err).Str("manifest", c.Args[0]).Msg("failed to load manifest")
		}
	}
	return nil
}
