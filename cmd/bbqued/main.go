package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cuemby/bbque/pkg/accounter"
	"github.com/cuemby/bbque/pkg/apps"
	"github.com/cuemby/bbque/pkg/contrib"
	"github.com/cuemby/bbque/pkg/deferrable"
	"github.com/cuemby/bbque/pkg/log"
	"github.com/cuemby/bbque/pkg/metrics"
	"github.com/cuemby/bbque/pkg/platform"
	"github.com/cuemby/bbque/pkg/round"
	"github.com/cuemby/bbque/pkg/rtlib"
	"github.com/cuemby/bbque/pkg/sasb"
	"github.com/cuemby/bbque/pkg/scheduler"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "bbqued",
	Short:   "bbqued - run-time resource manager for heterogeneous many-core platforms",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"bbqued version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduling and synchronization daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringP("platform", "p", "", "Platform topology YAML file (required)")
	serveCmd.Flags().String("recipe-dir", ".", "Directory containing <app>.recipe files")
	serveCmd.Flags().String("contrib-config", "", "Optional scheduling contribution config YAML file")
	serveCmd.Flags().String("rtlib-addr", ":30200", "RTLib gRPC listen address")
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics listen address")
	serveCmd.Flags().String("cgroup-parent", "/bbque", "Parent cgroup path for the platform proxy")
	serveCmd.Flags().Duration("round-interval", 2*time.Second, "Periodic scheduling round cadence")
	serveCmd.Flags().Float64("latency-ceiling-ms", 500, "Maximum allowed per-application transition latency")
	serveCmd.Flags().String("user", "", "Drop privileges to this user after startup (requires root)")
	serveCmd.Flags().String("lockfile", "", "Exclusive lockfile path; refuses to start a second instance")
	serveCmd.Flags().String("pidfile", "", "Path to write the daemon's PID")
	serveCmd.Flags().String("rundir", "", "Working directory to chdir into once startup-time files are read")
	_ = serveCmd.MarkFlagRequired("platform")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("bbqued")

	platformFile, _ := cmd.Flags().GetString("platform")
	recipeDir, _ := cmd.Flags().GetString("recipe-dir")
	contribConfigFile, _ := cmd.Flags().GetString("contrib-config")
	rtlibAddr, _ := cmd.Flags().GetString("rtlib-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	cgroupParent, _ := cmd.Flags().GetString("cgroup-parent")
	roundInterval, _ := cmd.Flags().GetDuration("round-interval")
	latencyCeilingMs, _ := cmd.Flags().GetFloat64("latency-ceiling-ms")
	runAsUser, _ := cmd.Flags().GetString("user")
	lockfile, _ := cmd.Flags().GetString("lockfile")
	pidfile, _ := cmd.Flags().GetString("pidfile")
	rundir, _ := cmd.Flags().GetString("rundir")

	resourceReg, err := loadTopology(platformFile)
	if err != nil {
		return err
	}

	contribConfig := contrib.DefaultConfig()
	if contribConfigFile != "" {
		contribConfig, err = contrib.LoadConfig(contribConfigFile)
		if err != nil {
			return fmt.Errorf("bbqued: %w", err)
		}
	}

	shutdownDaemon, err := daemonize("bbqued", runAsUser, lockfile, pidfile, rundir)
	if err != nil {
		return fmt.Errorf("bbqued: %w", err)
	}
	defer shutdownDaemon()

	metrics.SetVersion(Version)

	acc := accounter.New(resourceReg, 0)
	appReg := apps.New()
	policy := scheduler.New(acc, appReg, resourceReg, contribConfig)
	syncPolicy := sasb.New(appReg)
	proxy := platform.NewCgroupProxy(cgroupParent)
	driver := round.New(acc, appReg, policy, syncPolicy, proxy, latencyCeilingMs)

	metrics.RegisterComponent("accounter", true, "resource accounter initialized")
	metrics.RegisterComponent("scheduler", true, "scheduling policy initialized")
	metrics.RegisterComponent("platform", true, "cgroup proxy initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roundExec := deferrable.New("scheduling_round", func() {
		if err := driver.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduling round failed")
		}
	}, roundInterval)
	roundExec.Start()
	defer roundExec.Stop()
	roundExec.SetPeriodic(roundInterval)

	rtlibServer := rtlib.NewServer(appReg, recipeDir)
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&rtlib.ServiceDesc, rtlibServer)

	lis, err := net.Listen("tcp", rtlibAddr)
	if err != nil {
		return fmt.Errorf("bbqued: listen %s: %w", rtlibAddr, err)
	}
	go func() {
		logger.Info().Str("addr", rtlibAddr).Msg("rtlib gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("rtlib gRPC server stopped")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/health", metrics.HealthHandler())
	metricsMux.Handle("/ready", metrics.ReadyHandler())
	metricsMux.Handle("/live", metrics.LivenessHandler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		logger.Info().Str("addr", metricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	grpcServer.GracefulStop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}
