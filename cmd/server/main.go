// Command server runs one Flockcast worker process. A process manager
// typically spawns several of these sharing one listening port; the workers
// coordinate their shutdown through the shared coordination directory.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flockcast/flockcast/internal/coord"
	"github.com/flockcast/flockcast/internal/logging"
	"github.com/flockcast/flockcast/internal/server"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:           "flockcast-server",
	Short:         "Real-time broadcast server with coordinated worker shutdown",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Reset the coordination directory (master only, before spawning workers)",
	RunE: func(_ *cobra.Command, _ []string) error {
		liveness, err := coord.NewLivenessDir(v.GetString("coordination-dir"))
		if err != nil {
			return err
		}
		return liveness.Purge()
	},
}

var development bool

func init() {
	flags := rootCmd.PersistentFlags()
	server.AddFlags(flags)
	flags.BoolVar(&development, "dev", false, "enable development logging")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("FLOCKCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	server.RegisterDefaults(v)

	rootCmd.AddCommand(purgeCmd)
}

func run() error {
	flush := logging.Setup(development)
	defer flush()

	cfg := server.NewConfigFromViper(v)
	server.SetConfig(cfg)

	hub := server.NewHub()
	go hub.Run()

	liveness, err := coord.NewLivenessDir(cfg.CoordinationDir)
	if err != nil {
		return err
	}

	workerID := coord.WorkerID()
	coordinator := coord.NewCoordinator(workerID, hub, liveness, coord.Options{
		ShutdownTimeout:   cfg.ShutdownTimeout,
		WarningInterval:   cfg.WarningInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	unbind := coord.BindLifecycle(coordinator, cfg.ShutdownTimeout, cfg.WarningInterval)
	defer unbind()

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub))

	zap.S().Infof("Starting Flockcast worker %s", workerID)

	var g errgroup.Group
	g.Go(func() error {
		return server.StartServer(httpServer)
	})
	g.Go(func() error {
		<-coordinator.Done()
		_ = server.ShutdownServer(httpServer, 10*time.Second)
		return hub.Shutdown(10 * time.Second)
	})

	return g.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.S().Errorf("Server exited with error: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
