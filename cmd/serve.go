package cmd

import (
	"fmt"
	"os"
	"time"

	godaemon "github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"

	"github.com/dimasma0305/hackforge/internal/hackforge/blueprint"
	"github.com/dimasma0305/hackforge/internal/hackforge/campaign"
	"github.com/dimasma0305/hackforge/internal/hackforge/config"
	"github.com/dimasma0305/hackforge/internal/hackforge/docker"
	"github.com/dimasma0305/hackforge/internal/hackforge/flagcheck"
	"github.com/dimasma0305/hackforge/internal/hackforge/machine"
	"github.com/dimasma0305/hackforge/internal/hackforge/notify"
	"github.com/dimasma0305/hackforge/internal/hackforge/orchestrator"
	"github.com/dimasma0305/hackforge/internal/hackforge/server"
	"github.com/dimasma0305/hackforge/internal/hackforge/store"
	"github.com/dimasma0305/hackforge/internal/log"
)

var (
	serveHost   string
	servePort   int
	serveDaemon bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign API server",
	Long: `Start the HTTP API server for campaign and container management.

The server loads blueprints, opens the campaign database, and exposes the
REST API for:

  • Campaign creation with asynchronous machine provisioning
  • Flag validation and scoring
  • Bulk and per-container docker operations
  • User records and leaderboard

With --daemon the server detaches and writes its output to the configured
log file, which "hackforge logs" can follow.`,
	Example: `  # Start on the configured host and port
  hackforge serve

  # Override the bind address
  hackforge serve --host 0.0.0.0 --port 3000

  # Run detached
  hackforge serve --daemon`,
	RunE: func(_ *cobra.Command, _ []string) error {
		conf, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return err
		}
		if serveHost != "" {
			conf.Server.Host = serveHost
		}
		if servePort != 0 {
			conf.Server.Port = servePort
		}

		if serveDaemon {
			return serveAsDaemon(conf)
		}
		return runServer(conf)
	},
}

// serveAsDaemon forks the server into the background
func serveAsDaemon(conf *config.Config) error {
	daemonCtx := &godaemon.Context{
		PidFileName: ".hackforge/server.pid",
		PidFilePerm: 0o644,
		LogFileName: conf.Server.LogFile,
		LogFilePerm: 0o640,
		WorkDir:     "./",
		Umask:       0o27,
	}

	if godaemon.WasReborn() {
		// Child daemon process
		log.Info("Hackforge daemon started (PID: %d)", os.Getpid())
		return runServer(conf)
	}

	child, err := daemonCtx.Reborn()
	if err != nil {
		return fmt.Errorf("failed to fork daemon: %w", err)
	}
	if child != nil {
		// Parent process
		log.Info("Hackforge server daemon started")
		log.Info("PID: %d, logs: %s", child.Pid, conf.Server.LogFile)
		return nil
	}

	return fmt.Errorf("unexpected daemon state")
}

// runServer wires every component and serves until shutdown
func runServer(conf *config.Config) error {
	log.Info("Starting Hackforge Campaign Server...")

	if conf.Server.LogFile != "" {
		if err := log.SetLogFile(conf.Server.LogFile); err != nil {
			log.Error("Failed to open log file: %v", err)
		} else {
			defer log.CloseLogFile()
		}
	}

	registry := blueprint.NewRegistry(conf.Blueprints.Dir)
	if err := registry.Load(); err != nil {
		return fmt.Errorf("failed to load blueprints: %w", err)
	}
	if conf.Blueprints.Watch {
		if err := registry.Watch(); err != nil {
			log.Error("Blueprint hot-reload disabled: %v", err)
		} else {
			defer registry.StopWatching()
		}
	}

	dsn := conf.Database.Path
	if conf.Database.Driver == "postgres" {
		dsn = conf.Database.DSN
	}
	st, err := store.Open(conf.Database.Driver, dsn)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()

	allocator := machine.NewPortAllocator(conf.Docker.PortMin, conf.Docker.PortMax)
	ports, err := st.UsedPorts()
	if err != nil {
		return err
	}
	for _, p := range ports {
		allocator.MarkUsed(p)
	}
	if len(ports) > 0 {
		log.Info("Seeded port allocator with %d persisted port(s)", len(ports))
	}

	runtime := docker.NewCLI(docker.Options{
		Binary:        conf.Docker.Binary,
		RunTimeout:    time.Duration(conf.Docker.BuildTimeoutS) * time.Second,
		OpTimeout:     time.Duration(conf.Docker.OpTimeoutS) * time.Second,
		StatusTimeout: time.Duration(conf.Docker.StatusTimeoutS) * time.Second,
	})

	pool := orchestrator.NewWorkerPool(conf.Docker.Workers)
	pool.Start()
	defer pool.Stop()

	notifier := buildNotifier(conf)
	manager := campaign.NewManager(st, registry, allocator, runtime, pool, conf.Flags.Prefix)

	srv := server.New(server.Deps{
		Store:       st,
		Registry:    registry,
		Allocator:   allocator,
		Manager:     manager,
		Validator:   flagcheck.NewValidator(st, notifier),
		Coordinator: orchestrator.New(runtime, st, pool),
	})

	return srv.Run(conf.Server.Host, conf.Server.Port)
}

// buildNotifier assembles the configured notification sinks, or nil
func buildNotifier(conf *config.Config) flagcheck.Notifier {
	var sinks notify.Multi

	if conf.Notify.DiscordWebhook != "" {
		d, err := notify.NewDiscord(conf.Notify.DiscordWebhook, conf.Notify.IconURL)
		if err != nil {
			log.Error("Discord notifications disabled: %v", err)
		} else {
			log.Info("Discord notifications enabled")
			sinks = append(sinks, d)
		}
	}

	if conf.Notify.SMTP.Host != "" {
		e, err := notify.NewEmail(notify.SMTPConfig{
			Host:     conf.Notify.SMTP.Host,
			Port:     conf.Notify.SMTP.Port,
			Username: conf.Notify.SMTP.Username,
			Password: conf.Notify.SMTP.Password,
			From:     conf.Notify.SMTP.From,
			To:       conf.Notify.SMTP.To,
		})
		if err != nil {
			log.Error("Email notifications disabled: %v", err)
		} else {
			log.Info("Email notifications enabled")
			sinks = append(sinks, e)
		}
	}

	if len(sinks) == 0 {
		return nil
	}
	return sinks
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "", "Host to bind the server to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to bind the server to")
	serveCmd.Flags().BoolVar(&serveDaemon, "daemon", false, "Run the server in the background")
}
