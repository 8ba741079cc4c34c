package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"agentchat/core"
)

var version = "dev"

var (
	// Global flags, applied over the environment
	region   string
	logLevel string
	backend  string
	endpoint string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentchat",
		Short: "Chat with hosted agent runtimes",
		Long: `agentchat sends prompts to agent runtime endpoints, streams the replies
and downloads the object-store artifacts the agents link to.

Configuration comes from the environment (and a .env file); flags win.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&region, "region", "", "Region for agent and storage calls")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Agent backend (agentcore, local)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "Default agent endpoint")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the global flags.
func loadConfig() *core.Config {
	config := core.LoadConfig()
	if region != "" {
		config.Region = region
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if backend != "" {
		config.Backend = backend
	}
	if endpoint != "" {
		config.EndpointID = endpoint
	}
	return config
}

func newServer(ctx context.Context, config *core.Config, logger *logrus.Logger, registry *prometheus.Registry) (*core.Server, error) {
	agentBackend, connect, err := core.NewBackend(ctx, config, logger)
	if err != nil {
		return nil, err
	}
	metrics, err := core.NewMetrics(registry)
	if err != nil {
		return nil, err
	}
	return core.NewServer(config, logger, agentBackend, connect, metrics), nil
}

func serveCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()
			if port != "" {
				config.Port = port
			}
			logger := core.InitializeLogger(config)

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			server, err := newServer(cmd.Context(), config, logger, registry)
			if err != nil {
				logger.WithError(err).Error("Failed to create server")
				return err
			}
			defer server.Close()

			e := echo.New()
			e.HideBanner = true

			// Configure middleware stack for request processing
			e.Use(middleware.RequestID())
			e.Use(middleware.Logger())
			e.Use(middleware.Recover())
			e.Use(middleware.CORS())

			server.RegisterRoutes(e)

			go func() {
				logger.WithField("port", config.Port).Info("Starting server")
				if err := e.Start(fmt.Sprintf(":%s", config.Port)); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Fatal("Failed to start server")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			<-quit

			logger.Info("Shutting down server...")

			// Give in-flight turns 30 seconds to finish
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := e.Shutdown(ctx); err != nil {
				logger.WithError(err).Error("Failed to gracefully shutdown server")
				return err
			}
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "HTTP port (default from PORT or 8080)")
	return cmd
}

func chatCmd() *cobra.Command {
	var downloadDir string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()
			config.LogFormat = "text"
			if downloadDir != "" {
				config.DownloadDir = downloadDir
			}
			logger := core.InitializeLogger(config)
			if logLevel == "" {
				logger.SetLevel(logrus.WarnLevel)
			}

			server, err := newServer(cmd.Context(), config, logger, nil)
			if err != nil {
				return err
			}
			defer server.Close()

			return core.NewREPL(server, config.DownloadDir, os.Stdout).Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&downloadDir, "download-dir", "", "Directory for downloaded artifacts")
	return cmd
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agent endpoints in the region",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()
			config.LogFormat = "text"
			logger := core.InitializeLogger(config)

			agentBackend, _, err := core.NewBackend(cmd.Context(), config, logger)
			if err != nil {
				return err
			}
			if agentBackend == nil {
				return core.ErrNoBackend
			}

			agents, err := agentBackend.ListAgents(cmd.Context(), config.Region)
			if err != nil {
				return err
			}
			for _, agent := range agents {
				fmt.Printf("%s\t%s\n", agent.EndpointID, agent.Label())
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("agentchat", version)
		},
	}
}
