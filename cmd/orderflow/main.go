package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/app"
	"github.com/ternarybob/orderflow/internal/common"
	"github.com/ternarybob/orderflow/internal/models"
	"github.com/ternarybob/orderflow/internal/server"
	"golang.org/x/sync/errgroup"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	serveMode    = flag.Bool("serve", false, "Serve the HTTP control API instead of running one export")
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Orderflow version %s\n", common.GetBuildInfo())
		os.Exit(0)
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		for _, candidate := range []string{"orderflow.toml", "deployments/local/orderflow.toml"} {
			if _, err := os.Stat(candidate); err == nil {
				configFiles = append(configFiles, candidate)
				break
			}
		}
	}

	// Startup order: config (defaults -> files -> env), CLI overrides, logger, banner
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, finalPort, *serverHost)

	common.InstallCrashHandler(config.Logging.Dir)
	defer common.RecoverWithCrashFile()

	logger := common.InitLogger(&config.Logging)
	common.PrintBanner(config, logger)

	logger.Info().
		Strs("config_files", configFiles).
		Bool("serve", *serveMode).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	if err := application.Start(application.Context()); err != nil {
		logger.Error().Err(err).Msg("Failed to start browser session")
		application.Close()
		os.Exit(1)
	}

	if *serveMode {
		err = serve(application, logger)
	} else {
		err = runOnce(application, logger)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Orderflow exited with error")
		application.Close()
		os.Exit(1)
	}
}

// runOnce runs a single export. The first interrupt requests a stop so the partial table is
// still written; a second interrupt abandons the run.
func runOnce(application *app.App, logger arbor.ILogger) error {
	session := application.ExportSession
	if err := session.Start(application.Context()); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	waitCtx, abandon := context.WithCancel(context.Background())
	defer abandon()

	common.SafeGo(logger, "signal-handler", func() {
		select {
		case <-sigChan:
		case <-waitCtx.Done():
			return
		}
		logger.Info().Msg("Interrupt received, stopping export (interrupt again to abandon)")
		if err := session.RequestStop(); err != nil {
			logger.Debug().Err(err).Msg("Stop request ignored")
		}

		select {
		case <-sigChan:
			logger.Warn().Msg("Second interrupt, abandoning export")
			abandon()
		case <-waitCtx.Done():
		}
	})

	result, err := session.Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("export abandoned: %w", err)
	}
	if result == nil {
		return errors.New("export finished without a result")
	}

	logger.Info().
		Str("run_id", result.RunID).
		Str("outcome", string(result.Outcome)).
		Int("pages", result.Pages).
		Int("records", result.Records).
		Str("output", result.OutputPath).
		Dur("duration", result.FinishedAt.Sub(result.StartedAt)).
		Msg("Export finished")

	if result.Outcome == models.OutcomeDegraded {
		if result.Err != nil {
			return fmt.Errorf("export degraded: %w", result.Err)
		}
		return errors.New("export degraded")
	}
	return nil
}

// serve runs the HTTP control surface until a signal or a server failure
func serve(application *app.App, logger arbor.ILogger) error {
	ctx, stop := signal.NotifyContext(application.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(application)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info().
		Str("url", fmt.Sprintf("http://%s", srv.Addr())).
		Msg("Server ready - Press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Server stopped")
	return nil
}
