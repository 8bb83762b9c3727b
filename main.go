package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"comicvault/app"
	"comicvault/config"
	"comicvault/engine"
	"comicvault/events"
	"comicvault/httpapi"
	"comicvault/metadata"
	"comicvault/models"
	"comicvault/upstream"
)

// rootOpts holds flags shared by every subcommand.
type rootOpts struct {
	configPath string
	logLevel   string
	addr       string
}

func main() {
	ro := &rootOpts{}

	root := &cobra.Command{
		Use:           "comicvaultd",
		Short:         "Comic download daemon: REST + WebSocket core for a comic downloader",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&ro.configPath, "config", defaultConfigPath(), "Path to config.json")
	root.PersistentFlags().StringVar(&ro.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	serveCmd := newServeCmd(ro)
	root.AddCommand(serveCmd)
	root.AddCommand(newVersionCmd())
	root.AddCommand(newConfigCmd(ro))
	root.RunE = serveCmd.RunE

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".comicvault", "config.json")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("comicvaultd %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
			return nil
		},
	}
}

func newConfigCmd(ro *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgStore, err := config.Open(ro.configPath)
			if err != nil {
				return err
			}
			defer cfgStore.Close()
			fmt.Printf("%+v\n", cfgStore.Get())
			return nil
		},
	}
}

func newServeCmd(ro *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download engine and serve its REST/WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ro)
		},
	}
	cmd.Flags().StringVar(&ro.addr, "addr", ":8765", "Address to bind the HTTP API to")
	return cmd
}

func runServe(ro *rootOpts) error {
	configureLogging(ro.logLevel)
	log := logrus.WithField("component", "main")

	cfgStore, err := config.Open(ro.configPath)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer cfgStore.Close()

	cur := cfgStore.Get()
	if cur.DownloadDir == "" {
		cur = models.Default()
		home, _ := os.UserHomeDir()
		cur.DownloadDir = filepath.Join(home, "Comics")
		if err := cfgStore.SaveSync(cur); err != nil {
			return fmt.Errorf("seed default config: %w", err)
		}
		log.WithField("downloadDir", cur.DownloadDir).Info("no config found, seeded defaults")
	}

	client, err := upstream.NewClient(cur)
	if err != nil {
		return fmt.Errorf("build upstream client: %w", err)
	}

	metaStore, err := metadata.Open(cur.DownloadDir)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer metaStore.Close()

	bus := events.New()
	eng := engine.New(cfgStore, client, metaStore, bus)
	svc := app.New(cfgStore, client, metaStore, eng, bus, filepath.Join(filepath.Dir(ro.configPath), "logs"))
	server := httpapi.NewServer(svc, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go eng.Run(ctx)

	httpSrv := &http.Server{Addr: ro.addr, Handler: server}
	go func() {
		log.WithField("addr", ro.addr).Info("serving comicvaultd API")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func configureLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
