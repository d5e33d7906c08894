package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"notehub/internal/build"
	"notehub/internal/domain/config"
	"notehub/internal/serve"
)

const indexPath = ".notehub/index.db"

var (
	configPath string
	listenAddr string
	withDrafts bool
)

var rootCmd = &cobra.Command{
	Use:   "notehub",
	Short: "Markdown note publishing with live cross-process updates",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the site with live reload and article-update relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.Serve.Addr = listenAddr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := serve.New(cfg, indexPath)
		if err != nil {
			return fmt.Errorf("serve init: %w", err)
		}
		defer s.Close()

		log.Printf("[notehub] serving on %s", cfg.Serve.Addr)
		return s.ListenAndServe(ctx, cfg.Serve.Addr)
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the static site into the public directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if withDrafts {
			cfg.Build.IncludeDraft = true
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b := &build.Builder{Cfg: cfg, IndexPath: indexPath}
		res, err := b.Run(ctx)
		if err != nil {
			return err
		}
		for _, w := range res.Warnings {
			log.Printf("[build] warn %s: %s", w.Path, w.Msg)
		}
		log.Printf("[build] done: %d articles, %d changed -> %s", res.Articles, res.Changed, cfg.Build.PublicDir)
		return nil
	},
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", configPath, err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./site.yaml", "Path to the site config file")
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address, overrides serve.addr from config")
	buildCmd.Flags().BoolVar(&withDrafts, "drafts", false, "Include draft articles in the output")
	rootCmd.AddCommand(serveCmd, buildCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
