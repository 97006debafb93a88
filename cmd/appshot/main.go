package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"appshot/internal/config"
	"appshot/internal/gemini"
	"appshot/internal/httpclient"
	"appshot/internal/mockup"
)

var (
	storeFlag string
	outFlag   string
	editFlags []string
)

var rootCmd = &cobra.Command{
	Use:          "appshot",
	Short:        "Turn app screenshots into store-ready images",
	SilenceUsage: true,
}

var generateCmd = &cobra.Command{
	Use:   "generate FILE...",
	Short: "Generate store screenshots from up to 3 app screenshots",
	Long: `Generate uploads the given screenshots, renders one store-ready image per
file for the chosen store, applies edits in order, and writes the results as
appshot-N.png into the output directory. Files past the third are skipped.

Examples:
  appshot generate home.png detail.png --store google_play
  appshot generate home.png --out ./shots --edit "1=use a dark blue background"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerateCmd,
}

func init() {
	generateCmd.Flags().StringVarP(&storeFlag, "store", "s", string(mockup.DefaultDevice), "Target store: app_store or google_play")
	generateCmd.Flags().StringVarP(&outFlag, "out", "o", ".", "Directory to write the results to")
	generateCmd.Flags().StringArrayVarP(&editFlags, "edit", "e", nil, "Edit as N=instruction, applied in order (repeatable)")
	rootCmd.AddCommand(generateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGenerateCmd(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg, os.Stderr)

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})
	gem := gemini.New(gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		Model:      cfg.GeminiImageModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = runGenerate(ctx, gem, logger, generateOptions{
		Files:       args,
		Store:       storeFlag,
		OutDir:      outFlag,
		Edits:       editFlags,
		CallTimeout: cfg.CallTimeout,
	}, cmd.OutOrStdout())
	return err
}
