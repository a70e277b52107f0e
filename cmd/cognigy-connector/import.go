package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apperrors "cognigy-connector/internal/common/errors"
	apphttp "cognigy-connector/internal/common/http"
	"cognigy-connector/internal/importer"
)

var (
	importOutput      string
	importBuildConvos bool
	importConcurrency int
)

var importCmd = &cobra.Command{
	Use:   "import-intents",
	Short: "Download the intents behind the configured REST endpoint",
	Long: `Looks up the REST endpoint whose URL token occurs in connector.url, resolves
its flow and exports the intents of every flow in the same project.

The result is written as YAML: utterance lists, and with --buildconvos one
conversation per intent asserting the INTENT.`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVarP(&importOutput, "output", "o", "", "output file (default: stdout)")
	importCmd.Flags().BoolVar(&importBuildConvos, "buildconvos", false, "build convos for intent assertions")
	importCmd.Flags().IntVar(&importConcurrency, "concurrency", 4, "parallel flow exports")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	if cfg.Connector.URL == "" {
		return apperrors.NewMissingSettingError("connector.url", "to locate the endpoint")
	}
	if cfg.API.APIKey == "" {
		return apperrors.NewMissingSettingError("api.api_key", "or analytics.api_key")
	}
	baseURL, err := importer.BaseURL(cfg)
	if err != nil {
		return err
	}

	client := importer.NewAPIClient(baseURL, cfg.API.APIKey, apphttp.NewClient(60*time.Second))
	res, err := importer.New(client, log).Run(cmd.Context(), importer.Options{
		EndpointURL: cfg.Connector.URL,
		BuildConvos: importBuildConvos,
		Concurrency: importConcurrency,
		Status: func(msg string) {
			fmt.Fprintln(cmd.ErrOrStderr(), msg)
		},
	})
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if importOutput != "" {
		f, err := os.Create(importOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return enc.Close()
}
