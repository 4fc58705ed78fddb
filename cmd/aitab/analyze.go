package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/simonmoedinger/aitab/config"
	"github.com/simonmoedinger/aitab/internal/analysis"
	"github.com/simonmoedinger/aitab/internal/assistant"
	"github.com/simonmoedinger/aitab/internal/telemetry"
)

// analyzeCMD runs the whole pipeline once for a patient JSON file and
// prints each section as it completes. Meant for smoke-testing an
// assistant setup without the HTTP server or a database.
func analyzeCMD() *cobra.Command {
	var cfgPath string
	var patientPath string
	var analyze = &cobra.Command{
		Use:   "analyze",
		Short: "Run a one-shot analysis for a patient JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			raw, err := os.ReadFile(patientPath)
			if err != nil {
				return err
			}
			var input analysis.PatientInput
			if err := json.Unmarshal(raw, &input); err != nil {
				return fmt.Errorf("parse patient file: %w", err)
			}

			client, err := assistant.NewClient(cfg.Assistant)
			if err != nil {
				return err
			}
			tele := telemetry.NewTelemetry(cfg.Telemetry)
			cache := analysis.NewFileCache(cfg.Storage.Redis)
			poller := analysis.NewPoller(client, cfg.Pipeline.PollInterval, tele, nil)
			catalog := analysis.NewCatalog(client, cache, tele, nil)
			pipeline := analysis.NewPipeline(client, poller, catalog, cfg.Assistant.AssistantID, tele, nil)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if cfg.Pipeline.RunTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.RunTimeout)
				defer cancel()
			}

			sess := analysis.NewSession()
			err = pipeline.Run(ctx, sess, input, func(res analysis.StepResult) {
				fmt.Printf("== %s ==\n", res.Step)
				if res.Abnormal != nil {
					fmt.Printf("abnormal: %v\n", *res.Abnormal)
				}
				if res.Text != "" {
					fmt.Println(res.Text)
				}
				for _, f := range res.NewFiles {
					fmt.Printf("  [%d] %s\n", f.Citation, f.Name)
				}
				fmt.Println()
			})
			if err != nil {
				return err
			}

			if files := sess.DisplayedFiles(); len(files) > 0 {
				fmt.Println("== sources ==")
				for _, f := range files {
					fmt.Printf("  [%d] %s\n", f.Citation, f.Name)
				}
			}
			return nil
		},
	}
	analyze.Flags().StringVar(&patientPath, "patient", "patient.json", "patient input JSON file")
	analyze.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return analyze
}
