package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trial-eligibility-mcp-server/internal/composer"
	"github.com/trial-eligibility-mcp-server/internal/config"
	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/history"
	"github.com/trial-eligibility-mcp-server/internal/ontology"
	"github.com/trial-eligibility-mcp-server/internal/service"
)

type rootOptions struct {
	rulesFile     string
	ontologyFile  string
	referenceDate string
	logLevel      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "eligibility",
		Short:         "Evaluate clinical trial eligibility rules against patient records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.rulesFile, "rules", "config/rules.yaml", "Rule definitions YAML")
	rootCmd.PersistentFlags().StringVar(&opts.ontologyFile, "ontology", "", "Static ontology YAML")
	rootCmd.PersistentFlags().StringVar(&opts.referenceDate, "reference-date", "", "Fixed reference date (YYYY-MM-DD); default today")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newEvaluateCmd(opts),
		newRulesCmd(opts),
		newValidateCmd(opts),
		newHistoryCmd(opts),
		newSetupCmd(),
	)

	return rootCmd
}

func (o *rootOptions) logger() *logrus.Logger {
	return config.NewLogger(domain.LoggingConfig{Level: o.logLevel, Format: "text", Output: "stderr"})
}

func (o *rootOptions) engine(logger *logrus.Logger) (*composer.Engine, error) {
	ont, closeOntology, err := ontology.New(domain.OntologyConfig{Source: ontology.SourceStatic, File: o.ontologyFile}, domain.CacheConfig{}, logger)
	if err != nil {
		return nil, err
	}
	defer closeOntology()

	cfg := config.DefaultLiteConfig()
	cfg.RulesFile = o.rulesFile
	cfg.ReferenceDate = o.referenceDate
	return service.BuildEngine(cfg.EngineConfig(), ont, logger)
}

func newEvaluateCmd(opts *rootOptions) *cobra.Command {
	var patientFile string
	var ruleIDs []string
	var format string
	var historyDB string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate rules for one patient record",
		Long: `Evaluate one or more rules against a patient record stored as JSON.

Example: eligibility evaluate --rules config/rules.yaml --patient patient.json --rule IS_ELIGIBLE`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := readRecord(patientFile)
			if err != nil {
				return err
			}

			logger := opts.logger()
			engine, err := opts.engine(logger)
			if err != nil {
				return err
			}

			var store history.Store
			if historyDB != "" {
				sqlite, err := history.NewSQLiteStore(historyDB)
				if err != nil {
					return err
				}
				defer sqlite.Close()
				store = sqlite
			}

			ids := make([]domain.RuleID, 0, len(ruleIDs))
			for _, id := range ruleIDs {
				ids = append(ids, domain.RuleID(id))
			}

			svc := service.NewEligibilityService(logger, engine, nil, store, 1)
			resp, err := svc.Evaluate(cmd.Context(), service.EvaluateRequest{Record: record, RuleIDs: ids})
			if err != nil {
				return err
			}

			if format == "text" {
				return writeText(cmd.OutOrStdout(), resp)
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&patientFile, "patient", "", "Patient record JSON file (- for stdin)")
	cmd.Flags().StringSliceVar(&ruleIDs, "rule", nil, "Rule id to evaluate (repeatable)")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json, text")
	cmd.Flags().StringVar(&historyDB, "history", "", "Record the run in this SQLite history database")
	_ = cmd.MarkFlagRequired("patient")
	_ = cmd.MarkFlagRequired("rule")

	return cmd
}

func newRulesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect loaded rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rules with their kind and possible results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.engine(opts.logger())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range engine.Rules() {
				fmt.Fprintf(out, "%-40s %-10s %s\n", r.ID, r.Kind, joinResults(r.Results))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "explain [rule-id]",
		Short: "Show how a rule is composed down to its criteria",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.engine(opts.logger())
			if err != nil {
				return err
			}
			tree, err := engine.Explain(domain.RuleID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tree.Render())
			return nil
		},
	})

	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the rule definitions load",
		Long: `Load the rule definitions exactly as the servers do. Unknown rule references,
cycles, non-invertible NOT rules and bad criterion parameters are reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.engine(opts.logger())
			if err != nil {
				return fmt.Errorf("%s: %w", domain.ErrorCode(err), err)
			}
			rules := engine.Rules()
			composites := 0
			for _, r := range rules {
				if r.Kind != composer.KindCriterion {
					composites++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %s defines %d criteria and %d composite rules\n",
				opts.rulesFile, len(rules)-composites, composites)
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Export or import a SQLite evaluation history",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite history database")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(&cobra.Command{
		Use:   "export [file]",
		Short: "Write every run as JSON to file (default stdout)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				file, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				defer file.Close()
				out = file
			}
			return store.ExportJSON(cmd.Context(), out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Import runs from a JSON export, skipping runs already present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer file.Close()

			imported, skipped, err := store.ImportJSON(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d runs, skipped %d\n", imported, skipped)
			return nil
		},
	})

	return cmd
}

func readRecord(path string) (*domain.PatientRecord, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading patient record: %w", err)
	}

	var record domain.PatientRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parsing patient record %s: %w", path, err)
	}
	return &record, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeText(w io.Writer, resp *service.EvaluateResponse) error {
	fmt.Fprintf(w, "Patient %s  run %s  rules v%d\n", resp.PatientID, resp.RunID, resp.RulesVersion)
	for _, outcome := range resp.Results {
		eval := outcome.Evaluation
		fmt.Fprintf(w, "%-40s %s%s\n", outcome.RuleID, eval.Result, recoverableMark(eval))
		for _, m := range eval.SpecificMessages() {
			fmt.Fprintf(w, "    %s\n", m)
		}
	}
	_, err := fmt.Fprintf(w, "Overall: %s%s\n", resp.Overall.Result, recoverableMark(resp.Overall))
	return err
}

func recoverableMark(e domain.Evaluation) string {
	if e.Recoverable && e.Result != domain.PASS {
		return " (recoverable)"
	}
	return ""
}

func joinResults(results []domain.EvaluationResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}
