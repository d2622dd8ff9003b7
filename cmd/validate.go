package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sportgrid/catalog-cli/internal/apply"
	"github.com/sportgrid/catalog-cli/internal/gate"
	"github.com/sportgrid/catalog-cli/internal/runner"
)

var (
	validateDryRun   bool
	validatePageSize int
	validateOutput   string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the unattended validation pass over pending proposals",
	Long:  "Pages pending proposals, evaluates each against the validation policy, and applies the accepted ones. Excluded proposals stay pending for human review.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		dryRun := validateDryRun || cfg.Validator.DryRun
		pageSize := validatePageSize
		if pageSize == 0 {
			pageSize = cfg.Validator.PageSize
		}

		pol := gate.Policy{
			MinConfidence:     cfg.Validator.MinConfidence,
			ValidateEdition:   cfg.Validator.ValidateEdition,
			ValidateOrganizer: cfg.Validator.ValidateOrganizer,
			ValidateRaces:     cfg.Validator.ValidateRaces,
		}
		executor := apply.NewExecutor(st, runner.DefaultIdentity, dryRun)

		r := runner.New(st, executor, pol, runner.Options{
			PageSize:   pageSize,
			RatePerSec: cfg.Validator.RatePerSec,
			DryRun:     dryRun,
		})

		report, err := r.Run(ctx)
		if err != nil {
			return err
		}
		return writeOutput(os.Stdout, validateOutput, report)
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateDryRun, "dry-run", false, "evaluate and plan without writing")
	validateCmd.Flags().IntVar(&validatePageSize, "page-size", 0, "max proposals per run (default from config)")
	validateCmd.Flags().StringVarP(&validateOutput, "output", "o", "json", "output format (json, yaml)")
	rootCmd.AddCommand(validateCmd)
}
