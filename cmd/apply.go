package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sportgrid/catalog-cli/internal/apply"
	"github.com/sportgrid/catalog-cli/internal/gate"
	"github.com/sportgrid/catalog-cli/internal/model"
)

var (
	applyDryRun bool
	applyActor  string
	applyGated  bool
	applyOutput string
)

var applyCmd = &cobra.Command{
	Use:   "apply <proposal-id>",
	Short: "Apply a single proposal to the catalog",
	Long:  "Applies one pending proposal using its stored block approvals and reviewer overrides. With --gated the proposal must also pass the validation policy first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		p, err := st.GetProposal(ctx, args[0])
		if err != nil {
			return err
		}

		if applyGated {
			pol := gate.Policy{
				MinConfidence:     cfg.Validator.MinConfidence,
				ValidateEdition:   cfg.Validator.ValidateEdition,
				ValidateOrganizer: cfg.Validator.ValidateOrganizer,
				ValidateRaces:     cfg.Validator.ValidateRaces,
			}
			decision := gate.Evaluate(ctx, p, st, pol)
			if !decision.Accepted {
				return eris.Errorf("proposal %s excluded by policy: %s (%s)",
					p.ID, decision.Reason, decision.Detail)
			}
		}

		executor := apply.NewExecutor(st, applyActor, applyDryRun)
		result, err := executor.Apply(ctx, p)
		if err != nil {
			return err
		}
		return writeOutput(os.Stdout, applyOutput, result)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <proposal-id>",
	Short: "Reject a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		p, err := st.GetProposal(ctx, args[0])
		if err != nil {
			return err
		}
		if p.Status != model.ProposalStatusPending {
			return eris.Errorf("proposal %s is %s, not pending", p.ID, p.Status)
		}
		return st.UpdateProposalStatus(ctx, p.ID, model.ProposalStatusRejected, applyActor)
	},
}

func init() {
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "compute the plan without writing")
	applyCmd.Flags().BoolVar(&applyGated, "gated", false, "run the validation policy before applying")
	applyCmd.Flags().StringVar(&applyActor, "actor", "operator.cli", "reviewer identity recorded on the proposal")
	applyCmd.Flags().StringVarP(&applyOutput, "output", "o", "json", "output format (json, yaml)")

	rejectCmd.Flags().StringVar(&applyActor, "actor", "operator.cli", "reviewer identity recorded on the proposal")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(rejectCmd)
}
