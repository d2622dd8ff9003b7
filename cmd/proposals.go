package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sportgrid/catalog-cli/internal/model"
	"github.com/sportgrid/catalog-cli/internal/store"
)

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "Inspect the proposal queue",
	Long:  "Commands for listing and viewing change proposals.",
}

// -- proposals list --

var proposalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals",
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

		status, _ := cmd.Flags().GetString("status")
		kind, _ := cmd.Flags().GetString("kind")
		eventID, _ := cmd.Flags().GetInt64("event")
		editionID, _ := cmd.Flags().GetInt64("edition")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("output")

		filter := store.ProposalFilter{
			Status:    model.ProposalStatus(status),
			Kind:      model.ProposalKind(kind),
			EventID:   eventID,
			EditionID: editionID,
			Limit:     limit,
		}

		proposals, err := st.ListProposals(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "proposals list")
		}

		if format != "" {
			return writeOutput(os.Stdout, format, proposals)
		}
		if len(proposals) == 0 {
			fmt.Fprintln(os.Stderr, "No proposals found.")
			return nil
		}
		formatProposalsList(os.Stdout, proposals)
		return nil
	},
}

// -- proposals show --

var proposalsShowCmd = &cobra.Command{
	Use:   "show <proposal-id>",
	Short: "Show full details of a proposal",
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
			return eris.Wrap(err, "proposals show")
		}

		format, _ := cmd.Flags().GetString("output")
		return writeOutput(os.Stdout, format, p)
	},
}

// -- proposals ingest --

var proposalsIngestCmd = &cobra.Command{
	Use:   "ingest <file.json>",
	Short: "Ingest proposals from an agent payload file",
	Long:  "Reads a single proposal object or an array of proposals from a JSON file. Arrays are inserted as a batch.",
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

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "proposals ingest: read file")
		}

		proposals, err := parseIngestPayload(data)
		if err != nil {
			return err
		}

		if len(proposals) == 1 {
			if err := st.CreateProposal(ctx, &proposals[0]); err != nil {
				return err
			}
			fmt.Println(proposals[0].ID)
			return nil
		}

		n, err := bulkCreate(ctx, st, proposals)
		if err != nil {
			return err
		}
		fmt.Printf("Ingested %d proposals.\n", n)
		return nil
	},
}

// parseIngestPayload accepts either a single proposal object or an array.
func parseIngestPayload(data []byte) ([]model.Proposal, error) {
	var proposals []model.Proposal
	if err := json.Unmarshal(data, &proposals); err != nil {
		var p model.Proposal
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, eris.Wrap(err, "proposals ingest: parse payload")
		}
		proposals = []model.Proposal{p}
	}
	if len(proposals) == 0 {
		return nil, eris.New("proposals ingest: empty payload")
	}
	for i := range proposals {
		if proposals[i].ID == "" {
			proposals[i].ID = uuid.NewString()
		}
		if proposals[i].Kind == "" {
			proposals[i].Kind = model.ProposalKindRecordUpdate
		}
	}
	return proposals, nil
}

// bulkIngester is implemented by backends with a fast batch-insert path.
type bulkIngester interface {
	BulkCreateProposals(ctx context.Context, proposals []model.Proposal) (int, error)
}

func bulkCreate(ctx context.Context, st store.Store, proposals []model.Proposal) (int, error) {
	if bi, ok := st.(bulkIngester); ok {
		return bi.BulkCreateProposals(ctx, proposals)
	}
	for i := range proposals {
		if err := st.CreateProposal(ctx, &proposals[i]); err != nil {
			return i, err
		}
	}
	return len(proposals), nil
}

func init() {
	proposalsListCmd.Flags().String("status", "", "filter by status (pending, approved, partially_approved, rejected, archived)")
	proposalsListCmd.Flags().String("kind", "", "filter by kind (new_record, record_update)")
	proposalsListCmd.Flags().Int64("event", 0, "filter by target event id")
	proposalsListCmd.Flags().Int64("edition", 0, "filter by target edition id")
	proposalsListCmd.Flags().Int("limit", 50, "max number of proposals to display")
	proposalsListCmd.Flags().StringP("output", "o", "", "output format (json, yaml); default is a table")

	proposalsShowCmd.Flags().StringP("output", "o", "json", "output format (json, yaml)")

	proposalsCmd.AddCommand(proposalsListCmd)
	proposalsCmd.AddCommand(proposalsShowCmd)
	proposalsCmd.AddCommand(proposalsIngestCmd)
	rootCmd.AddCommand(proposalsCmd)
}

// formatProposalsList writes a tabular list of proposals to w.
func formatProposalsList(out io.Writer, proposals []model.Proposal) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATUS\tCONF\tAGENT\tEVENT\tEDITION\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----\t-----\t-----\t-------\t-------")

	for _, p := range proposals {
		conf := "-"
		if p.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *p.Confidence)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(p.ID),
			p.Kind,
			p.Status,
			conf,
			p.Agent,
			formatID(p.EventID),
			formatID(p.EditionID),
			p.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func formatID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
