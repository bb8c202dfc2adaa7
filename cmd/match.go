package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/warranty-intake/internal/homeowner"
	"github.com/sells-group/warranty-intake/internal/similarity"
)

var matchLimit int

var matchCmd = &cobra.Command{
	Use:   "match <address>",
	Short: "Score an address against the homeowner directory",
	Long:  "Ranks homeowners by address similarity and marks which ones clear the match threshold. Useful for diagnosing why a call did or did not match.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		candidates, err := st.ListHomeowners(ctx)
		if err != nil {
			return eris.Wrap(err, "list homeowners")
		}

		address := strings.Join(args, " ")
		ranked := homeowner.Rank(address, candidates)
		return printRanked(cmd.OutOrStdout(), address, ranked, cfg.Intake.MinSimilarity, matchLimit)
	},
}

func init() {
	matchCmd.Flags().IntVar(&matchLimit, "limit", 10, "max candidates to print (0 for all)")
	rootCmd.AddCommand(matchCmd)
}

func printRanked(w io.Writer, address string, ranked []homeowner.Match, minSimilarity float64, limit int) error {
	if minSimilarity <= 0 {
		minSimilarity = homeowner.DefaultMinSimilarity
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	fmt.Fprintf(w, "address:    %s\n", address)
	fmt.Fprintf(w, "normalized: %s\n", similarity.Normalize(address))
	fmt.Fprintf(w, "threshold:  %.2f\n\n", minSimilarity)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tMATCH\tID\tNAME\tADDRESS")
	for _, m := range ranked {
		mark := ""
		if m.Similarity >= minSimilarity {
			mark = "yes"
		}
		fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\t%s\n", m.Similarity, mark, m.Homeowner.ID, m.Homeowner.Name, m.Homeowner.Address)
	}
	return eris.Wrap(tw.Flush(), "write results")
}
