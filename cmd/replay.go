package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/warranty-intake/internal/webhook"
)

var replayFile string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run a saved webhook payload through the intake pipeline",
	Long:  "Reads a webhook JSON body from a file (or - for stdin) and processes it exactly as the server would, printing the outcome.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initIntake(ctx, "replay")
		if err != nil {
			return err
		}
		defer env.Close()

		return runReplay(ctx, env.Orchestrator, replayFile, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFile, "file", "", "path to webhook JSON payload, or - for stdin (required)")
	_ = replayCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(ctx context.Context, proc webhook.Processor, path string, stdin io.Reader, out io.Writer) error {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return eris.Wrapf(err, "read payload %s", path)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return eris.Wrapf(err, "decode payload %s", path)
	}

	outcome, err := proc.Process(ctx, payload)
	if err != nil {
		return eris.Wrap(err, "process payload")
	}

	zap.L().Info("replay complete",
		zap.String("call_id", outcome.Call.CallID),
		zap.String("scenario", string(outcome.Scenario)),
	)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(outcome), "encode outcome")
}
