package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/warranty-intake/internal/model"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a homeowner fixture into a development database",
	Long:  "Upserts homeowners from a JSON array so match and replay can be exercised locally. Production homeowners are owned by the directory service.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}

		homeowners, err := loadHomeowners(seedFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		n, err := st.UpsertHomeowners(ctx, homeowners)
		if err != nil {
			return eris.Wrap(err, "upsert homeowners")
		}

		zap.L().Info("seed complete", zap.Int64("upserted", n), zap.String("file", seedFile))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "path to homeowner JSON fixture (required)")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}

func loadHomeowners(path string) ([]model.Homeowner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read fixture %s", path)
	}
	var homeowners []model.Homeowner
	if err := json.Unmarshal(raw, &homeowners); err != nil {
		return nil, eris.Wrapf(err, "decode fixture %s", path)
	}
	for i, h := range homeowners {
		if h.Address == "" {
			return nil, eris.Errorf("fixture %s: homeowner %d has no address", path, i)
		}
	}
	return homeowners, nil
}
