package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/climate"
	"github.com/sells-group/vivabilite/internal/manifest"
	"github.com/sells-group/vivabilite/internal/score"
	"github.com/sells-group/vivabilite/internal/source"
)

var climateCmd = &cobra.Command{
	Use:   "climate",
	Short: "Run the climate pipeline on a DRIAS point grid",
	Long: `Aggregate the DRIAS indicators of a Météo-France point grid per commune,
score each indicator and combine them into a climate score.

The grid defaults to climate.file in the config, then to the first
meteo_france dataset of the manifest.

Examples:
  climate --file data/drias_rcp85_h2.txt
  climate --weights NORTX35D_yr=3,ATMm_yr=0 --limit 20`,
	RunE: runClimate,
}

func init() {
	f := climateCmd.Flags()
	f.String("file", "", "DRIAS point grid (default from config or manifest)")
	f.String("weights", "", "indicator weight overrides as code=weight pairs")
	f.Int("limit", 0, "maximum number of communes (0=all)")

	rootCmd.AddCommand(climateCmd)
}

func runClimate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	file, _ := cmd.Flags().GetString("file")
	weightsFlag, _ := cmd.Flags().GetString("weights")
	limit, _ := cmd.Flags().GetInt("limit")

	overrides, err := parseWeights(weightsFlag)
	if err != nil {
		return eris.Wrap(err, "climate")
	}

	env, err := initScoring("score")
	if err != nil {
		return err
	}
	if file == "" {
		file = climateFile(env.Manifest, cfg.Climate.File, cfg.Data.Dir)
	}
	if file == "" {
		return eris.New("climate: no grid given and no meteo_france dataset in the manifest")
	}

	eng := env.Service.Engine()
	pipeline := eng.Climate()
	grid, err := pipeline.Load(ctx, source.NewFiles(), file)
	if err != nil {
		return err
	}
	communes, err := eng.Communes(ctx)
	if err != nil {
		return eris.Wrap(err, "climate: communes")
	}

	res, err := pipeline.Run(grid, communes, overrides)
	if err != nil {
		return err
	}
	zap.L().Info("climate pipeline complete",
		zap.String("file", file),
		zap.Int("points", grid.Points()),
		zap.Strings("indicators", res.Scores.Indicators()),
		zap.Int("communes", communes.Len()),
	)

	return writeClimateTable(os.Stdout, communes.IDs(), res, limit)
}

// climateFile picks the grid path: the configured file, else the first enabled meteo_france
// dataset of the manifest that exists.
func climateFile(m *manifest.Manifest, configured, dataDir string) string {
	if configured != "" {
		return configured
	}
	for _, ds := range m.Datasets {
		if !ds.IsEnabled() || ds.Format != string(source.FormatMeteoFrance) {
			continue
		}
		if path, ok := manifest.ResolveFile(dataDir, ds.File); ok {
			return path
		}
	}
	return ""
}

func writeClimateTable(w io.Writer, ids []string, res *climate.Result, limit int) error {
	rows := make([]string, 0, len(ids))
	for _, id := range ids {
		if res.Scores.Measured(id) {
			rows = append(rows, id)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return res.Composite.Get(rows[i]).Value > res.Composite.Get(rows[j]).Value
	})
	withData := len(rows)
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	indicators := res.Scores.Indicators()
	header := fmt.Sprintf("%-6s %7s", "INSEE", "Climat")
	for _, code := range indicators {
		header += fmt.Sprintf(" %16s", truncate(code, 16))
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return eris.Wrap(err, "climate: write header")
	}

	for _, id := range rows {
		line := fmt.Sprintf("%-6s %7.1f", id, score.Round1(res.Composite.Get(id).Value))
		for _, code := range indicators {
			if v := res.Scores.Score(code).Get(id); v.Valid {
				line += fmt.Sprintf(" %16.1f", v.Value)
			} else {
				line += fmt.Sprintf(" %16s", "-")
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return eris.Wrap(err, "climate: write row")
		}
	}
	fmt.Fprintf(w, "\n%d of %d communes have climate data\n", withData, len(ids))
	return nil
}
