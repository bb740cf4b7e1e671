package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/service"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score every commune",
	Long: `Score every commune from the datasets declared in the manifest.

Each filter of an available dataset becomes one 0-100 category score. The
global score is the weighted mean of the category scores present for a
commune; missing categories are left out rather than counted as zero.

Examples:
  # Rank all communes with the manifest default weights
  score

  # Favour income, ignore extreme heat
  score --weights revenu_median=100,climat_chaleur_extreme=0

  # Export the top 100 to CSV
  score --limit 100 --format csv --output scores.csv`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("weights", "", "weight overrides as id=weight pairs (e.g. revenu_median=80,pm25=20)")
	f.Int("limit", 0, "maximum number of communes (0=all)")
	f.String("output", "", "output file path (default: stdout)")
	f.String("format", "table", "output format: table or csv")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "score"))

	weightsFlag, _ := cmd.Flags().GetString("weights")
	limit, _ := cmd.Flags().GetInt("limit")
	outputPath, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")

	if format != "table" && format != "csv" {
		return eris.Errorf("score: --format must be table or csv (got %q)", format)
	}
	overrides, err := parseWeights(weightsFlag)
	if err != nil {
		return eris.Wrap(err, "score")
	}

	env, err := initScoring("score")
	if err != nil {
		return err
	}
	svc := env.Service

	weights := svc.DefaultWeights()
	if overrides != nil {
		weights = mergeWeights(weights, overrides)
	}
	log.Info("starting scoring",
		zap.Int("filters", len(svc.ListAvailableFilters())),
		zap.Any("weights", weights),
	)

	communes, err := svc.ComputeAllScores(ctx, weights)
	if err != nil {
		return eris.Wrap(err, "score: compute")
	}
	if err := service.Sort(communes, service.SortGlobal, true); err != nil {
		return err
	}
	if limit > 0 && limit < len(communes) {
		communes = communes[:limit]
	}

	res, err := svc.Result(ctx)
	if err != nil {
		return eris.Wrap(err, "score: result")
	}
	if res != nil {
		for cat, reason := range res.Skipped {
			log.Warn("category skipped", zap.String("category", cat), zap.String("reason", reason))
		}
		log.Info("scoring complete",
			zap.String("run_id", res.RunID.String()),
			zap.Int("communes", len(res.IDs)),
			zap.Int("categories", len(res.Categories)),
			zap.Duration("elapsed", res.Elapsed),
		)
	}

	if err := outputScoreResults(communes, sortedKeys(weights), format, outputPath); err != nil {
		return err
	}
	printScoreSummary(os.Stdout, communes)
	return nil
}

func outputScoreResults(communes []service.Commune, categories []string, format, outputPath string) error {
	var w io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "score: create output file %s", outputPath)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}

	switch format {
	case "csv":
		return writeScoreCSV(w, communes, categories)
	case "table":
		return writeScoreTable(w, communes, categories)
	default:
		return eris.Errorf("score: unsupported format %q", format)
	}
}

func writeScoreCSV(w io.Writer, communes []service.Commune, categories []string) error {
	cw := csv.NewWriter(w)

	header := append([]string{"code_insee", "nom", "departement_code", "population", "score_global"}, categories...)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "score: write CSV header")
	}

	for _, c := range communes {
		row := []string{
			c.Code,
			c.Name,
			c.DepartmentCode,
			strconv.Itoa(c.Population),
			formatScore(c.ScoreGlobal),
		}
		for _, cat := range categories {
			if v, ok := c.Scores[cat]; ok {
				row = append(row, formatScore(v))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "score: write CSV row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "score: flush CSV")
}

func writeScoreTable(w io.Writer, communes []service.Commune, categories []string) error {
	header := fmt.Sprintf("%-6s %-32s %-4s %10s %7s", "INSEE", "Commune", "Dep", "Population", "Score")
	for _, cat := range categories {
		header += fmt.Sprintf(" %12s", truncate(cat, 12))
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return eris.Wrap(err, "score: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", len(header))); err != nil {
		return eris.Wrap(err, "score: write table separator")
	}

	for _, c := range communes {
		line := fmt.Sprintf("%-6s %-32s %-4s %10d %7.1f",
			c.Code, truncate(c.Name, 32), c.DepartmentCode, c.Population, c.ScoreGlobal)
		for _, cat := range categories {
			if v, ok := c.Scores[cat]; ok {
				line += fmt.Sprintf(" %12.1f", v)
			} else {
				line += fmt.Sprintf(" %12s", "-")
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return eris.Wrap(err, "score: write table row")
		}
	}
	return nil
}

func printScoreSummary(w io.Writer, communes []service.Commune) {
	if len(communes) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}
	scores := make([]float64, len(communes))
	var sum float64
	for i, c := range communes {
		scores[i] = c.ScoreGlobal
		sum += c.ScoreGlobal
	}
	sort.Float64s(scores)

	fmt.Fprintf(w, "\n--- Summary ---\n")
	fmt.Fprintf(w, "Communes:      %d\n", len(communes))
	fmt.Fprintf(w, "Score range:   %.1f - %.1f\n", scores[0], scores[len(scores)-1])
	fmt.Fprintf(w, "Average score: %.1f\n", sum/float64(len(communes)))
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
