package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vivabilite/internal/manifest"
	"github.com/sells-group/vivabilite/internal/service"
)

var communeCmd = &cobra.Command{
	Use:   "commune <code_insee>",
	Short: "Show the scores of one commune",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommune,
}

func init() {
	communeCmd.Flags().String("weights", "", "weight overrides as id=weight pairs")
	rootCmd.AddCommand(communeCmd)
}

func runCommune(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	weightsFlag, _ := cmd.Flags().GetString("weights")
	overrides, err := parseWeights(weightsFlag)
	if err != nil {
		return eris.Wrap(err, "commune")
	}

	env, err := initScoring("score")
	if err != nil {
		return err
	}
	svc := env.Service

	weights := mergeWeights(svc.DefaultWeights(), overrides)
	c, err := svc.CommuneDetail(ctx, args[0], weights)
	if err != nil {
		return eris.Wrapf(err, "commune: %s", args[0])
	}
	if c == nil {
		return eris.Errorf("commune: no commune with INSEE code %s", args[0])
	}
	printCommune(os.Stdout, c, svc.ListAvailableFilters(), weights)
	return nil
}

func printCommune(w io.Writer, c *service.Commune, filters []manifest.Filter, weights map[string]float64) {
	fmt.Fprintf(w, "INSEE:       %s\n", c.Code)
	fmt.Fprintf(w, "Commune:     %s\n", c.Name)
	fmt.Fprintf(w, "Department:  %s (%s)\n", c.Department, c.DepartmentCode)
	if c.Region != "" {
		fmt.Fprintf(w, "Region:      %s\n", c.Region)
	}
	fmt.Fprintf(w, "Population:  %d\n", c.Population)
	fmt.Fprintf(w, "Position:    %.5f, %.5f\n", c.Coordinates.Lat, c.Coordinates.Lng)
	fmt.Fprintf(w, "Score:       %.1f / 100\n", c.ScoreGlobal)

	if len(filters) == 0 {
		return
	}
	fmt.Fprintln(w, "\nCategories:")
	for _, f := range filters {
		v, ok := c.Scores[f.ID]
		score := "-"
		if ok {
			score = fmt.Sprintf("%.1f", v)
		}
		fmt.Fprintf(w, "  %s %-28s %6s  (weight %g)\n", f.Icon, truncate(f.Name, 28), score, weights[f.ID])
	}
}
