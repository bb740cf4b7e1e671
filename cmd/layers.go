package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sells-group/vivabilite/internal/layer"
	"github.com/sells-group/vivabilite/internal/manifest"
	"github.com/sells-group/vivabilite/internal/score"
)

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "List registered layers and score definitions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initScoring("score")
		if err != nil {
			return err
		}
		printLayers(os.Stdout, env.Manifest, env.Service.Layers(), env.Service.Definitions(), cfg.Data.Dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(layersCmd)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	nameStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func printLayers(w io.Writer, m *manifest.Manifest, layers *layer.Registry, defs *score.Definitions, dataDir string) {
	list := layers.List()

	fmt.Fprintln(w, titleStyle.Render("Datasets"))
	for _, st := range manifest.Availability(m, dataDir) {
		mark := okStyle.Render("✓")
		switch {
		case !st.Enabled:
			mark = dimStyle.Render("○")
		case !st.FileExists:
			mark = badStyle.Render("✗")
		}
		fmt.Fprintf(w, "  %s %s %s\n", mark, nameStyle.Render(st.ID), dimStyle.Render(fmt.Sprintf("%s, %d filters", st.Name, st.FilterCount)))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Layers"))
	for _, name := range list.Vectors {
		l := layers.Vector(name)
		kind := "vector"
		if layers.IsCommunes(name) {
			kind = "communes"
		}
		printLayer(w, name, kind, l.Path, l.Description, l.Loaded())
	}
	for _, name := range list.Rasters {
		l := layers.Raster(name)
		printLayer(w, name, "raster", l.Path, l.Description, l.Loaded())
	}
	for _, name := range list.Tables {
		l := layers.Table(name)
		printLayer(w, name, "table", l.Path, l.Description, l.Loaded())
	}
	if len(list.Vectors)+len(list.Rasters)+len(list.Tables) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  none"))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Score definitions"))
	all := defs.All()
	for _, d := range all {
		fmt.Fprintf(w, "  %-28s %-13s %s\n",
			nameStyle.Render(d.Category), string(d.Method()), dimStyle.Render("← "+d.Layer))
	}
	if len(all) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  none"))
	}
}

func printLayer(w io.Writer, name, kind, path, desc string, loaded bool) {
	state := ""
	if loaded {
		state = okStyle.Render(" (loaded)")
	}
	line := fmt.Sprintf("  %-10s %s%s", kind, nameStyle.Render(name), state)
	if desc != "" && !strings.EqualFold(desc, name) {
		line += " " + dimStyle.Render(desc)
	}
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, dimStyle.Render("             "+filepath.Base(path)))
}
