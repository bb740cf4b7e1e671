package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vivabilite/internal/config"
	"github.com/sells-group/vivabilite/internal/manifest"
	"github.com/sells-group/vivabilite/internal/service"
)

const testManifest = `{
  "communes": {"file": "communes.geojson"},
  "datasets": [
    {
      "id": "climat", "name": "DRIAS", "file": "drias.txt", "type": "point_grid", "format": "meteo_france",
      "filters": [{"id": "chaleur", "name": "Chaleur", "description": "Jours >= 35°C", "column": "NORTX35D_yr", "invert": true, "weight_default": 100}]
    },
    {
      "id": "revenus", "name": "Revenus", "file": "revenus.csv", "type": "csv",
      "filters": [{"id": "revenu_median", "name": "Revenu", "description": "Revenu médian", "column": "med", "min_value": 10000, "max_value": 40000}]
    }
  ]
}`

func polygon(lon0, lat0 float64) string {
	lon1, lat1 := lon0+0.02, lat0+0.02
	return fmt.Sprintf(`{"type":"Polygon","coordinates":[[[%[1]v,%[2]v],[%[3]v,%[2]v],[%[3]v,%[4]v],[%[1]v,%[4]v],[%[1]v,%[2]v]]]}`,
		lon0, lat0, lon1, lat1)
}

// useTestData writes a small data directory and points the global config at it.
func useTestData(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	features := []string{
		fmt.Sprintf(`{"type":"Feature","properties":{"code_insee":"03001","nom":"Évreux-les-Bains","population":12000},"geometry":%s}`, polygon(2.99, 46.49)),
		fmt.Sprintf(`{"type":"Feature","properties":{"code_insee":"03002","nom":"Moulins","population":25000},"geometry":%s}`, polygon(3.05, 46.49)),
		fmt.Sprintf(`{"type":"Feature","properties":{"code_insee":"03003","nom":"Vichy","population":800},"geometry":%s}`, polygon(3.20, 46.49)),
	}
	files := map[string]string{
		"manifest.json":    testManifest,
		"communes.geojson": `{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`,
		"drias.txt":        "# DRIAS\nPoint;Latitude;Longitude;NORTX35D_yr\n1;46.5;3.0;0\n2;46.5;3.06;30\n",
		"revenus.csv":      "code_insee;med\n03001;10000\n03002;40000\n03003;25000\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	prev := cfg
	cfg = &config.Config{
		Data:    config.DataConfig{Dir: dir, Manifest: "manifest.json"},
		Score:   config.ScoreConfig{Concurrency: 2, SegmentMaxLengthM: 1000},
		Climate: config.ClimateConfig{Aggregation: "mean"},
		Server:  config.ServerConfig{Port: 8000, DefaultPageSize: 50, MaxPageSize: 500},
		Log:     config.LogConfig{Level: "info", Format: "json"},
	}
	t.Cleanup(func() { cfg = prev })
	return dir
}

// captureStdout runs fn with os.Stdout redirected and returns what it printed.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = orig })

	done := make(chan string)
	go func() {
		data, _ := io.ReadAll(r)
		done <- string(data)
	}()
	fn()
	os.Stdout = orig
	require.NoError(t, w.Close())
	return <-done
}

func setFlags(t *testing.T, flags map[string]string) {
	t.Helper()
	for name, v := range flags {
		f := scoreCmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		require.NoError(t, scoreCmd.Flags().Set(name, v))
		def := f.DefValue
		t.Cleanup(func() { _ = scoreCmd.Flags().Set(name, def) })
	}
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"score", "commune", "layers", "climate", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "vivabilite", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestScoreCommand_Flags(t *testing.T) {
	for _, name := range []string{"weights", "limit", "output", "format"} {
		assert.NotNil(t, scoreCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "table", scoreCmd.Flags().Lookup("format").DefValue)
}

func TestParseWeights(t *testing.T) {
	tests := []struct {
		in      string
		want    map[string]float64
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "a=50", want: map[string]float64{"a": 50}},
		{in: " a = 50 , b=0.5,", want: map[string]float64{"a": 50, "b": 0.5}},
		{in: "a", wantErr: true},
		{in: "=5", wantErr: true},
		{in: "a=x", wantErr: true},
		{in: "a=101", wantErr: true},
		{in: "a=-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWeights(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMergeWeights(t *testing.T) {
	got := mergeWeights(map[string]float64{"a": 50, "b": 50}, map[string]float64{"b": 0, "c": 10})
	assert.Equal(t, map[string]float64{"a": 50, "b": 0, "c": 10}, got)
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(got))
}

func TestRunScore_CSV(t *testing.T) {
	useTestData(t)
	out := filepath.Join(t.TempDir(), "scores.csv")
	setFlags(t, map[string]string{"format": "csv", "output": out})

	scoreCmd.SetContext(context.Background())
	captureStdout(t, func() {
		require.NoError(t, runScore(scoreCmd, nil))
	})

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "code_insee,nom,departement_code,population,score_global,chaleur,revenu_median", lines[0])
	assert.Equal(t, "03001,Évreux-les-Bains,03,12000,66.7,100.0,0.0", lines[1])
	assert.Equal(t, "03003,Vichy,03,800,50.0,,50.0", lines[2])
	assert.Equal(t, "03002,Moulins,03,25000,33.3,0.0,100.0", lines[3])
}

func TestRunScore_WeightsAndLimit(t *testing.T) {
	useTestData(t)
	out := filepath.Join(t.TempDir(), "scores.txt")
	setFlags(t, map[string]string{"weights": "chaleur=0", "limit": "2", "output": out})

	scoreCmd.SetContext(context.Background())
	summary := captureStdout(t, func() {
		require.NoError(t, runScore(scoreCmd, nil))
	})
	assert.Contains(t, summary, "Communes:      2")
	assert.Contains(t, summary, "Score range:   50.0 - 100.0")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[2], "03002"), lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "03003"), lines[3])
}

func TestRunScore_BadFlags(t *testing.T) {
	useTestData(t)
	scoreCmd.SetContext(context.Background())

	setFlags(t, map[string]string{"format": "xml"})
	assert.Error(t, runScore(scoreCmd, nil))

	setFlags(t, map[string]string{"format": "table", "weights": "chaleur"})
	assert.Error(t, runScore(scoreCmd, nil))
}

func TestWriteScoreTable(t *testing.T) {
	communes := []service.Commune{
		{Code: "75056", Name: "Paris", DepartmentCode: "75", Population: 2100000, ScoreGlobal: 61.2,
			Scores: map[string]float64{"air": 20}},
		{Code: "2A004", Name: "Ajaccio et ses environs très lointains du centre", DepartmentCode: "2A", ScoreGlobal: 80,
			Scores: map[string]float64{}},
	}
	var buf bytes.Buffer
	require.NoError(t, writeScoreTable(&buf, communes, []string{"air"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "INSEE")
	assert.Contains(t, lines[2], "Paris")
	assert.Contains(t, lines[2], "20.0")
	assert.Contains(t, lines[3], "...")
	assert.True(t, strings.HasSuffix(lines[3], "-"))
}

func TestPrintScoreSummary_Empty(t *testing.T) {
	var buf bytes.Buffer
	printScoreSummary(&buf, nil)
	assert.Equal(t, "No results.\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Évreux", truncate("Évreux", 6))
	assert.Equal(t, "Évr...", truncate("Évreux-les-Bains", 6))
	assert.Equal(t, "Év", truncate("Évreux", 2))
}

func TestPrintCommune(t *testing.T) {
	c := &service.Commune{
		Code: "03001", Name: "Évreux-les-Bains", Department: "Allier", DepartmentCode: "03",
		Population: 12000, ScoreGlobal: 66.7, Scores: map[string]float64{"chaleur": 100},
	}
	filters := []manifest.Filter{
		{ID: "chaleur", Name: "Chaleur", Icon: "🌡"},
		{ID: "revenu_median", Name: "Revenu", Icon: manifest.DefaultIcon},
	}
	var buf bytes.Buffer
	printCommune(&buf, c, filters, map[string]float64{"chaleur": 100, "revenu_median": 50})

	out := buf.String()
	assert.Contains(t, out, "Allier (03)")
	assert.Contains(t, out, "66.7 / 100")
	assert.Contains(t, out, "100.0  (weight 100)")
	assert.Contains(t, out, "-  (weight 50)")
}

func TestLayersOutput(t *testing.T) {
	useTestData(t)
	env, err := initScoring("score")
	require.NoError(t, err)

	var buf bytes.Buffer
	printLayers(&buf, env.Manifest, env.Service.Layers(), env.Service.Definitions(), cfg.Data.Dir)
	out := buf.String()
	for _, want := range []string{"Datasets", "climat", "revenus", "communes", "communes.geojson", "chaleur", "aggregate", "normalized"} {
		assert.Contains(t, out, want)
	}
}

func TestRunClimate(t *testing.T) {
	dir := useTestData(t)
	climateCmd.SetContext(context.Background())

	out := captureStdout(t, func() {
		require.NoError(t, runClimate(climateCmd, nil))
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Contains(t, lines[0], "NORTX35D_yr")
	assert.True(t, strings.HasPrefix(lines[1], "03001"), lines[1])
	assert.Contains(t, out, "2 of 3 communes have climate data")

	m, err := manifest.Load(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "drias.txt"), climateFile(m, "", dir))
	assert.Equal(t, "/x.txt", climateFile(m, "/x.txt", dir))
	assert.Empty(t, climateFile(&manifest.Manifest{}, "", dir))
}

func TestInitScoring_InvalidConfig(t *testing.T) {
	useTestData(t)
	cfg.Score.Concurrency = 0
	_, err := initScoring("score")
	assert.Error(t, err)
}
