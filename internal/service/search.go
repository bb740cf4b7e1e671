package service

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/vivabilite/internal/failure"
)

// Sort keys accepted besides filter ids.
const (
	SortGlobal     = "score_global"
	SortName       = "nom"
	SortPopulation = "population"
	SortCode       = "code_insee"
)

// Bounds is a WGS84 viewport.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Contains reports whether c lies inside the viewport.
func (b Bounds) Contains(c Coordinates) bool {
	return c.Lat >= b.South && c.Lat <= b.North && c.Lng >= b.West && c.Lng <= b.East
}

// SearchRequest filters and ranks communes.
type SearchRequest struct {
	Weights       map[string]float64 `json:"weights"`
	MinScore      float64            `json:"min_score"`
	PopulationMin *int               `json:"population_min"`
	PopulationMax *int               `json:"population_max"`
	Departements  []string           `json:"departements"`
	Regions       []string           `json:"regions"`
	Query         string             `json:"search_query"`
	Bounds        *Bounds            `json:"bounds"`
	Limit         int                `json:"limit"`
	Offset        int                `json:"offset"`
}

// Validate checks the request ranges.
func (r SearchRequest) Validate() error {
	switch {
	case r.MinScore < 0 || r.MinScore > 100:
		return eris.Errorf("service: min_score %v outside [0, 100]", r.MinScore)
	case r.PopulationMin != nil && *r.PopulationMin < 0:
		return eris.New("service: population_min must be positive")
	case r.PopulationMax != nil && *r.PopulationMax < 0:
		return eris.New("service: population_max must be positive")
	case r.Limit < 0 || r.Offset < 0:
		return eris.New("service: limit and offset must be positive")
	case len(r.Query) > 100:
		return eris.New("service: search_query longer than 100 characters")
	}
	for id, w := range r.Weights {
		if w < 0 || w > 100 {
			return eris.Errorf("service: weight %s=%v outside [0, 100]", id, w)
		}
	}
	return nil
}

// SearchResult is a ranked page of communes.
type SearchResult struct {
	Communes        []Commune `json:"communes"`
	Total           int       `json:"total"`
	ExecutionTimeMS float64   `json:"execution_time_ms"`
}

// Search scores communes with the request weights (defaults when empty), keeps those
// matching every criterion and returns them by descending global score.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	start := time.Now()
	matched, err := s.match(ctx, req)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Communes:        page(matched, req.Offset, req.Limit),
		Total:           len(matched),
		ExecutionTimeMS: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// match returns every commune matching req, best global score first.
func (s *Service) match(ctx context.Context, req SearchRequest) ([]Commune, error) {
	if err := req.Validate(); err != nil {
		return nil, failure.New(failure.Configuration, err)
	}
	weights := req.Weights
	if len(weights) == 0 {
		weights = nil
	}
	all, err := s.ComputeAllScores(ctx, weights)
	if err != nil {
		return nil, err
	}

	query := fold(req.Query)
	matched := make([]Commune, 0, len(all))
	for _, c := range all {
		switch {
		case c.ScoreGlobal < req.MinScore:
		case req.PopulationMin != nil && c.Population < *req.PopulationMin:
		case req.PopulationMax != nil && c.Population > *req.PopulationMax:
		case len(req.Departements) > 0 && !slices.Contains(req.Departements, c.DepartmentCode):
		case len(req.Regions) > 0 && !slices.Contains(req.Regions, c.RegionCode):
		case query != "" && !strings.Contains(fold(c.Name), query):
		case req.Bounds != nil && !req.Bounds.Contains(c.Coordinates):
		default:
			matched = append(matched, c)
		}
	}

	if err := Sort(matched, SortGlobal, true); err != nil {
		return nil, err
	}
	return matched, nil
}

// ListOptions selects a page of communes.
type ListOptions struct {
	Weights map[string]float64
	Limit   int
	Offset  int
	SortBy  string
	Desc    bool
}

// Page is a page of communes.
type Page struct {
	Data    []Commune `json:"data"`
	Total   int       `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
	HasMore bool      `json:"has_more"`
}

// List returns a sorted page of every commune.
func (s *Service) List(ctx context.Context, opts ListOptions) (*Page, error) {
	all, err := s.ComputeAllScores(ctx, opts.Weights)
	if err != nil {
		return nil, err
	}
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = SortGlobal
	}
	if err := s.checkSortKey(sortBy); err != nil {
		return nil, err
	}
	if err := Sort(all, sortBy, opts.Desc); err != nil {
		return nil, err
	}
	data := page(all, opts.Offset, opts.Limit)
	return &Page{
		Data:    data,
		Total:   len(all),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(data) < len(all),
	}, nil
}

func (s *Service) checkSortKey(key string) error {
	switch key {
	case SortGlobal, SortName, SortPopulation, SortCode:
		return nil
	}
	if _, ok := s.Filter(key); ok {
		return nil
	}
	return failure.New(failure.Configuration, eris.Errorf("service: unknown sort key %q", key))
}

// Sort orders communes by key: a fixed field or a filter id. Communes without a score for
// the filter sort last in both directions. Ties break on the INSEE code.
func Sort(cs []Commune, key string, desc bool) error {
	var compare func(a, b *Commune) int
	switch key {
	case SortGlobal:
		compare = func(a, b *Commune) int { return cmpFloat(a.ScoreGlobal, b.ScoreGlobal) }
	case SortName:
		compare = func(a, b *Commune) int { return strings.Compare(fold(a.Name), fold(b.Name)) }
	case SortPopulation:
		compare = func(a, b *Commune) int { return a.Population - b.Population }
	case SortCode:
		compare = func(a, b *Commune) int { return strings.Compare(a.Code, b.Code) }
	case "":
		return eris.New("service: empty sort key")
	default:
		sort.SliceStable(cs, func(i, j int) bool {
			vi, iok := cs[i].Scores[key]
			vj, jok := cs[j].Scores[key]
			switch {
			case iok != jok:
				return iok
			case !iok:
				return cs[i].Code < cs[j].Code
			case vi == vj:
				return cs[i].Code < cs[j].Code
			case desc:
				return vi > vj
			default:
				return vi < vj
			}
		})
		return nil
	}

	sort.SliceStable(cs, func(i, j int) bool {
		c := compare(&cs[i], &cs[j])
		if c == 0 {
			return cs[i].Code < cs[j].Code
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
	return nil
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func page(cs []Commune, offset, limit int) []Commune {
	if offset >= len(cs) {
		return []Commune{}
	}
	end := len(cs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return cs[offset:end]
}

// fold lowercases s and strips diacritics so "Évreux" matches "evreux".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
