package layer

import (
	"sync"

	"github.com/sells-group/vivabilite/internal/source"
)

// Option configures a layer registration.
type Option func(*settings)

type settings struct {
	description string
	format      source.Format
	srid        int
	communes    bool
	idField     string
	layerName   string
	unit        string
	keyColumn   string
	sheet       string
}

// WithDescription sets the human-readable description.
func WithDescription(d string) Option {
	return func(s *settings) { s.description = d }
}

// WithFormat forces the file format instead of inferring it from the extension.
func WithFormat(f source.Format) Option {
	return func(s *settings) { s.format = f }
}

// WithSRID overrides the spatial reference declared by the file.
func WithSRID(srid int) Option {
	return func(s *settings) { s.srid = srid }
}

// AsCommunes marks a vector layer as the commune layer, identified by idField.
func AsCommunes(idField string) Option {
	return func(s *settings) {
		s.communes = true
		s.idField = idField
	}
}

// WithLayerName selects the table inside a multi-layer container such as a GeoPackage.
func WithLayerName(name string) Option {
	return func(s *settings) { s.layerName = name }
}

// WithUnit sets the unit of raster values.
func WithUnit(u string) Option {
	return func(s *settings) { s.unit = u }
}

// WithKeyColumn sets the commune id column of an attribute table.
func WithKeyColumn(c string) Option {
	return func(s *settings) { s.keyColumn = c }
}

// WithSheet selects an XLSX sheet.
func WithSheet(name string) Option {
	return func(s *settings) { s.sheet = name }
}

// Registry maps layer names to their descriptors. Registration stores metadata only;
// datasets are read on first Load.
type Registry struct {
	mu     sync.RWMutex
	reader source.Reader

	vectors     map[string]*VectorLayer
	vectorOrder []string
	rasters     map[string]*RasterLayer
	rasterOrder []string
	tables      map[string]*AttributeTable
	tableOrder  []string

	communes string
}

// NewRegistry creates an empty registry reading through reader (the local filesystem when nil).
func NewRegistry(reader source.Reader) *Registry {
	if reader == nil {
		reader = source.NewFiles()
	}
	return &Registry{
		reader:  reader,
		vectors: make(map[string]*VectorLayer),
		rasters: make(map[string]*RasterLayer),
		tables:  make(map[string]*AttributeTable),
	}
}

func apply(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// appendName keeps first-registration order when a name is registered again.
func appendName(order []string, exists bool, name string) []string {
	if exists {
		return order
	}
	return append(order, name)
}

// RegisterVector registers a vector dataset, replacing any previous layer of that name.
// A layer registered with AsCommunes replaces the current commune layer.
func (r *Registry) RegisterVector(name, path string, opts ...Option) *VectorLayer {
	s := apply(opts)
	l := &VectorLayer{
		Name:        name,
		Path:        path,
		Description: s.description,
		Format:      s.format,
		SRID:        s.srid,
		IDField:     s.idField,
		LayerName:   s.layerName,
		reader:      r.reader,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.vectors[name]
	r.vectors[name] = l
	r.vectorOrder = appendName(r.vectorOrder, exists, name)

	switch {
	case s.communes:
		r.communes = name
	case r.communes == name:
		r.communes = ""
	}
	return l
}

// RegisterRaster registers a raster dataset, replacing any previous layer of that name.
func (r *Registry) RegisterRaster(name, path string, opts ...Option) *RasterLayer {
	s := apply(opts)
	l := &RasterLayer{
		Name:        name,
		Path:        path,
		Description: s.description,
		Unit:        s.unit,
		Format:      s.format,
		SRID:        s.srid,
		reader:      r.reader,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.rasters[name]
	r.rasters[name] = l
	r.rasterOrder = appendName(r.rasterOrder, exists, name)
	return l
}

// RegisterTable registers an attribute table, replacing any previous table of that name.
func (r *Registry) RegisterTable(name, path string, opts ...Option) *AttributeTable {
	s := apply(opts)
	l := &AttributeTable{
		Name:        name,
		Path:        path,
		Description: s.description,
		Format:      s.format,
		KeyColumn:   s.keyColumn,
		Sheet:       s.sheet,
		reader:      r.reader,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.tables[name]
	r.tables[name] = l
	r.tableOrder = appendName(r.tableOrder, exists, name)
	return l
}

// Vector returns the vector layer registered under name, or nil.
func (r *Registry) Vector(name string) *VectorLayer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vectors[name]
}

// Raster returns the raster layer registered under name, or nil.
func (r *Registry) Raster(name string) *RasterLayer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rasters[name]
}

// Table returns the attribute table registered under name, or nil.
func (r *Registry) Table(name string) *AttributeTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables[name]
}

// KindOf returns the kind of the layer registered under name. Vector layers shadow rasters,
// which shadow tables.
func (r *Registry) KindOf(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.vectors[name]; ok {
		return KindVector, true
	}
	if _, ok := r.rasters[name]; ok {
		return KindRaster, true
	}
	if _, ok := r.tables[name]; ok {
		return KindTable, true
	}
	return "", false
}

// Communes returns the commune layer, or nil when none is registered.
func (r *Registry) Communes() *VectorLayer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.communes == "" {
		return nil
	}
	return r.vectors[r.communes]
}

// IsCommunes reports whether name is the current commune layer.
func (r *Registry) IsCommunes(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return name != "" && r.communes == name
}

// Listing holds registered layer names per kind, in registration order.
type Listing struct {
	Vectors []string
	Rasters []string
	Tables  []string
}

// List returns the registered layer names.
func (r *Registry) List() Listing {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Listing{
		Vectors: append([]string(nil), r.vectorOrder...),
		Rasters: append([]string(nil), r.rasterOrder...),
		Tables:  append([]string(nil), r.tableOrder...),
	}
}

// ClearCache drops every loaded dataset. Registrations are kept.
func (r *Registry) ClearCache() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.vectors {
		l.data.clear()
	}
	for _, l := range r.rasters {
		l.data.clear()
	}
	for _, l := range r.tables {
		l.data.clear()
	}
}
