package grid

import (
	"sync"

	"github.com/rotisserie/eris"

	"github.com/gridwise/sheetctx/internal/contextbuild"
	"github.com/gridwise/sheetctx/internal/rangeref"
)

// NamedRangeDef is a configured named range in display-name terms.
type NamedRangeDef struct {
	Name string `json:"name" mapstructure:"name"`
	Ref  string `json:"ref" mapstructure:"ref"`
}

// TableDefSpec is a configured table in display-name terms.
type TableDefSpec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Ref     string   `json:"ref" mapstructure:"ref"`
	Headers []string `json:"headers,omitempty" mapstructure:"headers"`
}

// StaticProvider is a versioned schema provider backed by explicit
// definitions, typically loaded from configuration. Each update bumps the
// version so dependent caches invalidate.
type StaticProvider struct {
	mu      sync.Mutex
	id      string
	version int64
	ranges  []contextbuild.RangeDef
	tables  []contextbuild.TableDef
}

// NewStaticProvider creates an empty provider at version 1.
func NewStaticProvider(id string) *StaticProvider {
	return &StaticProvider{id: id, version: 1}
}

// Load replaces all definitions, resolving display names to stable sheet
// ids via the resolver, and bumps the schema version. A definition whose
// sheet does not resolve fails the whole load.
func (p *StaticProvider) Load(resolver contextbuild.SheetNameResolver, ranges []NamedRangeDef, tables []TableDefSpec) error {
	compiledRanges := make([]contextbuild.RangeDef, 0, len(ranges))
	for _, def := range ranges {
		sheetID, rect, err := resolveRef(resolver, def.Ref)
		if err != nil {
			return eris.Wrapf(err, "grid: named range %q", def.Name)
		}
		compiledRanges = append(compiledRanges, contextbuild.RangeDef{Name: def.Name, SheetID: sheetID, Rect: rect})
	}
	compiledTables := make([]contextbuild.TableDef, 0, len(tables))
	for _, def := range tables {
		sheetID, rect, err := resolveRef(resolver, def.Ref)
		if err != nil {
			return eris.Wrapf(err, "grid: table %q", def.Name)
		}
		compiledTables = append(compiledTables, contextbuild.TableDef{
			Name:    def.Name,
			SheetID: sheetID,
			Rect:    rect,
			Headers: append([]string(nil), def.Headers...),
		})
	}

	p.mu.Lock()
	p.ranges = compiledRanges
	p.tables = compiledTables
	p.version++
	p.mu.Unlock()
	return nil
}

func (p *StaticProvider) ProviderID() string { return p.id }

func (p *StaticProvider) SchemaVersion() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version, true
}

func (p *StaticProvider) NamedRanges() ([]contextbuild.RangeDef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]contextbuild.RangeDef(nil), p.ranges...), nil
}

func (p *StaticProvider) Tables() ([]contextbuild.TableDef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]contextbuild.TableDef(nil), p.tables...), nil
}

func resolveRef(resolver contextbuild.SheetNameResolver, raw string) (string, rangeref.Rect, error) {
	ref, err := rangeref.ParseRef(raw)
	if err != nil {
		return "", rangeref.Rect{}, err
	}
	if ref.SheetName == "" {
		return "", rangeref.Rect{}, eris.Errorf("reference %q has no sheet qualifier", raw)
	}
	sheetID := ref.SheetName
	if resolver != nil {
		if id, ok := resolver.SheetID(ref.SheetName); ok {
			sheetID = id
		}
	}
	return sheetID, ref.Rect, nil
}
