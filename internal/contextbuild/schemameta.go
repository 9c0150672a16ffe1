package contextbuild

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SchemaMetadata is the normalized snapshot of workbook-level named ranges
// and tables, grouped per sheet and pre-sorted for deterministic emission.
type SchemaMetadata struct {
	ProviderVersion    int64
	SheetNameKey       string
	NamedRanges        []NamedRange            // flat, sorted by (sheetId, name, range)
	Tables             []Table                 // flat, sorted by (sheetId, name, range)
	NamedRangesBySheet map[string][]NamedRange
	TablesBySheet      map[string][]Table
}

// sheetNameKey hashes the sorted id->display-name mapping so that sheet
// renames invalidate cached sheet-qualified ranges even when the provider's
// own version counter does not change.
func sheetNameKey(store DocumentStore, resolver SheetNameResolver) string {
	ids := append([]string(nil), store.SheetIDs()...)
	sort.Strings(ids)
	var sb strings.Builder
	for _, id := range ids {
		name := id
		if resolver != nil {
			if dn, ok := resolver.DisplayName(id); ok {
				name = dn
			}
		}
		sb.WriteString(id)
		sb.WriteByte('=')
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	h := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("%x", h[:8])
}

// buildSchemaMetadata fetches and normalizes provider metadata. Provider
// faults degrade to empty lists, never fail the build.
func buildSchemaMetadata(provider SchemaProvider, resolver SheetNameResolver, version int64, nameKey string) *SchemaMetadata {
	meta := &SchemaMetadata{
		ProviderVersion:    version,
		SheetNameKey:       nameKey,
		NamedRangesBySheet: make(map[string][]NamedRange),
		TablesBySheet:      make(map[string][]Table),
	}
	if provider == nil {
		return meta
	}

	defs, err := provider.NamedRanges()
	if err != nil {
		zap.L().Warn("contextbuild: named ranges unavailable", zap.Error(err))
		defs = nil
	}
	for _, d := range defs {
		if !d.Rect.Valid() {
			continue
		}
		nr := NamedRange{
			Name:    d.Name,
			SheetID: d.SheetID,
			Range:   refString(resolver, d.SheetID, d.Rect),
		}
		meta.NamedRanges = append(meta.NamedRanges, nr)
		meta.NamedRangesBySheet[d.SheetID] = append(meta.NamedRangesBySheet[d.SheetID], nr)
	}

	tdefs, err := provider.Tables()
	if err != nil {
		zap.L().Warn("contextbuild: tables unavailable", zap.Error(err))
		tdefs = nil
	}
	for _, d := range tdefs {
		if !d.Rect.Valid() {
			continue
		}
		tb := Table{
			Name:    d.Name,
			SheetID: d.SheetID,
			Range:   refString(resolver, d.SheetID, d.Rect),
			Headers: append([]string(nil), d.Headers...),
		}
		meta.Tables = append(meta.Tables, tb)
		meta.TablesBySheet[d.SheetID] = append(meta.TablesBySheet[d.SheetID], tb)
	}

	sort.Slice(meta.NamedRanges, func(i, j int) bool {
		a, b := meta.NamedRanges[i], meta.NamedRanges[j]
		if a.SheetID != b.SheetID {
			return a.SheetID < b.SheetID
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Range < b.Range
	})
	sort.Slice(meta.Tables, func(i, j int) bool {
		a, b := meta.Tables[i], meta.Tables[j]
		if a.SheetID != b.SheetID {
			return a.SheetID < b.SheetID
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Range < b.Range
	})
	for id := range meta.NamedRangesBySheet {
		s := meta.NamedRangesBySheet[id]
		sort.Slice(s, func(i, j int) bool {
			if s[i].Name != s[j].Name {
				return s[i].Name < s[j].Name
			}
			return s[i].Range < s[j].Range
		})
	}
	for id := range meta.TablesBySheet {
		s := meta.TablesBySheet[id]
		sort.Slice(s, func(i, j int) bool {
			if s[i].Name != s[j].Name {
				return s[i].Name < s[j].Name
			}
			return s[i].Range < s[j].Range
		})
	}

	return meta
}

// extrasKey fingerprints the metadata content itself. It participates in
// sheet-summary cache keys only when the provider cannot report a version.
func (m *SchemaMetadata) extrasKey() string {
	var sb strings.Builder
	for _, nr := range m.NamedRanges {
		sb.WriteString(nr.SheetID + "|" + nr.Name + "|" + nr.Range + "\n")
	}
	for _, tb := range m.Tables {
		sb.WriteString(tb.SheetID + "|" + tb.Name + "|" + tb.Range + "\n")
	}
	h := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("%x", h[:8])
}

// SchemaRegistry is a process-wide cache of schema metadata snapshots keyed
// by provider identity. Entries are idempotent snapshots, so overwrites need
// no cross-instance coordination beyond the map lock. Snapshots are only
// registered for providers that report their own version counter; without
// one there is no invalidation signal and sharing would go stale silently.
type SchemaRegistry struct {
	mu      sync.Mutex
	entries map[string]*SchemaMetadata
}

// NewSchemaRegistry creates an empty shared registry. Construct one at
// application wiring time and inject it into each builder.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{entries: make(map[string]*SchemaMetadata)}
}

func (r *SchemaRegistry) get(providerID string, version int64, nameKey string) *SchemaMetadata {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[providerID]
	if !ok || m.ProviderVersion != version || m.SheetNameKey != nameKey {
		return nil
	}
	return m
}

func (r *SchemaRegistry) put(providerID string, meta *SchemaMetadata) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.entries[providerID] = meta
	r.mu.Unlock()
}

// schemaMetaCache is the per-builder metadata cache (a single keyed entry).
type schemaMetaCache struct {
	meta *SchemaMetadata
}

func (c *schemaMetaCache) get(version int64, nameKey string) *SchemaMetadata {
	if c.meta == nil || c.meta.ProviderVersion != version || c.meta.SheetNameKey != nameKey {
		return nil
	}
	return c.meta
}
