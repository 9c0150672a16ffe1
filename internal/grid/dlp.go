package grid

import (
	"context"

	"go.uber.org/zap"

	"github.com/gridwise/sheetctx/internal/contextbuild"
	"github.com/gridwise/sheetctx/internal/rangeref"
)

// Policy is a data-loss-prevention ruleset enforced at read time. Matching
// is by sheet id or display name; denied ranges block any read that
// intersects them.
type Policy struct {
	ID           string   `json:"id" mapstructure:"id"`
	DeniedSheets []string `json:"deniedSheets" mapstructure:"denied_sheets"`
	DeniedRanges []string `json:"deniedRanges" mapstructure:"denied_ranges"`
}

// GatedReader wraps a range reader with policy enforcement. Denials are
// reported as structured read results, not Go errors, so the builder caches
// them like any other outcome.
type GatedReader struct {
	inner    contextbuild.RangeReader
	resolver contextbuild.SheetNameResolver
	policy   Policy
	denied   []contextbuild.SheetRange
}

// NewGatedReader compiles the policy against the resolver and wraps the
// reader. Unparseable denied-range entries are logged and skipped rather
// than silently widening access.
func NewGatedReader(inner contextbuild.RangeReader, resolver contextbuild.SheetNameResolver, policy Policy) *GatedReader {
	g := &GatedReader{inner: inner, resolver: resolver, policy: policy}
	for _, raw := range policy.DeniedRanges {
		ref, err := rangeref.ParseRef(raw)
		if err != nil {
			zap.L().Warn("grid: skipping malformed denied range",
				zap.String("policy", policy.ID),
				zap.String("range", raw),
				zap.Error(err),
			)
			continue
		}
		sheetID := ref.SheetName
		if resolver != nil {
			if id, ok := resolver.SheetID(ref.SheetName); ok {
				sheetID = id
			}
		}
		g.denied = append(g.denied, contextbuild.SheetRange{SheetID: sheetID, Rect: ref.Rect})
	}
	return g
}

func (g *GatedReader) ReadRange(ctx context.Context, req contextbuild.ReadRequest) (contextbuild.ReadResult, error) {
	if g.blocked(req.SheetID, req.Rect) {
		return contextbuild.ReadResult{
			Err: &contextbuild.BlockError{
				Code:    contextbuild.ErrCodePermissionDenied,
				Message: "range blocked by policy " + g.policy.ID,
			},
		}, nil
	}
	return g.inner.ReadRange(ctx, req)
}

func (g *GatedReader) blocked(sheetID string, rect rangeref.Rect) bool {
	for _, denied := range g.policy.DeniedSheets {
		if denied == sheetID {
			return true
		}
		if g.resolver != nil {
			if name, ok := g.resolver.DisplayName(sheetID); ok && name == denied {
				return true
			}
		}
	}
	for _, d := range g.denied {
		if d.SheetID != sheetID {
			continue
		}
		if _, overlaps := d.Rect.Intersect(rect); overlaps {
			return true
		}
	}
	return false
}

// Context returns the DLP context fragment that keys builder caches for
// this policy.
func (p Policy) Context() contextbuild.DLPContext {
	tags := make([]string, 0, len(p.DeniedSheets)+len(p.DeniedRanges))
	tags = append(tags, p.DeniedSheets...)
	tags = append(tags, p.DeniedRanges...)
	return contextbuild.DLPContext{PolicyID: p.ID, Tags: tags}
}
