// Package profile implements the Profile/FeatureCollector adapter (C9):
// spec.md §9's "Handler interface family" note reworked as a registry of
// (predicate on source tags) -> handler callback, built once at startup,
// dispatching in O(feature tag count) via matchexpr's inverted index
// rather than a chain of type-switched interface implementations.
package profile

import (
	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/profile/matchexpr"
	"github.com/tileforge-dev/tileforge/internal/profile/translations"
	"github.com/tileforge-dev/tileforge/internal/render"
)

// Handler renders one matched feature through collector. tr is nil-safe
// to call Localize on even with an empty cache, so handlers can always
// ask for a display name.
type Handler func(f *model.SourceFeature, c *render.Collector, tr *translations.Translations) error

// Registry implements render.Profile: a compiled matchexpr.Index plus the
// Handler each matched label invokes, run in the order rules were
// registered.
type Registry struct {
	Translations *translations.Translations

	// DisableAttrMerge opts this Registry out of spec.md §4.5's
	// identical-attribute FeatureGroup merge (enabled by default, per
	// render.AttrMergingProfile).
	DisableAttrMerge bool

	rules    []matchexpr.Rule
	handlers map[string]Handler
	index    *matchexpr.Index
}

// NewRegistry builds an empty Registry. Call Register for every schema
// rule, then Build once before first use.
func NewRegistry(tr *translations.Translations) *Registry {
	if tr == nil {
		tr = translations.New(nil, false, nil)
	}
	return &Registry{Translations: tr, handlers: map[string]Handler{}}
}

// Register adds one schema rule: label is matched against preds (an OR
// of tag predicates per matchexpr), and h runs for every SourceFeature
// that matches. Call Build after the last Register.
func (r *Registry) Register(label string, preds []matchexpr.TagPredicate, h Handler) {
	r.rules = append(r.rules, matchexpr.Rule{Label: label, Predicates: preds})
	r.handlers[label] = h
}

// Build compiles the registered rules into the dispatch index. Must run
// before ProcessFeature; safe to call again after further Register calls.
func (r *Registry) Build() {
	r.index = matchexpr.Build(r.rules)
}

// ProcessFeature implements render.Profile: every matched label's Handler
// runs in registration order, stopping at the first handler error.
func (r *Registry) ProcessFeature(f *model.SourceFeature, c *render.Collector) error {
	if r.index == nil {
		r.Build()
	}
	matched := map[string]bool{}
	for _, label := range r.index.Match(f.Tags) {
		matched[label] = true
	}
	for _, rule := range r.rules {
		if !matched[rule.Label] {
			continue
		}
		delete(matched, rule.Label)
		if err := r.handlers[rule.Label](f, c, r.Translations); err != nil {
			return err
		}
	}
	return nil
}

// Release implements render.Profile; the registry holds no per-run
// resources beyond the Translations cache, which outlives one run.
func (r *Registry) Release() {}

// MergeAttrs implements render.AttrMergingProfile.
func (r *Registry) MergeAttrs() bool { return !r.DisableAttrMerge }
