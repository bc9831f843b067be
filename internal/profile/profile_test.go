package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/profile/matchexpr"
	"github.com/tileforge-dev/tileforge/internal/profile/translations"
	"github.com/tileforge-dev/tileforge/internal/render"
)

func TestProcessFeatureDispatchesMatchedHandler(t *testing.T) {
	r := NewRegistry(nil)
	var got string
	r.Register("airport", []matchexpr.TagPredicate{{Key: "amenity", Value: "airport"}},
		func(f *model.SourceFeature, c *render.Collector, tr *translations.Translations) error {
			got = tr.Localize(f)
			return nil
		})
	r.Build()

	f := &model.SourceFeature{Tags: map[string]model.Scalar{
		"amenity": model.StringScalar("airport"),
		"name":    model.StringScalar("Charles de Gaulle"),
	}}
	renderer := &render.Renderer{}
	require.NoError(t, r.ProcessFeature(f, renderer.NewCollector(f)))
	assert.Equal(t, "Charles de Gaulle", got)
}

func TestProcessFeatureSkipsUnmatchedFeatures(t *testing.T) {
	r := NewRegistry(nil)
	called := false
	r.Register("airport", []matchexpr.TagPredicate{{Key: "amenity", Value: "airport"}},
		func(f *model.SourceFeature, c *render.Collector, tr *translations.Translations) error {
			called = true
			return nil
		})
	r.Build()

	f := &model.SourceFeature{Tags: map[string]model.Scalar{"shop": model.StringScalar("bakery")}}
	renderer := &render.Renderer{}
	require.NoError(t, r.ProcessFeature(f, renderer.NewCollector(f)))
	assert.False(t, called)
}

func TestMergeAttrsDefaultsToEnabled(t *testing.T) {
	r := NewRegistry(nil)
	assert.True(t, r.MergeAttrs())
}

func TestMergeAttrsHonorsDisableAttrMerge(t *testing.T) {
	r := NewRegistry(nil)
	r.DisableAttrMerge = true
	assert.False(t, r.MergeAttrs())

	var _ render.AttrMergingProfile = r
}

func TestBuildIsLazyOnFirstProcessFeature(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("any_building", []matchexpr.TagPredicate{{Key: "building"}},
		func(f *model.SourceFeature, c *render.Collector, tr *translations.Translations) error { return nil })

	f := &model.SourceFeature{Tags: map[string]model.Scalar{"building": model.StringScalar("yes")}}
	renderer := &render.Renderer{}
	assert.NoError(t, r.ProcessFeature(f, renderer.NewCollector(f)))
}
