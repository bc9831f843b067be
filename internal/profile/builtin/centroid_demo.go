// Package builtin ships one example profile, centroid_demo, which the
// CLI's build command runs. It is deliberately small: every feature whose
// tags match one of its three schema rules (airport, place, building) is
// emitted as a labeled centroid point in the "poi" layer across zoom 10-14.
package builtin

import (
	"errors"

	"github.com/cespare/xxhash/v2"

	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/profile"
	"github.com/tileforge-dev/tileforge/internal/profile/matchexpr"
	"github.com/tileforge-dev/tileforge/internal/profile/translations"
	"github.com/tileforge-dev/tileforge/internal/render"
	"github.com/tileforge-dev/tileforge/internal/tferrors"
)

// errMissingIATA is why emitPOI rejects an "airport"-class feature that
// carries no iata tag: a labeled airport point with no code is not useful
// output, and is not the same failure as an unresolvable geometry.
var errMissingIATA = errors.New("airport feature has no iata tag")

// MinZoom and MaxZoom bound every feature centroid_demo emits.
const (
	MinZoom uint8 = 10
	MaxZoom uint8 = 14
)

// groupKeyLimit caps how many same-class points survive per tile, so a
// dense cluster of e.g. buildings doesn't flood one tile's labels.
const groupKeyLimit uint32 = 8

// NewCentroidDemo builds a ready-to-use Registry classifying airports,
// named places, and generic buildings into the "poi" layer, localizing
// each feature's name via tr (pass nil for the untranslated default).
func NewCentroidDemo(tr *translations.Translations) *profile.Registry {
	r := profile.NewRegistry(tr)

	r.Register("airport",
		[]matchexpr.TagPredicate{{Key: "amenity", Value: "airport"}, {Key: "aeroway", Value: "aerodrome"}},
		emitPOI("airport"),
	)
	r.Register("place",
		[]matchexpr.TagPredicate{{Key: "place"}},
		emitPOI("place"),
	)
	r.Register("building",
		[]matchexpr.TagPredicate{{Key: "building"}},
		emitPOI("building"),
	)

	r.Build()
	return r
}

func emitPOI(class string) profile.Handler {
	return func(f *model.SourceFeature, c *render.Collector, tr *translations.Translations) error {
		iata, hasIATA := f.Tags["iata"]
		if class == "airport" && !hasIATA {
			return tferrors.NewForFeature(tferrors.ProfileRejected, f.ID, errMissingIATA)
		}

		b := c.Centroid("poi").
			ZoomRange(MinZoom, MaxZoom).
			Attr("class", model.StringScalar(class)).
			Group(classGroupKey(class), groupKeyLimit)

		if name := tr.Localize(f); name != "" {
			b = b.Attr("name", model.StringScalar(name))
		}
		if hasIATA {
			b = b.Attr("iata", iata)
		}
		return b.Emit()
	}
}

// classGroupKey buckets the group-limit counter per POI class so an
// airport flood doesn't starve a building's label quota in the same tile.
func classGroupKey(class string) uint64 {
	return xxhash.Sum64String(class)
}
