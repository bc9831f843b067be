// Package config parses spec.md §6's `profile-name key=value...` CLI
// grammar into a validated Config, grounded on main.go's Kong `cli` struct
// in the teacher.
package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/tileforge-dev/tileforge/internal/tferrors"
)

// Config is the fully validated, resolved set of pipeline parameters.
type Config struct {
	Profile string

	Input          string
	Centerline     string
	NaturalEarth   string
	WaterPolygons  string
	Output         string
	Tmpdir         string
	Bounds         Bounds
	Threads        int
	MinZoom        uint8
	MaxZoom        uint8
	NameLanguages  []string
	FetchWikidata  bool
	UseWikidata    bool
	WikidataCache  string
	DeferIndex     bool
	OptimizeDB     bool
	LogInterval    time.Duration
}

// Bounds is a WGS84 bounding box, or IsWorld for the literal "world".
type Bounds struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsWorld                        bool
	Inferred                       bool
}

var WorldBounds = Bounds{MinLon: -180, MinLat: -85.05112878, MaxLon: 180, MaxLat: 85.05112878, IsWorld: true}

// defaults mirrors spec.md §6's table.
func defaults() Config {
	return Config{
		Tmpdir:        "./data/tmp",
		Threads:       runtime.NumCPU(),
		MinZoom:       0,
		MaxZoom:       14,
		NameLanguages: []string{"en"},
		FetchWikidata: false,
		UseWikidata:   true,
		WikidataCache: "data/sources/wikidata_names.json",
		DeferIndex:    false,
		OptimizeDB:    false,
		LogInterval:   10 * time.Second,
		Bounds:        Bounds{Inferred: true},
	}
}

// Parse turns the CLI's positional profile name and "key=value" arguments
// into a Config, applying spec.md §6's defaults and then validating.
func Parse(profile string, kv []string) (Config, error) {
	cfg := defaults()
	cfg.Profile = profile

	seen := make(map[string]string, len(kv))
	for _, arg := range kv {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return Config{}, tferrors.New(tferrors.BadArgument,
				fmt.Errorf("argument %q is not in key=value form", arg))
		}
		seen[key] = value
	}

	for key, value := range seen {
		if err := cfg.apply(key, value); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) apply(key, value string) error {
	badArg := func(err error) error { return tferrors.New(tferrors.BadArgument, err) }

	switch key {
	case "input":
		c.Input = value
	case "centerline":
		c.Centerline = value
	case "natural_earth":
		c.NaturalEarth = value
	case "water_polygons":
		c.WaterPolygons = value
	case "output":
		c.Output = value
	case "tmpdir":
		c.Tmpdir = value
	case "bounds":
		b, err := ParseBounds(value)
		if err != nil {
			return badArg(fmt.Errorf("bounds=%s: %w", value, err))
		}
		c.Bounds = b
	case "threads":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return badArg(fmt.Errorf("threads=%s: must be a positive integer", value))
		}
		c.Threads = n
	case "minzoom":
		z, err := parseZoom(value)
		if err != nil {
			return badArg(fmt.Errorf("minzoom=%s: %w", value, err))
		}
		c.MinZoom = z
	case "maxzoom":
		z, err := parseZoom(value)
		if err != nil {
			return badArg(fmt.Errorf("maxzoom=%s: %w", value, err))
		}
		c.MaxZoom = z
	case "name_languages":
		c.NameLanguages = strings.Split(value, ",")
	case "fetch_wikidata":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return badArg(fmt.Errorf("fetch_wikidata=%s: %w", value, err))
		}
		c.FetchWikidata = b
	case "use_wikidata":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return badArg(fmt.Errorf("use_wikidata=%s: %w", value, err))
		}
		c.UseWikidata = b
	case "wikidata_cache":
		c.WikidataCache = value
	case "defer_mbtiles_index_creation":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return badArg(fmt.Errorf("defer_mbtiles_index_creation=%s: %w", value, err))
		}
		c.DeferIndex = b
	case "optimize_db":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return badArg(fmt.Errorf("optimize_db=%s: %w", value, err))
		}
		c.OptimizeDB = b
	case "loginterval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return badArg(fmt.Errorf("loginterval=%s: %w", value, err))
		}
		c.LogInterval = d
	default:
		return badArg(fmt.Errorf("unrecognized key %q", key))
	}
	return nil
}

// parseZoom enforces spec.md §9's resolved Open Question: 0 <= zoom <= 14
// inclusive, uniformly.
func parseZoom(value string) (uint8, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < 0 || n > 14 {
		return 0, fmt.Errorf("must be between 0 and 14 inclusive")
	}
	return uint8(n), nil
}

// ParseBounds parses spec.md §6's "minLon,minLat,maxLon,maxLat" or "world"
// bounds argument.
func ParseBounds(value string) (Bounds, error) {
	if value == "world" {
		return WorldBounds, nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("expected 4 comma-separated numbers or \"world\"")
	}
	nums := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("%q is not a number", p)
		}
		nums[i] = f
	}
	return Bounds{MinLon: nums[0], MinLat: nums[1], MaxLon: nums[2], MaxLat: nums[3]}, nil
}

func (c Config) validate() error {
	badArg := func(err error) error { return tferrors.New(tferrors.BadArgument, err) }

	if c.Input == "" {
		return badArg(fmt.Errorf("input is required"))
	}
	if c.Output == "" {
		return badArg(fmt.Errorf("output is required"))
	}
	if c.MinZoom > c.MaxZoom {
		return badArg(fmt.Errorf("minzoom (%d) must be <= maxzoom (%d)", c.MinZoom, c.MaxZoom))
	}
	if c.MaxZoom > 14 {
		return badArg(fmt.Errorf("maxzoom (%d) must be <= 14", c.MaxZoom))
	}
	if !c.Bounds.IsWorld && !c.Bounds.Inferred {
		if c.Bounds.MinLon >= c.Bounds.MaxLon || c.Bounds.MinLat >= c.Bounds.MaxLat {
			return badArg(fmt.Errorf("bounds min must be less than max"))
		}
	}
	return nil
}
