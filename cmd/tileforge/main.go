package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/tileforge-dev/tileforge/internal/config"
	"github.com/tileforge-dev/tileforge/internal/mbtilesdb"
	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/pipeline"
	"github.com/tileforge-dev/tileforge/internal/profile/builtin"
	"github.com/tileforge-dev/tileforge/internal/profile/translations"
	"github.com/tileforge-dev/tileforge/internal/render"
	"github.com/tileforge-dev/tileforge/internal/source"
	"github.com/tileforge-dev/tileforge/internal/statsreport"
	"github.com/tileforge-dev/tileforge/internal/tferrors"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cli struct {
	Build struct {
		Profile string   `arg:"" help:"Profile name (currently: centroid_demo)."`
		Args    []string `arg:"" optional:"" help:"key=value configuration pairs, per spec.md §6."`
	} `cmd:"" help:"Build an MBTiles archive from input sources using the named profile."`

	Verify struct {
		Path string `arg:"" help:"Path to an MBTiles file to check."`
	} `cmd:"" help:"Check an MBTiles archive against spec.md §8 invariant 1."`

	Version struct{} `cmd:"" help:"Show the program version."`
}

func main() {
	if len(os.Args) < 2 {
		os.Args = append(os.Args, "--help")
	}

	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)
	ctx := kong.Parse(&cli)

	switch {
	case strings.HasPrefix(ctx.Command(), "build"):
		runBuild(logger)
	case strings.HasPrefix(ctx.Command(), "verify"):
		runVerify(logger)
	case ctx.Command() == "version":
		fmt.Printf("tileforge %s, commit %s, built at %s\n", version, commit, date)
	default:
		panic(ctx.Command())
	}
}

func runVerify(logger *log.Logger) {
	if err := mbtilesdb.VerifyArchive(cli.Verify.Path); err != nil {
		logger.Printf("verify failed: %v", err)
		os.Exit(tferrors.ExitCode(err))
	}
	logger.Printf("%s: ok", cli.Verify.Path)
}

func runBuild(logger *log.Logger) {
	cfg, err := config.Parse(cli.Build.Profile, cli.Build.Args)
	if err != nil {
		logger.Printf("invalid configuration: %v", err)
		os.Exit(tferrors.ExitCode(err))
	}

	sources, err := resolveSources(cfg)
	if err != nil {
		logger.Printf("failed to resolve input sources: %v", err)
		os.Exit(tferrors.ExitCode(err))
	}

	tr := translations.New(cfg.NameLanguages, cfg.FetchWikidata, nil)
	if cfg.UseWikidata {
		if err := tr.LoadCache(cfg.WikidataCache); err != nil {
			logger.Printf("failed to load wikidata cache: %v", err)
			os.Exit(tferrors.ExitCode(err))
		}
	}

	prof, err := resolveProfile(cfg.Profile, tr)
	if err != nil {
		logger.Printf("unknown profile %q: %v", cfg.Profile, err)
		os.Exit(tferrors.ExitCode(err))
	}

	reporter := statsreport.New(nil)
	reporter.Logger = logger
	engine := pipeline.New(cfg, prof, sources, reporter)

	logger.Printf("building %s from profile %q", cfg.Output, cfg.Profile)
	if err := engine.Run(context.Background()); err != nil {
		logger.Printf("build failed at stage %s: %v", engine.State(), err)
		os.Exit(tferrors.ExitCode(err))
	}
	logger.Printf("done: %s", reporter.Summary())
}

// resolveSources wires the PipelineEngine's input readers. OSM PBF
// parsing is an external reader collaborator (spec.md §2) this repo does
// not ship a parser for; the literal input value "demo" selects a small
// built-in fixture so `tileforge build centroid_demo input=demo
// output=out.mbtiles` is a runnable, self-contained example end to end.
func resolveSources(cfg config.Config) (pipeline.Sources, error) {
	if cfg.Input != "demo" {
		return pipeline.Sources{}, tferrors.New(tferrors.BadArgument,
			fmt.Errorf("input %q: no OSM PBF reader is registered; use input=demo for the built-in fixture", cfg.Input))
	}
	return pipeline.Sources{Main: &source.SliceReader{Features: demoFeatures()}}, nil
}

func demoFeatures() []model.SourceFeature {
	point := func(lon, lat float64) model.GeometryFunc {
		return func() (model.Geometry, error) {
			return model.Geometry{Kind: model.GeomPoint, Points: []model.LonLat{{Lon: lon, Lat: lat}}}, nil
		}
	}
	return []model.SourceFeature{
		{
			ID: 1, Kind: model.KindNode,
			Tags: map[string]model.Scalar{
				"amenity": model.StringScalar("airport"),
				"iata":    model.StringScalar("XXX"),
				"name":    model.StringScalar("Example Airport"),
			},
			Geometry: point(2.55, 49.01),
		},
		{
			ID: 2, Kind: model.KindNode,
			Tags: map[string]model.Scalar{
				"place": model.StringScalar("city"),
				"name":  model.StringScalar("Example City"),
			},
			Geometry: point(2.35, 48.85),
		},
	}
}

func resolveProfile(name string, tr *translations.Translations) (render.Profile, error) {
	switch name {
	case "centroid_demo":
		return builtin.NewCentroidDemo(tr), nil
	default:
		return nil, tferrors.New(tferrors.BadArgument, fmt.Errorf("no such profile"))
	}
}
