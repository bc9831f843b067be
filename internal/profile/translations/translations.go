// Package translations implements SPEC_FULL.md §3.1's Wikidata-backed name
// localizer: an ndjson cache of {qid, labels} loaded once at startup and
// consulted by profiles (C9) to pick a feature's name in the caller's
// preferred language, falling back to its plain `name` tag.
package translations

import (
	"bufio"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/tferrors"
)

// cacheEntry is one line of the ndjson Wikidata cache.
type cacheEntry struct {
	QID    int64             `json:"qid"`
	Labels map[string]string `json:"labels"`
}

// Fetcher fetches a missing QID's labels over the network. Source/network
// fetching is explicitly out of spec.md's scope; NoopFetcher is the
// default the CLI wires in, and any real fetcher is a caller-supplied
// implementation this package never constructs itself.
type Fetcher interface {
	Fetch(qid int64) (map[string]string, error)
}

// NoopFetcher always reports the QID as unknown.
type NoopFetcher struct{}

func (NoopFetcher) Fetch(int64) (map[string]string, error) { return nil, nil }

// Translations resolves a feature's display name, localized per
// Languages (ordered, most preferred first), consulting an in-memory
// Wikidata label cache keyed by QID.
type Translations struct {
	Languages []string
	Fetch     bool
	fetcher   Fetcher

	cache map[int64]map[string]string
}

// New builds a Translations with the given preferred languages (e.g.
// spec.md §6's `name_languages` CLI key, already comma-split). fetch
// enables querying fetcher for QIDs missing from the loaded cache.
func New(languages []string, fetch bool, fetcher Fetcher) *Translations {
	if fetcher == nil {
		fetcher = NoopFetcher{}
	}
	return &Translations{Languages: languages, Fetch: fetch, fetcher: fetcher, cache: map[int64]map[string]string{}}
}

// LoadCache reads an ndjson file of {"qid":123,"labels":{"en":"Paris"}}
// lines into memory. Missing files are not an error — use_wikidata may be
// true with no cache yet populated.
func (t *Translations) LoadCache(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return tferrors.New(tferrors.IoFailure, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry cacheEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return tferrors.New(tferrors.SourceParseError, err)
		}
		t.cache[entry.QID] = entry.Labels
	}
	if err := scanner.Err(); err != nil {
		return tferrors.New(tferrors.IoFailure, err)
	}
	return nil
}

// Localize picks f's display name: the first Languages entry with a
// cached Wikidata label, falling back to the feature's own `name` tag
// (or "" if neither is present).
func (t *Translations) Localize(f *model.SourceFeature) string {
	if qid, ok := wikidataQID(f.Tags); ok {
		labels := t.cache[qid]
		if labels == nil && t.Fetch {
			if fetched, err := t.fetcher.Fetch(qid); err == nil && fetched != nil {
				t.cache[qid] = fetched
				labels = fetched
			}
		}
		for _, lang := range t.Languages {
			if name, ok := labels[lang]; ok && name != "" {
				return name
			}
		}
	}
	if v, ok := f.Tags["name"]; ok {
		return v.String()
	}
	return ""
}

// wikidataQID parses an OSM-style "Q123" wikidata tag into its numeric id.
func wikidataQID(tags map[string]model.Scalar) (int64, bool) {
	v, ok := tags["wikidata"]
	if !ok {
		return 0, false
	}
	s := strings.TrimPrefix(v.String(), "Q")
	qid, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return qid, true
}
