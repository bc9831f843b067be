package translations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tileforge-dev/tileforge/internal/model"
)

func writeCache(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wikidata_names.json")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocalizePicksFirstAvailableLanguage(t *testing.T) {
	path := writeCache(t, `{"qid":90,"labels":{"fr":"Paris","de":"Paris"}}`)
	tr := New([]string{"en", "fr"}, false, nil)
	require.NoError(t, tr.LoadCache(path))

	f := &model.SourceFeature{Tags: map[string]model.Scalar{
		"wikidata": model.StringScalar("Q90"),
		"name":     model.StringScalar("fallback"),
	}}
	assert.Equal(t, "Paris", tr.Localize(f))
}

func TestLocalizeFallsBackToNameTagWhenNoLabelMatches(t *testing.T) {
	path := writeCache(t, `{"qid":90,"labels":{"de":"Paris"}}`)
	tr := New([]string{"en", "fr"}, false, nil)
	require.NoError(t, tr.LoadCache(path))

	f := &model.SourceFeature{Tags: map[string]model.Scalar{
		"wikidata": model.StringScalar("Q90"),
		"name":     model.StringScalar("fallback"),
	}}
	assert.Equal(t, "fallback", tr.Localize(f))
}

func TestLocalizeWithoutWikidataTagUsesNameTag(t *testing.T) {
	tr := New([]string{"en"}, false, nil)
	f := &model.SourceFeature{Tags: map[string]model.Scalar{"name": model.StringScalar("plain")}}
	assert.Equal(t, "plain", tr.Localize(f))
}

func TestLoadCacheMissingFileIsNotAnError(t *testing.T) {
	tr := New([]string{"en"}, false, nil)
	assert.NoError(t, tr.LoadCache(filepath.Join(t.TempDir(), "missing.json")))
}
