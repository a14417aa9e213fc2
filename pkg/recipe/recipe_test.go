package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `<recipe>
  <awm id="0" value="0.3">
    <request resource="cluster.pe" amount="10"/>
  </awm>
  <awm id="1" value="0.8">
    <request resource="cluster.pe" amount="2K"/>
    <request resource="cluster.mem" amount="512M"/>
  </awm>
  <plugin_data name="rtlib">
    <entry key="language">c</entry>
  </plugin_data>
</recipe>`

func writeRecipe(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "app1.recipe")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesMenuAndUnitSuffixes(t *testing.T) {
	path := writeRecipe(t, sample)
	r, result, err := Load("app1", path)
	require.NoError(t, err)
	assert.Equal(t, Ok, result)
	require.Len(t, r.Menu, 2)

	assert.Equal(t, uint8(0), r.Menu[0].ID)
	assert.Equal(t, uint8(1), r.Menu[1].ID)
	require.Len(t, r.Menu[1].Requests, 2)
	assert.Equal(t, uint64(2*1024), r.Menu[1].Requests[0].Amount)
	assert.Equal(t, uint64(512*1024*1024), r.Menu[1].Requests[1].Amount)

	assert.Equal(t, "c", r.Plugins["rtlib"]["language"])
}

func TestLoadNotFound(t *testing.T) {
	_, result, err := Load("missing", "/nonexistent/path.recipe")
	assert.Equal(t, NotFound, result)
	assert.Error(t, err)
}

func TestLoadFormatError(t *testing.T) {
	path := writeRecipe(t, "<not-xml")
	_, result, err := Load("bad", path)
	assert.Equal(t, FormatError, result)
	assert.Error(t, err)
}

func TestLoadWeakLoadOnUnresolvedAmount(t *testing.T) {
	body := `<recipe><awm id="0" value="0.5"><request resource="cluster.pe" amount="not-a-number"/></awm></recipe>`
	path := writeRecipe(t, body)
	_, result, err := Load("weak", path)
	require.ErrorIs(t, err, ErrWeakLoad)
	assert.Equal(t, WeakLoad, result)
}
