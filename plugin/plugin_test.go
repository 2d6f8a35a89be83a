package plugin

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward/bridge"
)

func TestSearch_RanksByMatchCount(t *testing.T) {
	c := DefaultCatalog()

	hits := c.Search("read and write files")
	require.NotEmpty(t, hits)
	assert.Equal(t, "filesystem", hits[0].Name)

	assert.Empty(t, c.Search("quantum teleportation"))
	assert.Empty(t, c.Search(""))
}

func TestRegister_RejectsDuplicates(t *testing.T) {
	c := NewCatalog(Plugin{Name: "x"})
	require.Error(t, c.Register(Plugin{Name: "x"}))
	require.NoError(t, c.Register(Plugin{Name: "y"}))
	assert.Len(t, c.List(), 2)
}

func TestInstallAndUninstall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")
	c := DefaultCatalog()

	require.NoError(t, c.Install("git", path))
	f, err := bridge.LoadServers(path)
	require.NoError(t, err)
	require.Contains(t, f.Servers, "git")
	assert.Equal(t, "uvx", f.Servers["git"].Command)

	// Installing again is a no-op, not an error.
	require.NoError(t, c.Install("git", path))

	require.Error(t, c.Install("no-such-plugin", path))

	require.NoError(t, c.Uninstall("git", path))
	f, err = bridge.LoadServers(path)
	require.NoError(t, err)
	assert.NotContains(t, f.Servers, "git")

	require.Error(t, c.Uninstall("git", path))
}

func TestInstall_RequiredEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")
	c := DefaultCatalog()

	t.Setenv("GITHUB_PERSONAL_ACCESS_TOKEN", "")
	err := c.Install("github", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_PERSONAL_ACCESS_TOKEN")

	t.Setenv("GITHUB_PERSONAL_ACCESS_TOKEN", "ghp_test")
	require.NoError(t, c.Install("github", path))
	f, err := bridge.LoadServers(path)
	require.NoError(t, err)
	assert.Equal(t, "ghp_test", f.Servers["github"].Env["GITHUB_PERSONAL_ACCESS_TOKEN"])
}

func TestAnalyzeGap_SkipsInstalledServers(t *testing.T) {
	c := DefaultCatalog()

	hits := c.AnalyzeGap("fetch a web page", []string{"fetch__get_url"})
	for _, p := range hits {
		assert.NotEqual(t, "fetch", p.Name)
	}

	hits = c.AnalyzeGap("fetch a web page", []string{"filesystem__read_file"})
	require.NotEmpty(t, hits)
	assert.Equal(t, "fetch", hits[0].Name)
}
