package obsfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAFile(t *testing.T) {
	assert.True(t, isAFile("/source/foo/bar", "package.rpm"))
	assert.True(t, isAFile("/source/foo/bar", "repo.solv"))
	assert.True(t, isAFile("/published/foo/bar", "content"))
	assert.False(t, isAFile("/published/foo/bar", "subdir"))
	assert.True(t, isAFile("/build/foo/repocache", "anything"))
	assert.False(t, isAFile("/source/foo/bar", "subpackage"))
}

func TestParseDirectoryEntries(t *testing.T) {
	xml := `<directory rev="5">
		<entry name="vim.spec" size="1024" mtime="1700000000"/>
		<entry name="subpackage"/>
	</directory>`

	p := NewXMLDirParser()
	got, err := p.Parse(strings.NewReader(xml), ParseRequest{
		FSPath:  "/source/openSUSE:Factory/vim",
		APIPath: "/source/openSUSE:Factory/vim",
	})
	require.NoError(t, err)
	assert.Equal(t, "5", got.Rev)
	require.Len(t, got.Entries, 2)

	assert.Equal(t, "vim.spec", got.Entries[0].Name)
	assert.False(t, got.Entries[0].IsDir)
	assert.True(t, got.Entries[0].HasSize)
	assert.EqualValues(t, 1024, got.Entries[0].Size)

	assert.Equal(t, "subpackage", got.Entries[1].Name)
	assert.True(t, got.Entries[1].IsDir)
}

func TestParseCollectionPackageUnderProjectSymlinksToSource(t *testing.T) {
	xmlDoc := `<collection><package name="vim"/></collection>`

	p := NewXMLDirParser()
	got, err := p.Parse(strings.NewReader(xmlDoc), ParseRequest{
		FSPath:  "/source/_my_packages/openSUSE:Factory",
		APIPath: "/search/package_id",
	})
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "vim", got.Entries[0].Name)
	assert.Equal(t, "../../openSUSE:Factory/vim", got.Entries[0].Symlink)
}

func TestParseMyPackagesCollectionListsProjectsByAttribute(t *testing.T) {
	xmlDoc := `<collection><package name="vim" project="openSUSE:Factory"/></collection>`

	p := NewXMLDirParser()
	got, err := p.Parse(strings.NewReader(xmlDoc), ParseRequest{
		FSPath:  "/source/_my_packages",
		APIPath: "/search/package_id",
	})
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "openSUSE:Factory", got.Entries[0].Name)
}

func TestParseCollectionProjectListSymlinksToParent(t *testing.T) {
	xmlDoc := `<collection><project name="openSUSE:Factory"/></collection>`

	p := NewXMLDirParser()
	got, err := p.Parse(strings.NewReader(xmlDoc), ParseRequest{
		FSPath:  "/source/_my_projects",
		APIPath: "/search/project_id",
	})
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "openSUSE:Factory", got.Entries[0].Name)
	assert.Equal(t, "../openSUSE:Factory", got.Entries[0].Symlink)
}

func TestParseLatestAddedBuildsRelinkTemplate(t *testing.T) {
	xmlDoc := `<latest_added><entry name="vim" project="openSUSE:Factory"/></latest_added>`

	p := NewXMLDirParser()
	got, err := p.Parse(strings.NewReader(xmlDoc), ParseRequest{
		FSPath:  "/statistics/latest_added",
		APIPath: "/statistics/latest_added",
	})
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "../../source/openSUSE:Factory/vim", got.Entries[0].Symlink)
}

func TestParseResultStatusBuildsFailedHardlink(t *testing.T) {
	xmlDoc := `<result><status package="vim" code="failed"/></result>`

	p := NewXMLDirParser()
	got, err := p.Parse(strings.NewReader(xmlDoc), ParseRequest{
		FSPath:      "/build/openSUSE:Factory/standard/x86_64/_failed",
		APIPath:     "/build/openSUSE:Factory/_result?repository=standard&arch=x86_64",
		MangledPath: "/build/openSUSE:Factory/standard/x86_64/_failed",
		Filter:      &Filter{Attr: "code", Value: "failed"},
	})
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "vim", got.Entries[0].Name)
	assert.Equal(t, "/build/openSUSE:Factory/standard/x86_64/vim/_log", got.Entries[0].Hardlink)
}

func TestParseResultStatusFilteredOut(t *testing.T) {
	xmlDoc := `<result><status package="vim" code="succeeded"/></result>`

	p := NewXMLDirParser()
	got, err := p.Parse(strings.NewReader(xmlDoc), ParseRequest{
		FSPath:  "/build/openSUSE:Factory/standard/x86_64/_failed",
		APIPath: "/build/openSUSE:Factory/_result?repository=standard&arch=x86_64",
		Filter:  &Filter{Attr: "code", Value: "failed"},
	})
	require.NoError(t, err)
	assert.Empty(t, got.Entries)
}

func TestParseMyPackagesDedupesProjects(t *testing.T) {
	xmlDoc := `<collection>
		<package name="vim" project="openSUSE:Factory"/>
		<package name="gcc" project="openSUSE:Factory"/>
		<package name="make" project="devel:tools"/>
	</collection>`

	p := NewXMLDirParser()
	got, err := p.Parse(strings.NewReader(xmlDoc), ParseRequest{
		FSPath:  "/source/_my_packages",
		APIPath: "/search/package_id",
	})
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "openSUSE:Factory", got.Entries[0].Name)
	assert.Equal(t, "devel:tools", got.Entries[1].Name)
}
