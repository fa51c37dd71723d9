package grouper

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

func records(paths ...string) []crawler.FileRecord {
	out := make([]crawler.FileRecord, 0, len(paths))
	for i, p := range paths {
		ext := ""
		for j := len(p) - 1; j >= 0 && p[j] != '/'; j-- {
			if p[j] == '.' {
				ext = p[j+1:]
				break
			}
		}
		out = append(out, crawler.FileRecord{Path: p, Size: int64(i + 1), Extension: ext, SourceKind: "globus"})
	}
	return out
}

func TestCategory(t *testing.T) {
	t.Parallel()

	require.Equal(t, CategoryText, Category("txt"))
	require.Equal(t, CategoryTabular, Category("CSV"))
	require.Equal(t, CategoryImages, Category("png"))
	require.Equal(t, CategoryCompressed, Category("gz"))
	require.Equal(t, CategoryOther, Category(""))
	require.Equal(t, CategoryOther, Category("weird"))
}

func TestExtensionGrouperOneFamilyPerFile(t *testing.T) {
	t.Parallel()

	in := records("/d/a.txt", "/d/b.csv", "/d/noext")
	families, err := ExtensionGrouper{}.Group(in)
	require.NoError(t, err)
	require.Len(t, families, 3)

	seen := map[string]int{}
	for _, fam := range families {
		require.Len(t, fam.Files, 1)
		require.Len(t, fam.Groups, 1)
		for p := range fam.Files {
			seen[p]++
			require.Equal(t, []string{p}, fam.Groups[0].Files)
		}
	}
	require.Equal(t, map[string]int{"/d/a.txt": 1, "/d/b.csv": 1, "/d/noext": 1}, seen)
	require.Equal(t, CategoryOther, families[2].Groups[0].ParserID)
}

func TestGroupersSkipDuplicatePaths(t *testing.T) {
	t.Parallel()

	in := records("/d/a.txt", "/d/b.csv", "/d/a.txt")
	for name, g := range map[string]crawler.Grouper{
		"extension": ExtensionGrouper{},
		"directory": DirectoryGrouper{},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			families, err := g.Group(in)
			require.NoError(t, err)
			counts := map[string]int{}
			for _, fam := range families {
				for _, grp := range fam.Groups {
					for _, p := range grp.Files {
						counts[p]++
					}
				}
			}
			require.Equal(t, map[string]int{"/d/a.txt": 1, "/d/b.csv": 1}, counts)
		})
	}
}

func TestDirectoryGrouperSingleFamily(t *testing.T) {
	t.Parallel()

	in := records("/d/z.txt", "/d/a.txt", "/d/b.csv", "/d/c.png")
	families, err := DirectoryGrouper{}.Group(in)
	require.NoError(t, err)
	require.Len(t, families, 1)

	fam := families[0]
	require.Len(t, fam.Files, 4)
	require.Equal(t, []crawler.Group{
		{ParserID: CategoryImages, Files: []string{"/d/c.png"}},
		{ParserID: CategoryTabular, Files: []string{"/d/b.csv"}},
		{ParserID: CategoryText, Files: []string{"/d/a.txt", "/d/z.txt"}},
	}, fam.Groups)
}

func TestDirectoryGrouperIsDeterministic(t *testing.T) {
	t.Parallel()

	in := records("/d/1.gz", "/d/2.txt", "/d/3.gz")
	first, err := DirectoryGrouper{}.Group(in)
	require.NoError(t, err)
	second, err := DirectoryGrouper{}.Group(in)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDirectoryGrouperEmpty(t *testing.T) {
	t.Parallel()

	families, err := DirectoryGrouper{}.Group(nil)
	require.NoError(t, err)
	require.Empty(t, families)
}

func TestNew(t *testing.T) {
	t.Parallel()

	g, err := New("")
	require.NoError(t, err)
	require.IsType(t, ExtensionGrouper{}, g)

	g, err = New(NameDirectory)
	require.NoError(t, err)
	require.IsType(t, DirectoryGrouper{}, g)

	_, err = New("matio")
	require.Error(t, err)
}
