// Package grouper partitions a directory's files into families.
package grouper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

// Extension categories. They double as parser ids.
const (
	CategoryText       = "text"
	CategoryTabular    = "tabular"
	CategoryImages     = "images"
	CategoryCompressed = "compressed"
	CategoryOther      = "other"
)

// Grouper names accepted by New.
const (
	NameExtension = "extension"
	NameDirectory = "directory"
)

var categories = map[string]string{
	"txt": CategoryText, "md": CategoryText, "json": CategoryText, "xml": CategoryText,
	"yaml": CategoryText, "yml": CategoryText, "log": CategoryText, "html": CategoryText,
	"py": CategoryText, "c": CategoryText, "h": CategoryText, "go": CategoryText,
	"csv": CategoryTabular, "tsv": CategoryTabular, "xls": CategoryTabular,
	"xlsx": CategoryTabular, "parquet": CategoryTabular, "hdf": CategoryTabular,
	"h5": CategoryTabular, "nc": CategoryTabular,
	"png": CategoryImages, "jpg": CategoryImages, "jpeg": CategoryImages, "gif": CategoryImages,
	"tif": CategoryImages, "tiff": CategoryImages, "bmp": CategoryImages, "svg": CategoryImages,
	"gz": CategoryCompressed, "tgz": CategoryCompressed, "zip": CategoryCompressed,
	"tar": CategoryCompressed, "bz2": CategoryCompressed, "xz": CategoryCompressed,
	"7z": CategoryCompressed,
}

// Category maps a file extension (without the dot) to its category.
func Category(ext string) string {
	if c, ok := categories[strings.ToLower(ext)]; ok {
		return c
	}
	return CategoryOther
}

// New returns the grouper registered under name.
func New(name string) (crawler.Grouper, error) {
	switch name {
	case "", NameExtension:
		return ExtensionGrouper{}, nil
	case NameDirectory:
		return DirectoryGrouper{}, nil
	default:
		return nil, fmt.Errorf("unknown grouper %q", name)
	}
}

// ExtensionGrouper emits one family per file with a single group whose
// parser is the file's extension category.
type ExtensionGrouper struct{}

// Group implements crawler.Grouper.
func (ExtensionGrouper) Group(files []crawler.FileRecord) ([]crawler.Family, error) {
	families := make([]crawler.Family, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, dup := seen[f.Path]; dup {
			continue
		}
		seen[f.Path] = struct{}{}
		families = append(families, crawler.Family{
			Files: map[string]crawler.FileRecord{f.Path: f},
			Groups: []crawler.Group{{
				ParserID: Category(f.Extension),
				Files:    []string{f.Path},
			}},
		})
	}
	return families, nil
}

// DirectoryGrouper emits a single family holding every file, with one group
// per extension category present. Groups are ordered by parser id and their
// files by path.
type DirectoryGrouper struct{}

// Group implements crawler.Grouper.
func (DirectoryGrouper) Group(files []crawler.FileRecord) ([]crawler.Family, error) {
	if len(files) == 0 {
		return nil, nil
	}
	family := crawler.Family{Files: make(map[string]crawler.FileRecord, len(files))}
	byCategory := make(map[string][]string)
	for _, f := range files {
		if _, dup := family.Files[f.Path]; dup {
			continue
		}
		family.Files[f.Path] = f
		c := Category(f.Extension)
		byCategory[c] = append(byCategory[c], f.Path)
	}

	parsers := make([]string, 0, len(byCategory))
	for c := range byCategory {
		parsers = append(parsers, c)
	}
	sort.Strings(parsers)
	for _, c := range parsers {
		paths := byCategory[c]
		sort.Strings(paths)
		family.Groups = append(family.Groups, crawler.Group{ParserID: c, Files: paths})
	}
	return []crawler.Family{family}, nil
}
