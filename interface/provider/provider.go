package provider

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/service"
)

// Searcher finds the scenes of a catalog
type Searcher interface {
	// Search returns the scenes matching the collection, the time range and the filters of the query.
	// The scenes are neither deduplicated nor intersected with the AOI (see the catalog package).
	Search(ctx context.Context, q common.QueryParameters) ([]common.SceneReference, error)

	// Collections returns the known collections whose name contains filter (case-insensitive)
	Collections(ctx context.Context, filter string) ([]string, error)
}

// ImageProvider is the interface of an image download service
type ImageProvider interface {
	// Download the requested bands of the scene (all its rasters if bands is empty) to the given localDir.
	// It returns the downloaded files: rasters or archives of products that need to be extracted.
	Download(ctx context.Context, scene common.SceneReference, bands []string, localDir string) ([]string, error)

	// Name of the provider
	Name() string
}

// Provider is a catalog with its download service
type Provider interface {
	Searcher
	ImageProvider
}

// FilterCollections returns the sorted collections whose name contains filter (case-insensitive)
func FilterCollections(collections []string, filter string) []string {
	filter = strings.ToLower(filter)
	res := make([]string, 0, len(collections))
	for _, c := range collections {
		if strings.Contains(strings.ToLower(c), filter) {
			res = append(res, c)
		}
	}
	sort.Strings(res)
	return res
}

func day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// matchQuery returns true if the scene matches the collection, the time range (day precision) and the filters
func matchQuery(scene common.SceneReference, q common.QueryParameters) bool {
	if scene.Collection != "" && !strings.EqualFold(scene.Collection, q.Collection) {
		return false
	}
	tr := common.TimeRange{Start: q.TimeRange.Start, End: q.TimeRange.End}
	if !tr.Start.IsZero() {
		tr.Start = day(tr.Start)
	}
	if !tr.End.IsZero() {
		tr.End = day(tr.End)
	}
	if !tr.Contains(day(scene.Date)) {
		return false
	}
	for key, value := range q.Filter {
		if v, ok := scene.Property(key); !ok || v != value {
			return false
		}
	}
	return true
}

func filterScenes(scenes []common.SceneReference, q common.QueryParameters) []common.SceneReference {
	res := make([]common.SceneReference, 0, len(scenes))
	for _, scene := range scenes {
		if matchQuery(scene, q) {
			if scene.Collection == "" {
				scene.Collection = q.Collection
			}
			res = append(res, scene)
		}
	}
	return res
}

var rasterExtensions = service.NewStringSet(".tif", ".tiff", ".jp2")

func assetExt(asset common.Asset) string {
	href := asset.Href
	if i := strings.IndexAny(href, "?#"); i != -1 {
		href = href[:i]
	}
	if ext := strings.ToLower(path.Ext(href)); ext != "" {
		return ext
	}
	switch {
	case strings.Contains(asset.Type, "jp2"):
		return ".jp2"
	case strings.Contains(asset.Type, "zip"):
		return ".zip"
	}
	return ".tif"
}

func isRaster(asset common.Asset) bool {
	return strings.HasPrefix(asset.Type, "image/tiff") || strings.HasPrefix(asset.Type, "image/jp2") ||
		rasterExtensions.Exists(assetExt(asset))
}

func isArchive(asset common.Asset) bool {
	return service.IsArchive("asset" + assetExt(asset))
}

// selectAssets returns the sorted keys of the assets to download: the requested bands,
// or the archives of the whole product if no band matches, or all the rasters if no band is requested.
func selectAssets(scene common.SceneReference, bands []string) []string {
	var keys, archives []string
	wanted := service.StringSet{}
	for _, b := range bands {
		wanted.Push(strings.ToLower(b))
	}
	for key, asset := range scene.Assets {
		switch {
		case len(bands) == 0 && isRaster(asset):
			keys = append(keys, key)
		case wanted.Exists(strings.ToLower(key)):
			keys = append(keys, key)
		case isArchive(asset):
			archives = append(archives, key)
		}
	}
	if len(keys) == 0 {
		keys = archives
	}
	sort.Strings(keys)
	return keys
}
