package provider

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
)

// ImageServiceProvider implements Provider for image services computing one raster per band and per scene.
// The search is delegated to a Searcher.
// The url of a band is built from a pattern that can contain several {IDENTIFIER} (see common.FormatBrackets):
// ID, COLLECTION, BAND, DATE (YYYYMMDD), TILE, and the fields of common.Info for the known product ids.
// e.g. https://images.example.com/{COLLECTION}/{ID}/{BAND}.tif
type ImageServiceProvider struct {
	searcher Searcher
	pattern  string
	fetcher  *Fetcher
}

// NewImageServiceProvider creates a new ImageServiceProvider
func NewImageServiceProvider(searcher Searcher, pattern string, fetcher *Fetcher) *ImageServiceProvider {
	if fetcher == nil {
		fetcher = &Fetcher{}
	}
	return &ImageServiceProvider{searcher: searcher, pattern: pattern, fetcher: fetcher}
}

// Name implements ImageProvider
func (p *ImageServiceProvider) Name() string {
	return "ImageService"
}

// Search implements Searcher
func (p *ImageServiceProvider) Search(ctx context.Context, q common.QueryParameters) ([]common.SceneReference, error) {
	return p.searcher.Search(ctx, q)
}

// Collections implements Searcher
func (p *ImageServiceProvider) Collections(ctx context.Context, filter string) ([]string, error) {
	return p.searcher.Collections(ctx, filter)
}

// BandURL returns the url of the band of the scene
func (p *ImageServiceProvider) BandURL(scene common.SceneReference, band string) string {
	fields := map[string]string{
		"ID":         scene.ID,
		"COLLECTION": scene.Collection,
		"BAND":       band,
		"DATE":       scene.Date.Format("20060102"),
	}
	if scene.TileID != "" {
		fields["TILE"] = scene.TileID
	}
	info, _ := common.Info(scene.ID)
	return common.FormatBrackets(p.pattern, fields, info)
}

// Download implements ImageProvider. Without bands, the bands are the assets of the scene.
func (p *ImageServiceProvider) Download(ctx context.Context, scene common.SceneReference, bands []string, localDir string) ([]string, error) {
	if len(bands) == 0 {
		for band := range scene.Assets {
			bands = append(bands, band)
		}
		sort.Strings(bands)
	}
	if len(bands) == 0 {
		return nil, service.ErrConfiguration{Param: "bands", Reason: "required by " + p.Name()}
	}
	var files []string
	var err error
	for _, band := range bands {
		url := p.BandURL(scene, band)
		file := filepath.Join(localDir, common.AssetFileName(scene.Collection, band, scene.ID, scene.Date, assetExt(common.Asset{Href: url})))
		if e := p.fetcher.Fetch(ctx, url, file); e != nil {
			log.Logger(ctx).Sugar().Warnf("%s: band %s unavailable: %v", scene.ID, band, e)
			err = service.MergeErrors(true, err, e)
			continue
		}
		files = append(files, file)
	}
	if len(files) == 0 {
		return nil, service.ErrItemUnavailable{Item: scene.ID, Err: fmt.Errorf("ImageServiceProvider: %w", err)}
	}
	return files, nil
}
