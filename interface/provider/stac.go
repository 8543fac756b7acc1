package provider

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/interface/catalog/stac"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
)

// STACProvider implements Provider for a STAC ItemCollection: the items are the catalog
// and their assets are downloaded with a Fetcher.
type STACProvider struct {
	items   string
	fetcher *Fetcher
}

// NewSTACProvider creates a new Provider from an ItemCollection (local file or http(s) url).
// The ItemCollection is (re)loaded on each Search.
func NewSTACProvider(items string, fetcher *Fetcher) *STACProvider {
	if fetcher == nil {
		fetcher = &Fetcher{}
	}
	return &STACProvider{items: items, fetcher: fetcher}
}

// Name implements ImageProvider
func (p *STACProvider) Name() string {
	return "STAC"
}

// Search implements Searcher
func (p *STACProvider) Search(ctx context.Context, q common.QueryParameters) ([]common.SceneReference, error) {
	ic, err := stac.Load(ctx, p.items)
	if err != nil {
		return nil, fmt.Errorf("STACProvider.Search.%w", err)
	}
	return filterScenes(ic.Scenes(ctx), q), nil
}

// Collections implements Searcher
func (p *STACProvider) Collections(ctx context.Context, filter string) ([]string, error) {
	ic, err := stac.Load(ctx, p.items)
	if err != nil {
		return nil, fmt.Errorf("STACProvider.Collections.%w", err)
	}
	return FilterCollections(ic.Collections(), filter), nil
}

// Download implements ImageProvider
func (p *STACProvider) Download(ctx context.Context, scene common.SceneReference, bands []string, localDir string) ([]string, error) {
	files, err := downloadAssets(ctx, p.fetcher, scene, bands, localDir)
	if err != nil {
		return nil, fmt.Errorf("STACProvider.%w", err)
	}
	return files, nil
}

// downloadAssets fetches the selected assets of the scene.
// A failed asset is logged and skipped: the scene fails only if no asset can be downloaded.
func downloadAssets(ctx context.Context, fetcher *Fetcher, scene common.SceneReference, bands []string, localDir string) ([]string, error) {
	keys := selectAssets(scene, bands)
	if len(keys) == 0 {
		return nil, service.ErrItemUnavailable{Item: scene.ID, Err: fmt.Errorf("no asset matching bands %v", bands)}
	}
	var files []string
	var err error
	for _, key := range keys {
		asset := scene.Assets[key]
		file := filepath.Join(localDir, common.AssetFileName(scene.Collection, key, scene.ID, scene.Date, assetExt(asset)))
		if e := fetcher.Fetch(ctx, asset.Href, file); e != nil {
			log.Logger(ctx).Sugar().Warnf("%s: asset %s unavailable: %v", scene.ID, key, e)
			err = service.MergeErrors(true, err, e)
			continue
		}
		files = append(files, file)
	}
	if len(files) == 0 {
		return nil, service.ErrItemUnavailable{Item: scene.ID, Err: err}
	}
	return files, nil
}
