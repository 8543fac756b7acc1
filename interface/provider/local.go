package provider

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
)

// LocalProvider implements Provider for local storage.
// The collections are the sub-directories of the root path. A collection contains
// rasters (grouped in scenes per directory and acquisition date) or zipped products.
type LocalProvider struct {
	path    string
	fetcher *Fetcher
}

// NewLocalProvider creates a new Provider from local storage
func NewLocalProvider(path string) *LocalProvider {
	return &LocalProvider{path: path, fetcher: &Fetcher{}}
}

// Name implements ImageProvider
func (p *LocalProvider) Name() string {
	return "FileSystem (" + p.path + ")"
}

// Collections implements Searcher
func (p *LocalProvider) Collections(ctx context.Context, filter string) ([]string, error) {
	entries, err := os.ReadDir(p.path)
	if err != nil {
		return nil, service.ErrIO{File: p.path, Err: err}
	}
	var collections []string
	for _, e := range entries {
		if e.IsDir() {
			collections = append(collections, e.Name())
		}
	}
	return FilterCollections(collections, filter), nil
}

// Search implements Searcher
func (p *LocalProvider) Search(ctx context.Context, q common.QueryParameters) ([]common.SceneReference, error) {
	root := filepath.Join(p.path, q.Collection)
	scenes := map[string]*common.SceneReference{}
	err := filepath.WalkDir(root, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		date, ok := common.AcquisitionDate(file)
		if !ok {
			log.Logger(ctx).Sugar().Debugf("LocalProvider: no date in %s", file)
			return nil
		}
		asset := common.Asset{Href: file}
		var id, key string
		switch {
		case isArchive(asset):
			id, key = strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())), ProductAsset
		case isRaster(asset):
			if key = common.BandName(file); key == "" {
				log.Logger(ctx).Sugar().Debugf("LocalProvider: no band in %s", file)
				return nil
			}
			id = filepath.Base(filepath.Dir(file)) + "_" + date.Format("20060102")
		default:
			return nil
		}
		scene, ok := scenes[id]
		if !ok {
			scene = &common.SceneReference{ID: id, Collection: q.Collection, Date: date, Assets: map[string]common.Asset{}}
			if info, err := common.Info(id); err == nil {
				scene.TileID, scene.ProcessingLevel = info["TILE"], info["PRODUCT_LEVEL"]
			}
			scenes[id] = scene
		}
		if _, exists := scene.Assets[key]; !exists {
			scene.Assets[key] = asset
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("LocalProvider.Search: %w", service.ErrIO{File: root, Err: err})
	}

	res := make([]common.SceneReference, 0, len(scenes))
	for _, s := range scenes {
		res = append(res, *s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return filterScenes(res, q), nil
}

// Download implements ImageProvider
func (p *LocalProvider) Download(ctx context.Context, scene common.SceneReference, bands []string, localDir string) ([]string, error) {
	files, err := downloadAssets(ctx, p.fetcher, scene, bands, localDir)
	if err != nil {
		return nil, fmt.Errorf("LocalProvider.%w", err)
	}
	return files, nil
}
