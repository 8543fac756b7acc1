package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/interface/provider"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
	"golang.org/x/sync/errgroup"
)

// MaxConcurrentDownloads is the number of transfers of a batch
const MaxConcurrentDownloads = 4

// DownloadScene downloads the bands of the scene into localDir with the first successful imageProvider
func DownloadScene(ctx context.Context, imageProviders []provider.ImageProvider, scene common.SceneReference, bands []string, localDir string) ([]string, error) {
	if len(imageProviders) == 0 {
		return nil, service.ErrConfiguration{Param: "provider", Reason: "no image provider is configured"}
	}
	if err := os.MkdirAll(localDir, 0766); err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("make directory %s: %w", localDir, err))
	}

	log.Logger(ctx).Sugar().Infof("downloading %s", scene.ID)
	var err error
	for _, imageProvider := range imageProviders {
		files, e := imageProvider.Download(ctx, scene, bands, localDir)
		if err = service.MergeErrors(false, err, e); err == nil {
			return files, nil
		}
		log.Logger(ctx).Sugar().Warnf("[%s] %v", imageProvider.Name(), e)
	}
	return nil, fmt.Errorf("DownloadScene.ImageProviders.%w", err)
}

// Download downloads the scenes by batches of MaxConcurrentDownloads transfers.
// A scene that cannot be downloaded is logged and skipped.
// Returns the files in the order of the scenes, or ErrEmptyResult if no scene could be downloaded.
// If ctx is cancelled, no other batch is started: the files already downloaded are returned with the error of ctx.
func Download(ctx context.Context, imageProviders []provider.ImageProvider, scenes []common.SceneReference, bands []string, localDir string) ([]string, error) {
	files := make([][]string, len(scenes))
	failed := 0
	var cancelled error
	for start := 0; start < len(scenes) && cancelled == nil; start += MaxConcurrentDownloads {
		if cancelled = ctx.Err(); cancelled != nil {
			break
		}
		end := start + MaxConcurrentDownloads
		if end > len(scenes) {
			end = len(scenes)
		}
		errs := make([]error, end-start)
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				files[i], errs[i-start] = DownloadScene(ctx, imageProviders, scenes[i], bands, localDir)
				// Only a cancellation stops the download of the other scenes
				return ctx.Err()
			})
		}
		cancelled = g.Wait()
		for i, err := range errs {
			if err != nil {
				failed++
				log.Logger(ctx).Sugar().Warnf("%s skipped: %v", scenes[start+i].ID, err)
			}
		}
	}

	var allFiles []string
	for _, f := range files {
		allFiles = append(allFiles, f...)
	}
	if cancelled != nil {
		log.Logger(ctx).Sugar().Warnf("download interrupted: %d files downloaded", len(allFiles))
		return allFiles, fmt.Errorf("Download: %w", cancelled)
	}
	if len(allFiles) == 0 {
		return nil, service.ErrEmptyResult{Step: "download"}
	}
	log.Logger(ctx).Sugar().Debugf("%d files downloaded (%d/%d scenes failed)", len(allFiles), failed, len(scenes))
	return allFiles, nil
}

// Rasters returns the raster files among files. The archives are extracted into outDir and their rasters returned.
// An archive that cannot be extracted is skipped. Returns ErrEmptyResult if there are neither rasters nor extracted archives.
func Rasters(ctx context.Context, files []string, outDir string, deleteArchives bool) ([]string, error) {
	var rasters, archives []string
	for _, f := range files {
		if service.IsArchive(f) {
			archives = append(archives, f)
		} else {
			rasters = append(rasters, f)
		}
	}
	if len(archives) == 0 {
		return rasters, nil
	}
	extracted, err := Extract(ctx, archives, outDir, deleteArchives)
	if err != nil {
		if len(rasters) == 0 {
			return nil, fmt.Errorf("Rasters.%w", err)
		}
		log.Logger(ctx).Sugar().Warnf("no archive extracted, keeping the %d other rasters: %v", len(rasters), err)
	}
	for _, path := range extracted {
		r, err := ListRasters(path)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("%s: %v", path, err)
			continue
		}
		rasters = append(rasters, r...)
	}
	return rasters, nil
}

// RasterExtensions are the extensions of the files returned by ListRasters
var RasterExtensions = service.NewStringSet(".tif", ".tiff", ".jp2", ".vrt", ".img")

// ListRasters returns the sorted raster files found in path (recursively if path is a directory)
func ListRasters(path string) ([]string, error) {
	var rasters []string
	err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && RasterExtensions.Exists(strings.ToLower(filepath.Ext(p))) {
			rasters = append(rasters, p)
		}
		return nil
	})
	if err != nil {
		return nil, service.ErrIO{File: path, Err: err}
	}
	sort.Strings(rasters)
	return rasters, nil
}
