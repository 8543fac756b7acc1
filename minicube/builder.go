package minicube

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/raster"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// bandFile is a file to load as the tile of a band
type bandFile struct {
	file, band string
}

var resolutionTokenRe = regexp.MustCompile(`(^|[_\-.])\d+m($|[_\-.])`)

// sceneKey identifies the acquisition a file belongs to: its name without the band and resolution tokens.
// The R10m, R20m and R60m rasters of a band of a SAFE product share the same key.
func sceneKey(file, band string) string {
	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	name = strings.Replace(name, band, "", 1)
	return resolutionTokenRe.ReplaceAllString(name, "$1$2")
}

// selectBandFiles returns the files to load, in their order.
// Files without band name, with a band that is not requested, or carrying a band already found
// for the same acquisition are skipped (the first one wins).
func selectBandFiles(ctx context.Context, files []string, cfg Config) []bandFile {
	var selected []bandFile
	seen := map[string]string{}
	for _, f := range files {
		band := common.BandName(f, cfg.BandPatterns...)
		if band == "" {
			log.Logger(ctx).Sugar().Warnf("skipping %s: no band name found", f)
			continue
		}
		if !cfg.wantBand(band) {
			log.Logger(ctx).Sugar().Debugf("skipping %s: band %s not requested", f, band)
			continue
		}
		key := band + "/" + sceneKey(f, band)
		if first, ok := seen[key]; ok {
			log.Logger(ctx).Sugar().Infof("skipping %s: duplicate of %s", f, first)
			continue
		}
		seen[key] = f
		selected = append(selected, bandFile{file: f, band: band})
	}
	return selected
}

// LoadTiles loads the files in parallel (cfg.Workers) on the target grid.
// Only one file per band and acquisition is loaded (see selectBandFiles).
// A file that cannot be loaded is logged and dropped. Tiles are returned in the order of the files.
// Returns ErrEmptyResult if no tile could be loaded.
func LoadTiles(ctx context.Context, files []string, target Target, cfg Config) ([]raster.Tile, error) {
	cfg = cfg.withDefaults()
	jobs := selectBandFiles(ctx, files, cfg)

	results := make([]*raster.Tile, len(jobs))
	wg := errgroup.Group{}
	wg.SetLimit(cfg.Workers)
	for i, j := range jobs {
		i, j := i, j
		wg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			tile, err := LoadTile(ctx, j.file, j.band, target, cfg)
			if err != nil {
				log.Logger(ctx).Warn("dropping tile", zap.String("file", j.file), zap.Error(err))
				return nil
			}
			results[i] = &tile
			return nil
		})
	}
	_ = wg.Wait()

	var tiles []raster.Tile
	for _, t := range results {
		if t != nil {
			tiles = append(tiles, *t)
		}
	}
	if len(tiles) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("LoadTiles: %w", err)
		}
		return nil, service.ErrEmptyResult{Step: "load"}
	}
	log.Logger(ctx).Sugar().Infof("%d/%d tiles loaded", len(tiles), len(jobs))
	return tiles, nil
}

// Assemble stacks the tiles per acquisition time, concatenates the frames on the target grid and finalizes the cube
func Assemble(tiles []raster.Tile, target Target, cfg Config) (*raster.Cube, error) {
	var frames []raster.Frame
	for _, group := range GroupByTime(tiles) {
		frame, err := StackTiles(group)
		if err != nil {
			return nil, fmt.Errorf("Assemble.%w", err)
		}
		frames = append(frames, frame)
	}
	cube, err := Concatenate(frames, target.Grid)
	if err != nil {
		return nil, fmt.Errorf("Assemble.%w", err)
	}
	if cube, err = Finalize(cube, target.AOI, cfg); err != nil {
		return nil, fmt.Errorf("Assemble.%w", err)
	}
	return cube, nil
}

// BuildMinicube loads the tiles in parallel and assembles them into a minicube aligned on the bounding box
// of the AOI at the requested resolution.
// Failing tiles are dropped. Returns ErrEmptyResult if no tile could be loaded.
func BuildMinicube(ctx context.Context, files []string, aoi common.AOI, cfg Config) (*raster.Cube, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("BuildMinicube: %w", err)
	}
	if len(files) == 0 {
		return nil, service.ErrEmptyResult{Step: "build"}
	}
	target, err := NewTarget(aoi, cfg)
	if err != nil {
		return nil, fmt.Errorf("BuildMinicube.%w", err)
	}
	ctx = log.WithFields(ctx, zap.String("collection", cfg.Collection))
	log.Logger(ctx).Sugar().Infof("building a %dx%d minicube from %d files", target.Grid.Width, target.Grid.Height, len(files))

	tiles, err := LoadTiles(ctx, files, target, cfg)
	if err != nil {
		return nil, fmt.Errorf("BuildMinicube.%w", err)
	}
	cube, err := Assemble(tiles, target, cfg)
	if err != nil {
		return nil, fmt.Errorf("BuildMinicube.%w", err)
	}
	return cube, nil
}

// IsEmptyResult returns true if the error is (or wraps) an ErrEmptyResult
func IsEmptyResult(err error) bool {
	var e service.ErrEmptyResult
	return errors.As(err, &e)
}
