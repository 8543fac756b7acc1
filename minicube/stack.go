package minicube

import (
	"fmt"
	"sort"
	"strings"

	"github.com/drnhhl/terragon/raster"
	"github.com/drnhhl/terragon/service"
)

// StackTiles merges the single-band tiles of one acquisition instant into a multi-band frame.
// Tiles carrying the same band (e.g. adjacent tiles of a same-day pass) are mosaicked in their order:
// the first valid pixel wins. Bands are sorted by name.
// The grid of the frame is the union of the grids of the tiles, padded with nodata.
func StackTiles(tiles []raster.Tile) (raster.Frame, error) {
	if len(tiles) == 0 {
		return raster.Frame{}, service.ErrEmptyResult{Step: "stack"}
	}
	t0 := tiles[0]
	frame := raster.Frame{
		Time:   t0.Time,
		Grid:   t0.Grid,
		Dims:   t0.Dims,
		NoData: t0.NoData,
		Data:   map[string][]float64{},
		Attrs:  map[string]string{},
	}

	byBand := map[string][]raster.Tile{}
	for _, tile := range tiles {
		if !tile.Time.Equal(frame.Time) {
			return raster.Frame{}, fmt.Errorf("StackTiles: mixed acquisition times (%s and %s)", frame.Time, tile.Time)
		}
		if _, ok := byBand[tile.Band]; !ok {
			frame.Bands = append(frame.Bands, tile.Band)
		}
		byBand[tile.Band] = append(byBand[tile.Band], tile)
		var err error
		if frame.Grid, err = frame.Grid.Union(tile.Grid); err != nil {
			return raster.Frame{}, fmt.Errorf("StackTiles[%s].%w", tile.Source, err)
		}
	}
	sort.Strings(frame.Bands)

	var sources []string
	for _, band := range frame.Bands {
		for i, tile := range byBand[band] {
			data, err := raster.Resize(tile.Grid, tile.Data, frame.Grid, frame.NoData)
			if err != nil {
				return raster.Frame{}, fmt.Errorf("StackTiles[%s].%w", tile.Source, err)
			}
			if tile.Source != "" {
				sources = append(sources, tile.Source)
			}
			if i > 0 {
				raster.Mosaic(frame.Data[band], data, frame.NoData)
				continue
			}
			// copy: Resize returns its input when the grids are equal
			frame.Data[band] = append([]float64(nil), data...)
			for k, v := range tile.Attrs {
				frame.Attrs[band+":"+k] = v
			}
		}
	}
	frame.Attrs["sources"] = strings.Join(sources, ",")
	return frame, nil
}

// GroupByTime groups the tiles by acquisition instant, preserving their order within each group.
// Groups are returned in ascending time order.
func GroupByTime(tiles []raster.Tile) [][]raster.Tile {
	idx := map[int64]int{}
	var groups [][]raster.Tile
	for _, tile := range tiles {
		k := tile.Time.UnixNano()
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], tile)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i][0].Time.Before(groups[j][0].Time) })
	return groups
}
