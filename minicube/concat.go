package minicube

import (
	"fmt"
	"sort"

	"github.com/drnhhl/terragon/raster"
	"github.com/drnhhl/terragon/service"
)

// Concatenate assembles the frames along the time axis, sorted by ascending time.
// Every frame is padded (or cropped) to the grid, usually the bounding box of the AOI. If grid is empty,
// the union of the grids of the frames is used.
// Frames sharing the same time are mosaicked (first valid pixel wins).
// A band missing at some time is filled with nodata.
func Concatenate(frames []raster.Frame, grid raster.Grid) (*raster.Cube, error) {
	if len(frames) == 0 {
		return nil, service.ErrEmptyResult{Step: "concatenate"}
	}
	frames = append([]raster.Frame(nil), frames...)
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Time.Before(frames[j].Time) })

	if grid.Size() == 0 {
		grid = frames[0].Grid
		for _, f := range frames[1:] {
			var err error
			if grid, err = grid.Union(f.Grid); err != nil {
				return nil, fmt.Errorf("Concatenate.%w", err)
			}
		}
	}

	nodata := frames[0].NoData
	cube := &raster.Cube{
		Grid:   grid,
		NoData: nodata,
		Attrs:  map[string]string{},
	}

	// Union of the bands
	bandSet := map[string]struct{}{}
	var bands []string
	for _, f := range frames {
		for _, b := range f.Bands {
			if _, ok := bandSet[b]; !ok {
				bandSet[b] = struct{}{}
				bands = append(bands, b)
			}
		}
	}
	sort.Strings(bands)

	// Time slices (equal times are merged)
	type slice struct {
		data map[string][]float64
	}
	var slices []slice
	for _, f := range frames {
		if n := len(cube.Times); n == 0 || !cube.Times[n-1].Equal(f.Time) {
			cube.Times = append(cube.Times, f.Time)
			slices = append(slices, slice{data: map[string][]float64{}})
		}
		s := slices[len(slices)-1]
		for _, b := range f.Bands {
			data, err := raster.Resize(f.Grid, f.Data[b], grid, nodata)
			if err != nil {
				return nil, fmt.Errorf("Concatenate[%s].%w", f.Time.Format("2006-01-02"), err)
			}
			if prev, ok := s.data[b]; ok {
				raster.Mosaic(prev, data, nodata)
				continue
			}
			// copy: Resize returns its input when the grids are equal
			s.data[b] = append([]float64(nil), data...)
		}
		for k, v := range f.Attrs {
			cube.Attrs[f.Time.Format("20060102")+":"+k] = v
		}
	}

	dims := []string{raster.DimTime, frames[0].Dims[0], frames[0].Dims[1]}
	if dims[1] == "" || dims[2] == "" {
		dims[1], dims[2] = raster.DimY, raster.DimX
	}
	size := grid.Size()
	for _, b := range bands {
		v := raster.Variable{
			Name:  b,
			Dims:  dims,
			Shape: []int{len(cube.Times), grid.Height, grid.Width},
			Data:  raster.Filled(len(cube.Times)*size, nodata),
			Attrs: map[string]string{"nodata": formatFloat(nodata)},
		}
		for t, s := range slices {
			if data, ok := s.data[b]; ok {
				copy(v.Data[t*size:(t+1)*size], data)
			}
		}
		cube.Variables = append(cube.Variables, v)
	}
	return cube, nil
}
