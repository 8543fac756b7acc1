package minicube

import (
	"fmt"
	"strings"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/raster"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/geometry"
)

// Attributes of a finalized cube
const (
	AttrCRS        = "crs"
	AttrSource     = "source"
	AttrCollection = "collection"
)

var dimAliases = map[string]string{
	"time":      raster.DimTime,
	"t":         raster.DimTime,
	"date":      raster.DimTime,
	"y":         raster.DimY,
	"lat":       raster.DimY,
	"latitude":  raster.DimY,
	"x":         raster.DimX,
	"lon":       raster.DimX,
	"long":      raster.DimX,
	"longitude": raster.DimX,
}

// CanonicalDim returns the canonical name of a dimension (time, y or x), or the name unchanged if unknown
func CanonicalDim(name string) string {
	if c, ok := dimAliases[strings.ToLower(name)]; ok {
		return c
	}
	return name
}

// canonicalLayout renames the dimensions of the variable, drops its singleton extra dimensions
// and transposes it into (time, y, x) or (y, x)
func canonicalLayout(v raster.Variable) (raster.Variable, error) {
	var dims []string
	var shape []int
	pos := map[string]int{}
	for i, d := range v.Dims {
		c := CanonicalDim(d)
		if c != raster.DimTime && c != raster.DimY && c != raster.DimX {
			if v.Shape[i] != 1 {
				return v, fmt.Errorf("unexpected dimension %s of size %d", d, v.Shape[i])
			}
			continue
		}
		if _, ok := pos[c]; ok {
			return v, fmt.Errorf("duplicate dimension %s", c)
		}
		pos[c] = len(dims)
		dims = append(dims, c)
		shape = append(shape, v.Shape[i])
	}
	order := []string{raster.DimY, raster.DimX}
	if _, ok := pos[raster.DimTime]; ok {
		order = []string{raster.DimTime, raster.DimY, raster.DimX}
	}
	if len(dims) != len(order) {
		return v, fmt.Errorf("unexpected dimensions %v", v.Dims)
	}
	perm := make([]int, len(order))
	for i, d := range order {
		p, ok := pos[d]
		if !ok {
			return v, fmt.Errorf("missing dimension %s in %v", d, v.Dims)
		}
		perm[i] = p
	}
	data, shape, err := raster.Transpose(v.Data, shape, perm)
	if err != nil {
		return v, err
	}
	return raster.Variable{Name: v.Name, Dims: order, Shape: shape, Data: append([]float64(nil), data...)}, nil
}

// Finalize returns the cube with canonical dimensions (time, y, x) or (y, x), optionally clipped to the exact
// shape of the AOI (pixel centers), and with its attributes replaced by {crs, source, collection}.
func Finalize(cube *raster.Cube, aoi common.AOI, cfg Config) (*raster.Cube, error) {
	if cube == nil || len(cube.Variables) == 0 {
		return nil, service.ErrEmptyResult{Step: "finalize"}
	}
	res := &raster.Cube{
		Times:  append(cube.Times[:0:0], cube.Times...),
		Grid:   cube.Grid,
		NoData: cube.NoData,
		Attrs: map[string]string{
			AttrCRS:        cube.Grid.CRS,
			AttrSource:     cfg.Source,
			AttrCollection: cfg.Collection,
		},
	}
	for _, v := range cube.Variables {
		cv, err := canonicalLayout(v)
		if err != nil {
			return nil, fmt.Errorf("Finalize[%s]: %w", v.Name, err)
		}
		cv.Attrs = map[string]string{}
		res.Variables = append(res.Variables, cv)
	}

	if cfg.ClipToShape {
		if err := clipToShape(res, aoi); err != nil {
			return nil, fmt.Errorf("Finalize.%w", err)
		}
	}
	return res, nil
}

// clipToShape sets to nodata the pixels whose center is outside the AOI
func clipToShape(cube *raster.Cube, aoi common.AOI) error {
	aoi, err := geometry.Reproject(aoi, cube.Grid.CRS)
	if err != nil {
		return fmt.Errorf("clipToShape.%w", err)
	}
	mask, err := geometry.NewMask(aoi.Geometry)
	if err != nil {
		return fmt.Errorf("clipToShape.%w", err)
	}
	g := cube.Grid
	var outside []int
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			x, y := g.PixelCenter(col, row)
			in, err := mask.Contains(x, y)
			if err != nil {
				return fmt.Errorf("clipToShape.%w", err)
			}
			if !in {
				outside = append(outside, row*g.Width+col)
			}
		}
	}
	size := g.Size()
	for _, v := range cube.Variables {
		for t := 0; t < len(v.Data)/size; t++ {
			for _, i := range outside {
				v.Data[t*size+i] = cube.NoData
			}
		}
	}
	return nil
}
