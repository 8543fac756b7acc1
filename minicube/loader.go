package minicube

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/raster"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/geometry"
	"github.com/drnhhl/terragon/service/log"
)

// Target is the common grid of all the tiles of a minicube
type Target struct {
	// AOI in the CRS of the grid
	AOI  common.AOI
	Grid raster.Grid
	// Dims names the (row, col) axes of the tiles
	Dims [2]string
}

// NewTarget reprojects the AOI to the target CRS of the config (if any) and computes the grid covering
// its bounding box at the resolved resolution
func NewTarget(aoi common.AOI, cfg Config) (Target, error) {
	if aoi.IsEmpty() {
		return Target{}, service.ErrConfiguration{Param: "aoi"}
	}
	if aoi.CRS == "" {
		return Target{}, service.ErrConfiguration{Param: "crs"}
	}
	if cfg.TargetCRS != "" {
		var err error
		if aoi, err = geometry.Reproject(aoi, cfg.TargetCRS); err != nil {
			return Target{}, fmt.Errorf("NewTarget.%w", err)
		}
	}
	res, err := ResolveResolution(aoi, cfg.Resolution)
	if err != nil {
		return Target{}, fmt.Errorf("NewTarget.%w", err)
	}
	bounds, err := geometry.Bounds(aoi.Geometry)
	if err != nil {
		return Target{}, fmt.Errorf("NewTarget.%w", err)
	}
	grid, err := raster.NewGrid(aoi.CRS, bounds, res)
	if err != nil {
		return Target{}, fmt.Errorf("NewTarget.%w", err)
	}
	geographic, err := geometry.IsGeographic(aoi.CRS)
	if err != nil {
		return Target{}, fmt.Errorf("NewTarget.%w", err)
	}
	dims := [2]string{raster.DimY, raster.DimX}
	if geographic {
		dims = [2]string{"lat", "lon"}
	}
	return Target{AOI: aoi, Grid: grid, Dims: dims}, nil
}

// GDALPath returns the name of the file to be opened by GDAL.
// gs:// (and s3:// if requested) are handled by the VSI handlers registered at startup (see service.RegisterGDAL).
func GDALPath(ref string) string {
	switch {
	case service.HasVSIHandler(ref):
		return ref
	case strings.HasPrefix(ref, "s3://"):
		return "/vsis3/" + strings.TrimPrefix(ref, "s3://")
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return "/vsicurl/" + ref
	}
	return ref
}

// LoadTile opens a single-band raster, reprojects and resamples it to the target grid if needed (in one warp)
// and clips it to the bounding box of the target AOI.
// The band name is extracted from the file name by the caller and the date from the 8-digit token of the file name.
func LoadTile(ctx context.Context, ref, band string, target Target, cfg Config) (raster.Tile, error) {
	cfg = cfg.withDefaults()
	if band == "" {
		return raster.Tile{}, service.ErrDataFormat{File: ref, Reason: "band name not found"}
	}
	date, ok := common.AcquisitionDate(ref)
	if !ok {
		return raster.Tile{}, service.ErrDataFormat{File: ref, Reason: "missing date token (YYYYMMDD)"}
	}

	ds, err := godal.Open(GDALPath(ref), godal.RasterOnly())
	if err != nil {
		return raster.Tile{}, service.ErrIO{File: ref, Err: err}
	}
	defer ds.Close()

	st := ds.Structure()
	if st.NBands != 1 {
		return raster.Tile{}, service.ErrDataFormat{File: ref, Reason: fmt.Sprintf("expecting a single band, got %d", st.NBands)}
	}
	sr := ds.SpatialRef()
	if sr == nil {
		return raster.Tile{}, service.ErrDataFormat{File: ref, Reason: "no spatial reference"}
	}
	srcCRS, err := sr.WKT()
	sr.Close()
	if err != nil {
		return raster.Tile{}, service.ErrDataFormat{File: ref, Reason: "invalid spatial reference: " + err.Error()}
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return raster.Tile{}, service.ErrDataFormat{File: ref, Reason: "no geotransform: " + err.Error()}
	}
	srcNoData, hasNoData := ds.Bands()[0].NoData()

	footprint, err := tileFootprint(gt, st.SizeX, st.SizeY, srcCRS, target.Grid.CRS)
	if err != nil {
		return raster.Tile{}, service.ErrDataFormat{File: ref, Reason: err.Error()}
	}
	aoiBounds, err := geometry.Bounds(target.AOI.Geometry)
	if err != nil {
		return raster.Tile{}, fmt.Errorf("LoadTile.%w", err)
	}
	// clip to the AOI bounding box: the exact shape is applied on the final cube
	grid, ok := target.Grid.Snap(intersect(footprint, aoiBounds))
	if !ok {
		return raster.Tile{}, service.ErrDataFormat{File: ref, Reason: "tile does not overlap the area of interest"}
	}

	sameCRS, err := geometry.SameCRS(srcCRS, target.Grid.CRS)
	if err != nil {
		return raster.Tile{}, fmt.Errorf("LoadTile.%w", err)
	}
	var data []float64
	srcGrid := raster.Grid{CRS: target.Grid.CRS, OriginX: gt[0], OriginY: gt[3], Res: gt[1], Width: st.SizeX, Height: st.SizeY}
	if col, row, aligned := srcGrid.Offset(grid); sameCRS && aligned && gt[2] == 0 && gt[4] == 0 && gt[5] == -gt[1] {
		log.Logger(ctx).Sugar().Debugf("reading %s without warping", ref)
		data = make([]float64, grid.Size())
		if err := ds.Bands()[0].Read(col, row, data, grid.Width, grid.Height); err != nil {
			return raster.Tile{}, service.ErrIO{File: ref, Err: err}
		}
		if hasNoData {
			for i, v := range data {
				if v == srcNoData {
					data[i] = cfg.NoData
				}
			}
		}
	} else {
		log.Logger(ctx).Sugar().Debugf("warping %s to %dx%d", ref, grid.Width, grid.Height)
		if data, err = warp(ds, grid, cfg, srcNoData, hasNoData); err != nil {
			return raster.Tile{}, service.ErrIO{File: ref, Err: err}
		}
	}

	return raster.Tile{
		Band:   band,
		Time:   date,
		Source: ref,
		Grid:   grid,
		Dims:   target.Dims,
		NoData: cfg.NoData,
		Data:   data,
		Attrs:  map[string]string{"source_file": ref, "source_crs": srcCRS},
	}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func warp(ds *godal.Dataset, grid raster.Grid, cfg Config, srcNoData float64, hasNoData bool) ([]float64, error) {
	b := grid.Bounds()
	switches := []string{
		"-of", "MEM",
		"-t_srs", grid.CRS,
		"-te", formatFloat(b[0]), formatFloat(b[1]), formatFloat(b[2]), formatFloat(b[3]),
		"-ts", strconv.Itoa(grid.Width), strconv.Itoa(grid.Height),
		"-r", cfg.Resampling,
		"-ot", "Float64",
		"-dstnodata", formatFloat(cfg.NoData),
	}
	if hasNoData {
		switches = append(switches, "-srcnodata", formatFloat(srcNoData))
	}
	wds, err := ds.Warp("", switches)
	if err != nil {
		return nil, fmt.Errorf("warp: %w", err)
	}
	defer wds.Close()
	data := make([]float64, grid.Size())
	if err := wds.Bands()[0].Read(0, 0, data, grid.Width, grid.Height); err != nil {
		return nil, fmt.Errorf("warp.Read: %w", err)
	}
	return data, nil
}

// tileFootprint returns the bounds of the tile in the target CRS (edges densified to follow the reprojection)
func tileFootprint(gt [6]float64, width, height int, srcCRS, dstCRS string) ([4]float64, error) {
	const steps = 8
	var xs, ys []float64
	for i := 0; i <= steps; i++ {
		for j := 0; j <= steps; j++ {
			if i != 0 && i != steps && j != 0 && j != steps {
				continue
			}
			px, py := float64(width)*float64(i)/steps, float64(height)*float64(j)/steps
			xs = append(xs, gt[0]+px*gt[1]+py*gt[2])
			ys = append(ys, gt[3]+px*gt[4]+py*gt[5])
		}
	}
	same, err := geometry.SameCRS(srcCRS, dstCRS)
	if err != nil {
		return [4]float64{}, err
	}
	if !same {
		trn, err := geometry.NewTransformer(srcCRS, dstCRS)
		if err != nil {
			return [4]float64{}, err
		}
		defer trn.Close()
		if err := trn.Transform(xs, ys); err != nil {
			return [4]float64{}, err
		}
	}
	b := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for i := range xs {
		b[0], b[1] = math.Min(b[0], xs[i]), math.Min(b[1], ys[i])
		b[2], b[3] = math.Max(b[2], xs[i]), math.Max(b[3], ys[i])
	}
	return b, nil
}

func intersect(a, b [4]float64) [4]float64 {
	return [4]float64{math.Max(a[0], b[0]), math.Max(a[1], b[1]), math.Min(a[2], b[2]), math.Min(a[3], b[3])}
}
