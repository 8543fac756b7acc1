package minicube

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/raster"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/geometry"
	"github.com/drnhhl/terragon/service/log"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ManifestFile is the name of the manifest written next to the rasters
const ManifestFile = "manifest.json"

// VariableStats are the statistics of the valid pixels of a variable
type VariableStats struct {
	Name          string   `json:"name"`
	Min           *float64 `json:"min,omitempty"`
	Max           *float64 `json:"max,omitempty"`
	Mean          *float64 `json:"mean,omitempty"`
	StdDev        *float64 `json:"std_dev,omitempty"`
	ValidFraction float64  `json:"valid_fraction"`
}

// Manifest describes an exported cube
type Manifest struct {
	Dims      []string          `json:"dims"`
	Times     []time.Time       `json:"times,omitempty"`
	Grid      raster.Grid       `json:"grid"`
	NoData    string            `json:"nodata"`
	Variables []VariableStats   `json:"variables"`
	Attrs     map[string]string `json:"attrs"`
	AOIHash   string            `json:"aoi_hash"`
	// Files are relative to the directory of the manifest, one per time
	Files []string `json:"files"`
}

// AOIHash returns the sha256 of the WKT of the AOI, used to name the outputs of an AOI
func AOIHash(aoi common.AOI) (string, error) {
	wkt, err := geomwkt.EncodeString(aoi.Geometry)
	if err != nil {
		return "", fmt.Errorf("AOIHash: %w", err)
	}
	h := sha256.Sum256([]byte(aoi.CRS + ";" + wkt))
	return hex.EncodeToString(h[:]), nil
}

// Stats computes the statistics of the valid pixels of the variable
func Stats(v raster.Variable, nodata float64) VariableStats {
	s := VariableStats{Name: v.Name}
	valid := make([]float64, 0, len(v.Data))
	for _, x := range v.Data {
		if !raster.IsNoData(x, nodata) {
			valid = append(valid, x)
		}
	}
	if len(v.Data) > 0 {
		s.ValidFraction = float64(len(valid)) / float64(len(v.Data))
	}
	if len(valid) == 0 {
		return s
	}
	mn, mx := floats.Min(valid), floats.Max(valid)
	mean, std := stat.MeanStdDev(valid, nil)
	if len(valid) == 1 {
		std = 0
	}
	s.Min, s.Max, s.Mean, s.StdDev = &mn, &mx, &mean, &std
	return s
}

// Export writes one GeoTIFF per time (one band per variable) and the manifest in outDir.
// Files are named <prefix>_<YYYYMMDD>_<aoi hash>.tif so that exports of different AOIs never collide.
func Export(ctx context.Context, cube *raster.Cube, aoi common.AOI, outDir, prefix string) (*Manifest, error) {
	if cube == nil || len(cube.Variables) == 0 {
		return nil, service.ErrEmptyResult{Step: "export"}
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, service.ErrIO{File: outDir, Err: err}
	}
	hash, err := AOIHash(aoi)
	if err != nil {
		return nil, fmt.Errorf("Export.%w", err)
	}
	if prefix == "" {
		prefix = "minicube"
	}
	prefix = strings.ReplaceAll(prefix, "/", "-")

	m := &Manifest{
		Dims:    cube.Variables[0].Dims,
		Times:   cube.Times,
		Grid:    cube.Grid,
		NoData:  formatFloat(cube.NoData),
		Attrs:   cube.Attrs,
		AOIHash: hash,
	}
	for _, v := range cube.Variables {
		m.Variables = append(m.Variables, Stats(v, cube.NoData))
	}

	nSlices := len(cube.Times)
	if nSlices == 0 {
		nSlices = 1
	}
	for t := 0; t < nSlices; t++ {
		name := fmt.Sprintf("%s_%s.tif", prefix, hash[:16])
		if t < len(cube.Times) {
			name = fmt.Sprintf("%s_%s_%s.tif", prefix, cube.Times[t].Format("20060102"), hash[:16])
		}
		if err := writeSlice(cube, t, filepath.Join(outDir, name)); err != nil {
			return nil, fmt.Errorf("Export.%w", err)
		}
		log.Logger(ctx).Sugar().Debugf("%s written", name)
		m.Files = append(m.Files, name)
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("Export.Marshal: %w", err)
	}
	manifest := filepath.Join(outDir, ManifestFile)
	if err := os.WriteFile(manifest, b, 0o644); err != nil {
		return nil, service.ErrIO{File: manifest, Err: err}
	}
	log.Logger(ctx).Sugar().Infof("minicube exported to %s (%d files)", outDir, len(m.Files))
	return m, nil
}

func writeSlice(cube *raster.Cube, t int, path string) error {
	g := cube.Grid
	size := g.Size()
	ds, err := godal.Create(godal.GTiff, path, len(cube.Variables), godal.Float64, g.Width, g.Height,
		godal.CreationOption("TILED=YES", "COMPRESS=DEFLATE"))
	if err != nil {
		return service.ErrIO{File: path, Err: err}
	}
	if err := ds.SetGeoTransform(g.GeoTransform()); err != nil {
		ds.Close()
		return service.ErrIO{File: path, Err: err}
	}
	sr, err := geometry.NewSpatialRef(g.CRS)
	if err != nil {
		ds.Close()
		return err
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		ds.Close()
		return service.ErrIO{File: path, Err: err}
	}
	for k, v := range cube.Attrs {
		if err := ds.SetMetadata(strings.ToUpper(k), v); err != nil {
			ds.Close()
			return service.ErrIO{File: path, Err: err}
		}
	}
	if err := ds.SetMetadata("BANDS", strings.Join(cube.VariableNames(), ",")); err != nil {
		ds.Close()
		return service.ErrIO{File: path, Err: err}
	}
	for i, band := range ds.Bands() {
		v := cube.Variables[i]
		if err := band.SetNoData(cube.NoData); err != nil {
			ds.Close()
			return service.ErrIO{File: path, Err: err}
		}
		if err := band.Write(0, 0, v.Data[t*size:(t+1)*size], g.Width, g.Height); err != nil {
			ds.Close()
			return service.ErrIO{File: path, Err: err}
		}
	}
	if err := ds.Close(); err != nil {
		return service.ErrIO{File: path, Err: err}
	}
	return nil
}
