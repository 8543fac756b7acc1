package minicube

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/raster"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/geometry"
	"github.com/go-spatial/geom"
	"github.com/google/go-cmp/cmp"
)

var testGrid, _ = raster.NewGrid("EPSG:32631", [4]float64{0, 0, 40, 30}, 10)

func day(d int) time.Time {
	return time.Date(2021, 1, d, 0, 0, 0, 0, time.UTC)
}

func testTile(band string, d int, grid raster.Grid, v float64) raster.Tile {
	return raster.Tile{
		Band:   band,
		Time:   day(d),
		Source: fmt.Sprintf("S2_%s_202101%02d.tif", band, d),
		Grid:   grid,
		Dims:   [2]string{"y", "x"},
		NoData: -1,
		Data:   raster.Filled(grid.Size(), v),
		Attrs:  map[string]string{"source_crs": "EPSG:32631"},
	}
}

func TestStackTiles(t *testing.T) {
	if _, err := StackTiles(nil); !IsEmptyResult(err) {
		t.Errorf("expected ErrEmptyResult got %v", err)
	}

	frame, err := StackTiles([]raster.Tile{
		testTile("B03", 1, testGrid, 3),
		testTile("B02", 1, testGrid, 2),
		testTile("B02", 1, testGrid, 20),
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"B02", "B03"}, frame.Bands); diff != "" {
		t.Errorf("unexpected bands: %s", diff)
	}
	if len(frame.Data) != 2 || frame.Data["B02"][0] != 2 {
		t.Errorf("expected the first B02 tile to win")
	}

	// adjacent tiles of the same day are mosaicked
	frame, err = StackTiles([]raster.Tile{
		testTile("B02", 1, testGrid.Window(0, 0, 2, 3), 1),
		testTile("B02", 1, testGrid.Window(2, 0, 2, 3), 2),
		testTile("B03", 1, testGrid, 3),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !frame.Grid.Equal(testGrid) {
		t.Errorf("expected grid %+v got %+v", testGrid, frame.Grid)
	}
	expected := []float64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		1, 1, 2, 2,
	}
	if diff := cmp.Diff(expected, frame.Data["B02"]); diff != "" {
		t.Errorf("unexpected mosaic: %s", diff)
	}
	if s := frame.Attrs["sources"]; strings.Count(s, ",") != 2 {
		t.Errorf("expected 3 sources got %s", s)
	}

	// tiles with different coverage are padded to their union
	frame, err = StackTiles([]raster.Tile{
		testTile("B02", 1, testGrid.Window(0, 0, 2, 2), 2),
		testTile("B03", 1, testGrid.Window(2, 1, 2, 2), 3),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !frame.Grid.Equal(testGrid) {
		t.Errorf("expected grid %+v got %+v", testGrid, frame.Grid)
	}
	if d := frame.Data["B03"]; d[0] != -1 || d[len(d)-1] != 3 {
		t.Errorf("unexpected padding %v", d)
	}

	if _, err := StackTiles([]raster.Tile{testTile("B02", 1, testGrid, 2), testTile("B03", 2, testGrid, 3)}); err == nil {
		t.Errorf("expected error on mixed times")
	}
}

func TestSelectBandFiles(t *testing.T) {
	safe := "/data/S2A_MSIL2A_20210101T105441_N0214_R051_T31TCJ_20210101T131512.SAFE/GRANULE/L2A_T31TCJ/IMG_DATA/"
	files := []string{
		safe + "R10m/T31TCJ_20210101T105441_B02_10m.jp2",
		safe + "R10m/T31TCJ_20210101T105441_B03_10m.jp2",
		safe + "R20m/T31TCJ_20210101T105441_B02_20m.jp2",
		safe + "R60m/T31TCJ_20210101T105441_B02_60m.jp2",
		safe + "R20m/T31TCJ_20210101T105441_SCL_20m.jp2",
		// adjacent tile of the same pass
		"/data/T31TDJ/T31TDJ_20210101T105441_B02_10m.jp2",
		"/data/T31TCJ_20210101T105441_MSK_CLDPRB_20m.jp2",
		"/data/s1a-iw-grd-vv-20210101t053551-20210101t053616-035951-0436b4-001.tiff",
		"/data/s1a-iw-grd-vh-20210101t053551-20210101t053616-035951-0436b4-002.tiff",
	}
	cfg := Config{Bands: []string{"B02", "B03", "vv", "vh"}}.withDefaults()
	var selected []string
	for _, bf := range selectBandFiles(context.Background(), files, cfg) {
		selected = append(selected, bf.band+":"+path.Base(bf.file))
	}
	expected := []string{
		"B02:T31TCJ_20210101T105441_B02_10m.jp2",
		"B03:T31TCJ_20210101T105441_B03_10m.jp2",
		"B02:T31TDJ_20210101T105441_B02_10m.jp2",
		"vv:s1a-iw-grd-vv-20210101t053551-20210101t053616-035951-0436b4-001.tiff",
		"vh:s1a-iw-grd-vh-20210101t053551-20210101t053616-035951-0436b4-002.tiff",
	}
	if diff := cmp.Diff(expected, selected); diff != "" {
		t.Errorf("unexpected selection (-want +got):\n%s", diff)
	}
}

func TestGroupByTime(t *testing.T) {
	groups := GroupByTime([]raster.Tile{
		testTile("B02", 3, testGrid, 1),
		testTile("B02", 1, testGrid, 2),
		testTile("B03", 3, testGrid, 3),
	})
	if len(groups) != 2 || len(groups[0]) != 1 || len(groups[1]) != 2 {
		t.Fatalf("unexpected groups %v", groups)
	}
	if !groups[0][0].Time.Equal(day(1)) || groups[1][1].Band != "B03" {
		t.Errorf("unexpected order")
	}
}

func frameOf(t *testing.T, tiles ...raster.Tile) raster.Frame {
	f, err := StackTiles(tiles)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestConcatenateOrder(t *testing.T) {
	if _, err := Concatenate(nil, testGrid); !IsEmptyResult(err) {
		t.Errorf("expected ErrEmptyResult got %v", err)
	}

	// t1 < t3 < t2 submitted in this order
	cube, err := Concatenate([]raster.Frame{
		frameOf(t, testTile("B02", 1, testGrid, 1)),
		frameOf(t, testTile("B02", 3, testGrid, 3)),
		frameOf(t, testTile("B02", 2, testGrid, 2)),
	}, testGrid)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]time.Time{day(1), day(2), day(3)}, cube.Times); diff != "" {
		t.Errorf("unexpected times: %s", diff)
	}
	v, _ := cube.Variable("B02")
	size := testGrid.Size()
	for i, expected := range []float64{1, 2, 3} {
		if v.Data[i*size] != expected {
			t.Errorf("time %d: expected %f got %f", i, expected, v.Data[i*size])
		}
	}
	if diff := cmp.Diff([]int{3, 3, 4}, v.Shape); diff != "" {
		t.Errorf("unexpected shape: %s", diff)
	}
}

func TestConcatenatePadding(t *testing.T) {
	cube, err := Concatenate([]raster.Frame{
		frameOf(t, testTile("B02", 2, testGrid, 2), testTile("B03", 2, testGrid, 3)),
		frameOf(t, testTile("B02", 1, testGrid.Window(0, 0, 2, 2), 1)),
	}, testGrid)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"B02", "B03"}, cube.VariableNames()); diff != "" {
		t.Errorf("unexpected variables: %s", diff)
	}
	b02, _ := cube.Variable("B02")
	expected := []float64{
		1, 1, -1, -1,
		1, 1, -1, -1,
		-1, -1, -1, -1,
	}
	if diff := cmp.Diff(expected, b02.Data[:12]); diff != "" {
		t.Errorf("unexpected padding: %s", diff)
	}
	// missing band at the first time
	b03, _ := cube.Variable("B03")
	if diff := cmp.Diff(raster.Filled(12, -1), b03.Data[:12]); diff != "" {
		t.Errorf("expected nodata slice: %s", diff)
	}
	if b03.Data[12] != 3 {
		t.Errorf("expected 3 got %f", b03.Data[12])
	}
}

func TestConcatenateSameTime(t *testing.T) {
	cube, err := Concatenate([]raster.Frame{
		frameOf(t, testTile("B02", 1, testGrid.Window(0, 0, 2, 3), 1)),
		frameOf(t, testTile("B02", 1, testGrid, 2)),
	}, testGrid)
	if err != nil {
		t.Fatal(err)
	}
	if len(cube.Times) != 1 {
		t.Fatalf("expected 1 time got %d", len(cube.Times))
	}
	expected := []float64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		1, 1, 2, 2,
	}
	if diff := cmp.Diff(expected, cube.Variables[0].Data); diff != "" {
		t.Errorf("unexpected mosaic: %s", diff)
	}
}

func TestThreeTilesScenario(t *testing.T) {
	tiles := []raster.Tile{
		testTile("B02", 1, testGrid, 1),
		testTile("B02", 1, testGrid, 10),
		testTile("B02", 3, testGrid, 3),
	}
	var frames []raster.Frame
	for _, group := range GroupByTime(tiles) {
		frames = append(frames, frameOf(t, group...))
	}
	if len(frames) != 2 || len(frames[0].Bands) != 1 || frames[0].Bands[0] != "B02" {
		t.Fatalf("expected a single B02 variable for 20210101")
	}
	cube, err := Concatenate(frames, testGrid)
	if err != nil {
		t.Fatal(err)
	}
	if len(cube.Times) != 2 || len(cube.Variables) != 1 {
		t.Errorf("expected 2 times and 1 variable got %d and %d", len(cube.Times), len(cube.Variables))
	}
}

func TestFinalize(t *testing.T) {
	if _, err := Finalize(nil, common.AOI{}, Config{}); !IsEmptyResult(err) {
		t.Errorf("expected ErrEmptyResult got %v", err)
	}

	grid := raster.Grid{CRS: "EPSG:4326", Res: 1, Width: 2, Height: 2, OriginY: 2}
	cube := &raster.Cube{
		Times:  []time.Time{day(1), day(2)},
		Grid:   grid,
		NoData: -1,
		Variables: []raster.Variable{{
			Name:  "B02",
			Dims:  []string{"lat", "lon", "time"},
			Shape: []int{2, 2, 2},
			Data:  []float64{111, 112, 121, 122, 211, 212, 221, 222},
			Attrs: map[string]string{"scale_factor": "0.0001"},
		}},
		Attrs: map[string]string{"20210101:sources": "a.tif"},
	}
	res, err := Finalize(cube, common.AOI{}, Config{Source: "stac", Collection: "sentinel-2-l2a"})
	if err != nil {
		t.Fatal(err)
	}
	v := res.Variables[0]
	if diff := cmp.Diff([]string{"time", "y", "x"}, v.Dims); diff != "" {
		t.Errorf("unexpected dims: %s", diff)
	}
	if diff := cmp.Diff([]float64{111, 121, 211, 221, 112, 122, 212, 222}, v.Data); diff != "" {
		t.Errorf("unexpected data: %s", diff)
	}
	if len(v.Attrs) != 0 {
		t.Errorf("expected no variable attributes got %v", v.Attrs)
	}
	expectedAttrs := map[string]string{AttrCRS: "EPSG:4326", AttrSource: "stac", AttrCollection: "sentinel-2-l2a"}
	if diff := cmp.Diff(expectedAttrs, res.Attrs); diff != "" {
		t.Errorf("unexpected attributes: %s", diff)
	}
	if cube.Variables[0].Data[1] != 112 {
		t.Errorf("input cube must not be modified")
	}

	// singleton band axis, pixel naming, no time
	cube.Times = nil
	cube.Variables[0] = raster.Variable{Name: "B02", Dims: []string{"band", "X", "Y"}, Shape: []int{1, 2, 2}, Data: []float64{1, 2, 3, 4}}
	res, err = Finalize(cube, common.AOI{}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"y", "x"}, res.Variables[0].Dims); diff != "" {
		t.Errorf("unexpected dims: %s", diff)
	}
	if diff := cmp.Diff([]float64{1, 3, 2, 4}, res.Variables[0].Data); diff != "" {
		t.Errorf("unexpected data: %s", diff)
	}

	cube.Variables[0] = raster.Variable{Name: "B02", Dims: []string{"band", "y", "x"}, Shape: []int{2, 1, 2}, Data: []float64{1, 2, 3, 4}}
	if _, err := Finalize(cube, common.AOI{}, Config{}); err == nil {
		t.Errorf("expected error on multi-band variable")
	}
}

func TestFinalizeClipToShape(t *testing.T) {
	grid := raster.Grid{CRS: "EPSG:32631", OriginX: 0, OriginY: 10, Res: 1, Width: 10, Height: 10}
	cube := &raster.Cube{
		Times:     []time.Time{day(1)},
		Grid:      grid,
		NoData:    -1,
		Variables: []raster.Variable{{Name: "B02", Dims: []string{"time", "y", "x"}, Shape: []int{1, 10, 10}, Data: raster.Filled(100, 5)}},
	}
	aoi := common.AOI{Geometry: geom.Polygon{{{0, 0}, {10, 0}, {0, 10}, {0, 0}}}, CRS: "EPSG:32631"}
	res, err := Finalize(cube, aoi, Config{ClipToShape: true})
	if err != nil {
		t.Fatal(err)
	}
	data := res.Variables[0].Data
	// top-right pixel, center (9.5, 9.5)
	if data[9] != -1 {
		t.Errorf("expected nodata outside the shape got %f", data[9])
	}
	// bottom-left pixel, center (0.5, 0.5)
	if data[90] != 5 {
		t.Errorf("expected data inside the shape got %f", data[90])
	}
	if cube.Variables[0].Data[9] != 5 {
		t.Errorf("input cube must not be modified")
	}
}

func TestResolveResolution(t *testing.T) {
	aoi := common.AOI{
		Geometry: geom.Polygon{{{500000, 55000}, {500400, 55000}, {500400, 55160}, {500000, 55160}, {500000, 55000}}},
		CRS:      "EPSG:32631",
	}
	for _, v := range []float64{0, -10} {
		_, err := ResolveResolution(aoi, common.Resolution{Value: v})
		var cerr service.ErrConfiguration
		if !errors.As(err, &cerr) {
			t.Errorf("%f: expected ErrConfiguration got %v", v, err)
		}
	}

	res, err := ResolveResolution(aoi, common.Resolution{Value: 10, Unit: common.UnitMeters})
	if err != nil || res != 10 {
		t.Errorf("expected 10 got %f (%v)", res, err)
	}
	b, _ := geometry.Bounds(aoi.Geometry)
	grid, err := raster.NewGrid(aoi.CRS, b, res)
	if err != nil || grid.Width != 40 || grid.Height != 16 {
		t.Errorf("expected 40x16 got %dx%d (%v)", grid.Width, grid.Height, err)
	}

	geo, err := geometry.Reproject(aoi, geometry.WGS84)
	if err != nil {
		t.Fatal(err)
	}
	if res, err := ResolveResolution(geo, common.Resolution{Value: 0.001, Unit: common.UnitCRS}); err != nil || res != 0.001 {
		t.Errorf("expected crs units to pass through got %f (%v)", res, err)
	}
	deg, err := ResolveResolution(geo, common.Resolution{Value: 10, Unit: common.UnitMeters})
	if err != nil {
		t.Fatal(err)
	}
	if deg < 8e-5 || deg > 1e-4 {
		t.Errorf("unexpected resolution in degrees %g", deg)
	}
	b, _ = geometry.Bounds(geo.Geometry)
	if w, h := (b[2]-b[0])/deg, (b[3]-b[1])/deg; math.Abs(w-40) > 1 || math.Abs(h-16) > 1 {
		t.Errorf("expected ~40x16 got %fx%f", w, h)
	}
	again, _ := ResolveResolution(geo, common.Resolution{Value: 10, Unit: common.UnitMeters})
	if again != deg {
		t.Errorf("expected a pure function: %g != %g", deg, again)
	}

	meters, err := MetersFromCRSUnits(geo, deg)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(meters-10)/10 > 0.01 {
		t.Errorf("round trip: expected 10m got %f", meters)
	}
	if m, err := MetersFromCRSUnits(aoi, 10); err != nil || m != 10 {
		t.Errorf("expected 10 got %f (%v)", m, err)
	}
}

func TestStats(t *testing.T) {
	s := Stats(raster.Variable{Name: "B02", Data: []float64{1, 2, 3, -1, math.NaN(), 6}}, -1)
	if s.Min == nil || *s.Min != 1 || *s.Max != 6 || *s.Mean != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
	if math.Abs(s.ValidFraction-4.0/6) > 1e-9 {
		t.Errorf("expected valid fraction 0.67 got %f", s.ValidFraction)
	}
	s = Stats(raster.Variable{Name: "B02", Data: []float64{-1, -1}}, -1)
	if s.Min != nil || s.ValidFraction != 0 {
		t.Errorf("expected no stats got %+v", s)
	}
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig(common.Resolution{Value: 10})
	if err := cfg.Validate(); err != nil {
		t.Error(err)
	}
	if !math.IsNaN(cfg.NoData) || cfg.Resampling != ResamplingNearest {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	cfg.Resampling = "lanczos3"
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected error on unknown resampling")
	}
	cfg = Config{Bands: []string{"B02"}}
	if !cfg.wantBand("B02") || cfg.wantBand("B03") {
		t.Errorf("unexpected band selection")
	}
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected error on missing resolution")
	}
}

func TestGDALPath(t *testing.T) {
	for in, out := range map[string]string{
		"s3://bucket/a.tif":        "/vsis3/bucket/a.tif",
		"https://host/a.tif":       "/vsicurl/https://host/a.tif",
		"gs://bucket/a.tif":        "gs://bucket/a.tif",
		"/tmp/S2_B02_20210101.tif": "/tmp/S2_B02_20210101.tif",
	} {
		if p := GDALPath(in); p != out {
			t.Errorf("%s: expected %s got %s", in, out, p)
		}
	}
}
