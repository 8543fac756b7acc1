package minicube_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/minicube"
	"github.com/drnhhl/terragon/raster"
	"github.com/drnhhl/terragon/service"
	"github.com/go-spatial/geom"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

const utm31 = "EPSG:32631"

var _ = Describe("Minicube", func() {
	ctx := context.Background()
	aoi := common.AOI{
		Geometry: geom.Polygon{{{500000, 55000}, {500400, 55000}, {500400, 55160}, {500000, 55160}, {500000, 55000}}},
		CRS:      utm31,
	}
	var (
		cfg   minicube.Config
		files []string
	)

	BeforeEach(func() {
		cfg = minicube.DefaultConfig(common.Resolution{Value: 10, Unit: common.UnitMeters})
		cfg.NoData = -9999
		cfg.Workers = 3
		cfg.BandPatterns = []*regexp.Regexp{common.BandCodePattern}
		cfg.Source = "local"
		cfg.Collection = "sentinel-2-l2a"

		files = []string{
			writeTile("T31NAA_20210101_B02_10m.tif", utm31, 500000, 55160, 10, 40, 16, 1, 0),
			writeTile("T31NAA_20210101_B03_10m.tif", utm31, 500000, 55160, 10, 40, 16, 2, 0),
			// covers the western half of the AOI only
			writeTile("T31NAA_20210103_B02_10m.tif", utm31, 500000, 55160, 10, 20, 16, 3, 0),
			// duplicate band at another resolution
			writeTile("T31NAA_20210101_B02_20m.tif", utm31, 500000, 55160, 20, 20, 8, 9, 0),
			// no date
			writeTile("T31NAA_B04_10m.tif", utm31, 500000, 55160, 10, 40, 16, 4, 0),
			// auxiliary file without band
			writeTile("T31NAA_20210101_preview.tif", utm31, 500000, 55160, 10, 40, 16, 5, 0),
		}
	})

	Describe("loading a tile", func() {
		var target minicube.Target
		JustBeforeEach(func() {
			var err error
			target, err = minicube.NewTarget(aoi, cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should compute the grid of the bounding box of the AOI", func() {
			Expect(target.Grid.Width).To(Equal(40))
			Expect(target.Grid.Height).To(Equal(16))
			Expect(target.Dims).To(Equal([2]string{"y", "x"}))
		})

		It("should read an aligned tile", func() {
			tile, err := minicube.LoadTile(ctx, files[2], "B02", target, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tile.Band).To(Equal("B02"))
			Expect(tile.Time).To(Equal(time.Date(2021, 1, 3, 0, 0, 0, 0, time.UTC)))
			Expect(tile.Grid.Width).To(Equal(20))
			Expect(tile.Grid.Height).To(Equal(16))
			Expect(tile.Data).To(HaveEach(3.0))
		})

		It("should resample a tile to the target resolution", func() {
			tile, err := minicube.LoadTile(ctx, files[3], "B02", target, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tile.Grid.Equal(target.Grid)).To(BeTrue())
			Expect(tile.Data).To(HaveEach(9.0))
		})

		It("should reproject a tile to the CRS of the AOI", func() {
			file := writeTile("T31NAA_20210105_B04_geo.tif", "EPSG:4326", 2.99, 0.51, 0.0001, 200, 200, 7, 0)
			tile, err := minicube.LoadTile(ctx, file, "B04", target, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tile.Grid.Equal(target.Grid)).To(BeTrue())
			Expect(tile.Data).To(HaveEach(7.0))
		})

		It("should clip a tile to the bounding box of the AOI", func() {
			file := writeTile("T31NAA_20210106_B05_big.tif", utm31, 499000, 56000, 10, 300, 300, 6, 0)
			tile, err := minicube.LoadTile(ctx, file, "B05", target, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tile.Grid.Equal(target.Grid)).To(BeTrue())
			Expect(tile.Data).To(HaveLen(40 * 16))
		})

		It("should convert the nodata of the source", func() {
			file := writeTile("T31NAA_20210107_B06_nodata.tif", utm31, 500000, 55160, 10, 40, 16, 0, 0)
			tile, err := minicube.LoadTile(ctx, file, "B06", target, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tile.Data).To(HaveEach(-9999.0))
		})

		It("should fail with a data format error if the date is missing", func() {
			_, err := minicube.LoadTile(ctx, files[4], "B04", target, cfg)
			var ferr service.ErrDataFormat
			Expect(errors.As(err, &ferr)).To(BeTrue())
			Expect(ferr.File).To(Equal(files[4]))
		})

		It("should fail if the tile does not overlap the AOI", func() {
			file := writeTile("T31NAA_20210108_B07_far.tif", utm31, 600000, 55160, 10, 40, 16, 1, 0)
			_, err := minicube.LoadTile(ctx, file, "B07", target, cfg)
			var ferr service.ErrDataFormat
			Expect(errors.As(err, &ferr)).To(BeTrue())
		})

		It("should fail with an i/o error if the file is not a raster", func() {
			file := filepath.Join(workdir, "T31NAA_20210109_B08_corrupt.tif")
			Expect(os.WriteFile(file, []byte("not a tiff"), 0o644)).To(Succeed())
			_, err := minicube.LoadTile(ctx, file, "B08", target, cfg)
			var ioerr service.ErrIO
			Expect(errors.As(err, &ioerr)).To(BeTrue())
		})
	})

	Describe("loading a batch of tiles", func() {
		It("should drop the failing tiles", func() {
			target, err := minicube.NewTarget(aoi, cfg)
			Expect(err).NotTo(HaveOccurred())
			tiles, err := minicube.LoadTiles(ctx, files, target, cfg)
			Expect(err).NotTo(HaveOccurred())
			// the 20m duplicate of B02 is not loaded, the file without date fails
			Expect(tiles).To(HaveLen(3))
			Expect(tiles[0].Source).To(Equal(files[0]))
			Expect(tiles[2].Source).To(Equal(files[2]))
		})

		It("should only load the requested bands", func() {
			cfg.Bands = []string{"B03"}
			target, err := minicube.NewTarget(aoi, cfg)
			Expect(err).NotTo(HaveOccurred())
			tiles, err := minicube.LoadTiles(ctx, files, target, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tiles).To(HaveLen(1))
			Expect(tiles[0].Band).To(Equal("B03"))
		})

		It("should fail if no tile can be loaded", func() {
			target, err := minicube.NewTarget(aoi, cfg)
			Expect(err).NotTo(HaveOccurred())
			_, err = minicube.LoadTiles(ctx, files[4:], target, cfg)
			Expect(minicube.IsEmptyResult(err)).To(BeTrue())
		})
	})

	Describe("building a minicube", func() {
		var (
			cube *raster.Cube
			err  error
		)
		JustBeforeEach(func() {
			cube, err = minicube.BuildMinicube(ctx, files, aoi, cfg)
		})

		It("should assemble a time-sorted cube on the bounding box of the AOI", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(cube.Times).To(Equal([]time.Time{
				time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2021, 1, 3, 0, 0, 0, 0, time.UTC),
			}))
			Expect(cube.VariableNames()).To(Equal([]string{"B02", "B03"}))
			b02, _ := cube.Variable("B02")
			Expect(b02.Dims).To(Equal([]string{"time", "y", "x"}))
			Expect(b02.Shape).To(Equal([]int{2, 16, 40}))
			Expect(b02.Data[:640]).To(HaveEach(1.0))
			// second date is padded on the eastern half
			Expect(b02.Data[640]).To(Equal(3.0))
			Expect(b02.Data[640+39]).To(Equal(-9999.0))
			// B03 is missing at the second date
			b03, _ := cube.Variable("B03")
			Expect(b03.Data[640:]).To(HaveEach(-9999.0))
			Expect(cube.Attrs).To(Equal(map[string]string{"crs": utm31, "source": "local", "collection": "sentinel-2-l2a"}))
		})

		Context("with a geographic target CRS", func() {
			BeforeEach(func() {
				cfg.TargetCRS = "EPSG:4326"
			})
			It("should keep approximately the same number of pixels", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(cube.Grid.CRS).To(Equal("EPSG:4326"))
				Expect(cube.Grid.Width).To(BeNumerically("~", 40, 1))
				Expect(cube.Grid.Height).To(BeNumerically("~", 16, 1))
			})
		})

		Context("with an invalid resolution", func() {
			BeforeEach(func() {
				cfg.Resolution.Value = -10
			})
			It("should fail with a configuration error", func() {
				var cerr service.ErrConfiguration
				Expect(errors.As(err, &cerr)).To(BeTrue())
				Expect(cerr.Param).To(Equal("resolution"))
			})
		})

		Context("without any file", func() {
			BeforeEach(func() {
				files = nil
			})
			It("should fail with an empty result error", func() {
				Expect(minicube.IsEmptyResult(err)).To(BeTrue())
			})
		})
	})

	Describe("exporting a minicube", func() {
		It("should write one geotiff per date and a manifest", func() {
			cube, err := minicube.BuildMinicube(ctx, files, aoi, cfg)
			Expect(err).NotTo(HaveOccurred())
			outDir := filepath.Join(workdir, "export")
			manifest, err := minicube.Export(ctx, cube, aoi, outDir, cfg.Collection)
			Expect(err).NotTo(HaveOccurred())
			Expect(manifest.Files).To(HaveLen(2))
			Expect(manifest.Files[0]).To(HavePrefix("sentinel-2-l2a_20210101_"))
			Expect(manifest.Variables).To(HaveLen(2))
			Expect(*manifest.Variables[0].Max).To(Equal(3.0))
			Expect(filepath.Join(outDir, minicube.ManifestFile)).To(BeAnExistingFile())

			ds, err := godal.Open(filepath.Join(outDir, manifest.Files[1]))
			Expect(err).NotTo(HaveOccurred())
			defer ds.Close()
			Expect(ds.Structure().NBands).To(Equal(2))
			Expect(ds.Structure().SizeX).To(Equal(40))
			Expect(ds.Structure().SizeY).To(Equal(16))
			data := make([]float64, 40*16)
			Expect(ds.Bands()[0].Read(0, 0, data, 40, 16)).To(Succeed())
			Expect(data[0]).To(Equal(3.0))
		})
	})
})
