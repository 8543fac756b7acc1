package minicube

import (
	"math"
	"regexp"
	"runtime"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/service"
)

// Resampling methods supported by the loader (gdalwarp -r)
const (
	ResamplingNearest  = "near"
	ResamplingBilinear = "bilinear"
	ResamplingCubic    = "cubic"
	ResamplingAverage  = "average"
	ResamplingMode     = "mode"
)

var resamplings = map[string]struct{}{
	ResamplingNearest:  {},
	ResamplingBilinear: {},
	ResamplingCubic:    {},
	ResamplingAverage:  {},
	ResamplingMode:     {},
}

// Config of the minicube pipeline. It is passed by value to every operation.
type Config struct {
	// Bands restricts the cube to these bands (all bands if empty)
	Bands      []string
	Resolution common.Resolution
	// ClipToShape masks the pixels outside the exact geometry (bounding box only otherwise)
	ClipToShape bool
	Workers     int
	NoData      float64
	// TargetCRS of the cube (CRS of the AOI if empty)
	TargetCRS  string
	Resampling string
	// BandPatterns extract the band name from the file name (first match wins)
	BandPatterns []*regexp.Regexp
	// Source and Collection are stamped in the attributes of the cube
	Source     string
	Collection string
}

// DefaultConfig returns a config with NaN nodata, nearest neighbour resampling and one worker per CPU
func DefaultConfig(resolution common.Resolution) Config {
	return Config{
		Resolution:   resolution,
		Workers:      runtime.NumCPU(),
		NoData:       math.NaN(),
		Resampling:   ResamplingNearest,
		BandPatterns: common.DefaultBandPatterns,
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Resampling == "" {
		c.Resampling = ResamplingNearest
	}
	if len(c.BandPatterns) == 0 {
		c.BandPatterns = common.DefaultBandPatterns
	}
	return c
}

// Validate checks the parameters of the config
func (c Config) Validate() error {
	if c.Resolution.Value <= 0 || math.IsNaN(c.Resolution.Value) || math.IsInf(c.Resolution.Value, 0) {
		return service.ErrConfiguration{Param: "resolution", Reason: "must be strictly positive"}
	}
	if c.Resampling != "" {
		if _, ok := resamplings[c.Resampling]; !ok {
			return service.ErrConfiguration{Param: "resampling", Reason: "unsupported method " + c.Resampling}
		}
	}
	return nil
}

// wantBand returns true if the band is requested by the config
func (c Config) wantBand(band string) bool {
	if len(c.Bands) == 0 {
		return true
	}
	for _, b := range c.Bands {
		if b == band {
			return true
		}
	}
	return false
}
