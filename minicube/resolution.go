package minicube

import (
	"fmt"
	"math"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/geometry"
)

// ResolveResolution returns the resolution expressed in the units of the CRS of the AOI.
// Meters are converted to degrees if the CRS is geographic, by measuring at the centroid of the AOI
// the distance between two points one resolution apart in the local UTM zone.
// A resolution in CRS units, or in meters on a projected CRS, is returned unchanged.
func ResolveResolution(aoi common.AOI, resolution common.Resolution) (float64, error) {
	if resolution.Value <= 0 || math.IsNaN(resolution.Value) || math.IsInf(resolution.Value, 0) {
		return 0, service.ErrConfiguration{Param: "resolution", Reason: fmt.Sprintf("must be strictly positive (got %v)", resolution.Value)}
	}
	if resolution.Unit == common.UnitCRS {
		return resolution.Value, nil
	}
	geographic, err := geometry.IsGeographic(aoi.CRS)
	if err != nil {
		return 0, fmt.Errorf("ResolveResolution.%w", err)
	}
	if !geographic {
		return resolution.Value, nil
	}
	deg, err := metersToCRSUnits(aoi, resolution.Value)
	if err != nil {
		return 0, fmt.Errorf("ResolveResolution.%w", err)
	}
	return deg, nil
}

// MetersFromCRSUnits is the inverse of ResolveResolution: it returns the length in meters of a resolution
// expressed in the units of the CRS of the AOI, measured northward from the centroid of the AOI.
func MetersFromCRSUnits(aoi common.AOI, value float64) (float64, error) {
	if value <= 0 {
		return 0, service.ErrConfiguration{Param: "resolution", Reason: fmt.Sprintf("must be strictly positive (got %v)", value)}
	}
	geographic, err := geometry.IsGeographic(aoi.CRS)
	if err != nil {
		return 0, fmt.Errorf("MetersFromCRSUnits.%w", err)
	}
	if !geographic {
		return value, nil
	}
	utm, err := geometry.UTMCRS(aoi)
	if err != nil {
		return 0, fmt.Errorf("MetersFromCRSUnits.%w", err)
	}
	x, y, err := geometry.Centroid(aoi.Geometry)
	if err != nil {
		return 0, fmt.Errorf("MetersFromCRSUnits.%w", err)
	}
	trn, err := geometry.NewTransformer(aoi.CRS, utm)
	if err != nil {
		return 0, fmt.Errorf("MetersFromCRSUnits.%w", err)
	}
	defer trn.Close()
	xs, ys := []float64{x, x}, []float64{y, y + value}
	if err := trn.Transform(xs, ys); err != nil {
		return 0, fmt.Errorf("MetersFromCRSUnits.%w", err)
	}
	return math.Hypot(xs[1]-xs[0], ys[1]-ys[0]), nil
}

func metersToCRSUnits(aoi common.AOI, meters float64) (float64, error) {
	utm, err := geometry.UTMCRS(aoi)
	if err != nil {
		return 0, err
	}
	x, y, err := geometry.Centroid(aoi.Geometry)
	if err != nil {
		return 0, err
	}
	toUTM, err := geometry.NewTransformer(aoi.CRS, utm)
	if err != nil {
		return 0, err
	}
	defer toUTM.Close()
	ux, uy, err := toUTM.TransformPoint(x, y)
	if err != nil {
		return 0, err
	}

	fromUTM, err := geometry.NewTransformer(utm, aoi.CRS)
	if err != nil {
		return 0, err
	}
	defer fromUTM.Close()
	xs, ys := []float64{ux, ux}, []float64{uy, uy + meters}
	if err := fromUTM.Transform(xs, ys); err != nil {
		return 0, err
	}
	return math.Hypot(xs[1]-xs[0], ys[1]-ys[0]), nil
}
