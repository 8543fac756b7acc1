package common

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
)

// AOI is the area of interest: a single polygon (or polygon union) and its CRS
type AOI struct {
	Geometry geom.Geometry
	// CRS is any definition understood by OSR (EPSG:XXXX, WKT, proj4)
	CRS string
}

// IsEmpty returns true if the AOI has no geometry
func (a AOI) IsEmpty() bool {
	switch g := a.Geometry.(type) {
	case nil:
		return true
	case geom.Polygon:
		return len(g) == 0
	case geom.MultiPolygon:
		return len(g) == 0
	}
	return false
}

type aoiJSON struct {
	Geometry json.RawMessage `json:"geometry"`
	CRS      string          `json:"crs"`
}

// MarshalJSON encodes the geometry as GeoJSON
func (a AOI) MarshalJSON() ([]byte, error) {
	g, err := json.Marshal(geojson.Geometry{Geometry: a.Geometry})
	if err != nil {
		return nil, fmt.Errorf("AOI.MarshalJSON: %w", err)
	}
	return json.Marshal(aoiJSON{Geometry: g, CRS: a.CRS})
}

// UnmarshalJSON decodes a GeoJSON geometry
func (a *AOI) UnmarshalJSON(data []byte) error {
	var aj aoiJSON
	if err := json.Unmarshal(data, &aj); err != nil {
		return fmt.Errorf("AOI.UnmarshalJSON: %w", err)
	}
	var g geojson.Geometry
	if err := g.UnmarshalJSON(aj.Geometry); err != nil {
		return fmt.Errorf("AOI.UnmarshalJSON: %w", err)
	}
	a.Geometry, a.CRS = g.Geometry, aj.CRS
	return nil
}

// Unit of a resolution
type Unit int

const (
	// UnitMeters: the resolution is converted to the units of the CRS of the AOI
	UnitMeters Unit = iota
	// UnitCRS: the resolution is already expressed in the units of the CRS of the AOI
	UnitCRS
)

// ParseUnit parses the unit of a resolution
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(s) {
	case "", "m", "meter", "meters", "metre", "metres":
		return UnitMeters, nil
	case "crs", "native", "deg", "degree", "degrees":
		return UnitCRS, nil
	}
	return UnitMeters, fmt.Errorf("unknown resolution unit: %s", s)
}

func (u Unit) String() string {
	if u == UnitCRS {
		return "crs"
	}
	return "m"
}

// MarshalText implements encoding.TextMarshaler
func (u Unit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (u *Unit) UnmarshalText(text []byte) (err error) {
	*u, err = ParseUnit(string(text))
	return err
}

// Resolution with an explicit unit
type Resolution struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

func (r Resolution) String() string {
	return strconv.FormatFloat(r.Value, 'g', -1, 64) + r.Unit.String()
}

// TimeRange is a closed interval of dates. Zero bounds are open.
type TimeRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Contains returns true if t is in the range
func (tr TimeRange) Contains(t time.Time) bool {
	return (tr.Start.IsZero() || !t.Before(tr.Start)) && (tr.End.IsZero() || !t.After(tr.End))
}

// QueryParameters are captured once per session by a search and read-only afterward
type QueryParameters struct {
	AOI        AOI               `json:"aoi"`
	Collection string            `json:"collection"`
	Bands      []string          `json:"bands,omitempty"`
	TimeRange  TimeRange         `json:"time_range"`
	Resolution Resolution        `json:"resolution"`
	Filter     map[string]string `json:"filter,omitempty"`
	// ProcessingLevel is the preferred product level when several products exist for a date and a tile
	ProcessingLevel string `json:"processing_level,omitempty"`
	// MaxCloudCover enables the one-product-per-date-and-tile filter (0: disabled)
	MaxCloudCover float64 `json:"max_cloud_cover,omitempty"`
	OutputDir     string  `json:"output_dir"`
	Workers       int     `json:"workers"`
}

// Operation that requires some parameters
type Operation int

const (
	OpSearch Operation = iota
	OpDownload
	OpMinicube
)

// Missing returns the name of the first required parameter of the operation that is absent ("" if none)
func (q QueryParameters) Missing(op Operation) string {
	switch {
	case q.AOI.IsEmpty():
		return "aoi"
	case q.AOI.CRS == "":
		return "crs"
	case q.Collection == "":
		return "collection"
	case op >= OpDownload && q.OutputDir == "":
		return "output_dir"
	case op >= OpMinicube && q.Resolution.Value == 0:
		return "resolution"
	}
	return ""
}

// Clone returns a deep copy of the parameters
func (q QueryParameters) Clone() QueryParameters {
	c := q
	c.Bands = append([]string(nil), q.Bands...)
	if q.Filter != nil {
		c.Filter = make(map[string]string, len(q.Filter))
		for k, v := range q.Filter {
			c.Filter[k] = v
		}
	}
	return c
}

func formatProperty(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return fmt.Sprint(v)
}
