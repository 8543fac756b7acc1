package copernicus

import (
	"context"
	"encoding/json"
	"fmt"
	neturl "net/url"
	"sort"
	"strings"
	"time"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/geometry"
	"github.com/drnhhl/terragon/service/log"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/go-spatial/geom/encoding/wkt"
)

const (
	CopernicusPageLimit     = 1000
	CopernicusODataURL      = "https://catalogue.dataspace.copernicus.eu/odata/v1/"
	copernicusProductsQuery = "Products?$filter="
)

// Collections of the Copernicus Data Space
var Collections = []string{"SENTINEL-1", "SENTINEL-2", "SENTINEL-3", "SENTINEL-5P", "SENTINEL-6", "LANDSAT-5", "LANDSAT-7", "LANDSAT-8", "COP-DEM"}

// productTypes maps the processing levels to the product types of the Copernicus Data Space
var productTypes = map[string]map[string]string{
	"SENTINEL-1": {"L0": "RAW", "L1": "GRD", "SLC": "SLC", "GRD": "GRD"},
	"SENTINEL-2": {"L1C": "S2MSI1C", "L2A": "S2MSI2A"},
}

// Searcher searches the products of the Copernicus Data Space with the OData API
type Searcher struct {
	// URL of the OData API (default: CopernicusODataURL)
	URL string
	// PageLimit is the number of products per request (default: CopernicusPageLimit)
	PageLimit int
	// MaxResults stops the search (0: no limit)
	MaxResults int
}

func (s *Searcher) baseURL() string {
	if s.URL == "" {
		return CopernicusODataURL
	}
	return strings.TrimRight(s.URL, "/") + "/"
}

// Collections returns the collections of the Copernicus Data Space whose name contains filter (case-insensitive)
func (s *Searcher) Collections(ctx context.Context, filter string) ([]string, error) {
	var collections []string
	for _, c := range Collections {
		if strings.Contains(strings.ToLower(c), strings.ToLower(filter)) {
			collections = append(collections, c)
		}
	}
	sort.Strings(collections)
	return collections, nil
}

// Query returns the OData filter of the query parameters
func Query(q common.QueryParameters) (string, error) {
	collection := strings.ToUpper(q.Collection)
	var parameters []string
	parameters = append(parameters, fmt.Sprintf("Collection/Name eq '%s'", collection))

	// AOI
	if !q.AOI.IsEmpty() {
		aoi, err := geometry.Reproject(q.AOI, geometry.WGS84)
		if err != nil {
			return "", fmt.Errorf("Query.%w", err)
		}
		aoiWKT, err := wkt.EncodeString(aoi.Geometry)
		if err != nil {
			return "", fmt.Errorf("Query.ToWKT: %w", err)
		}
		parameters = append(parameters, "OData.CSC.Intersects(area=geography'SRID=4326;"+aoiWKT+"')")
	}

	// Time
	if !q.TimeRange.Start.IsZero() {
		parameters = append(parameters, fmt.Sprintf("ContentDate/Start ge %s", q.TimeRange.Start.UTC().Format("2006-01-02T15:04:05.000Z")))
	}
	if !q.TimeRange.End.IsZero() {
		// End is inclusive at day precision
		end := q.TimeRange.End.UTC()
		if end.Equal(end.Truncate(24 * time.Hour)) {
			end = end.Add(24*time.Hour - time.Millisecond)
		}
		parameters = append(parameters, fmt.Sprintf("ContentDate/Start le %s", end.Format("2006-01-02T15:04:05.000Z")))
	}

	// Product type
	if q.ProcessingLevel != "" {
		productType := q.ProcessingLevel
		if pt, ok := productTypes[collection][strings.ToUpper(productType)]; ok {
			productType = pt
		}
		parameters = append(parameters, stringAttribute("productType", productType))
	}
	if q.MaxCloudCover > 0 {
		parameters = append(parameters, fmt.Sprintf("Attributes/OData.CSC.DoubleAttribute/any(att:att/Name eq 'cloudCover' and att/OData.CSC.DoubleAttribute/Value le %g)", q.MaxCloudCover))
	}

	// User-defined attributes
	keys := make([]string, 0, len(q.Filter))
	for k := range q.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "filename" {
			parameters = append(parameters, fmt.Sprintf("contains(Name,'%s')", strings.Trim(q.Filter[k], "*")))
			continue
		}
		parameters = append(parameters, stringAttribute(k, q.Filter[k]))
	}
	return strings.Join(parameters, " and "), nil
}

func stringAttribute(name, value string) string {
	return fmt.Sprintf("Attributes/OData.CSC.StringAttribute/any(att:att/Name eq '%s' and att/OData.CSC.StringAttribute/Value eq '%s')", name, value)
}

// Search implements provider.Searcher
func (s *Searcher) Search(ctx context.Context, q common.QueryParameters) ([]common.SceneReference, error) {
	query, err := Query(q)
	if err != nil {
		return nil, fmt.Errorf("Copernicus.Search.%w", err)
	}

	rawscenes, err := s.queryCopernicus(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("Copernicus.Search.%w", err)
	}

	scenes := make([]common.SceneReference, 0, len(rawscenes))
	for _, rawscene := range rawscenes {
		scene, err := s.scene(q.Collection, rawscene)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("[Copernicus] skip %s: %v", rawscene.Identifier, err)
			continue
		}
		scenes = append(scenes, scene)
	}
	return scenes, nil
}

func (s *Searcher) scene(collection string, rawscene Hits) (common.SceneReference, error) {
	date, err := time.Parse(time.RFC3339Nano, rawscene.ContentDate.BeginPosition)
	if err != nil {
		return common.SceneReference{}, service.ErrDataFormat{File: rawscene.Identifier, Reason: err.Error()}
	}
	id := strings.TrimSuffix(rawscene.Identifier, ".SAFE")
	scene := common.SceneReference{
		ID:         id,
		Collection: collection,
		Date:       date.UTC(),
		Assets: map[string]common.Asset{
			"PRODUCT": {Href: s.baseURL() + fmt.Sprintf("Products(%s)/$value", rawscene.UUID), Type: "application/zip"},
		},
		ProcessingLevel: rawscene.AttributesMap["productType"],
		TileID:          rawscene.AttributesMap["tileId"],
		Properties:      map[string]interface{}{},
		Geometry:        rawscene.Footprint.Geometry,
	}
	for k, v := range rawscene.AttributesMap {
		scene.Properties[k] = v
	}
	scene.Properties["uuid"] = rawscene.UUID
	if cc, ok := rawscene.CloudCover(); ok {
		scene.CloudCover = &cc
	}
	if info, err := common.Info(id); err == nil {
		if level := info["PRODUCT_LEVEL"]; level != "" {
			scene.ProcessingLevel = level
		}
		if scene.TileID == "" {
			scene.TileID = info["TILE"]
		}
	}
	return scene, nil
}

// Hits is a product returned by the OData API
type Hits struct {
	UUID        string           `json:"Id"`
	Identifier  string           `json:"Name"`
	Footprint   geojson.Geometry `json:"GeoFootprint"`
	ContentDate struct {
		BeginPosition string `json:"Start"`
	} `json:"ContentDate"`
	Attributes []struct {
		Name      string      `json:"Name"`
		Value     interface{} `json:"Value"`
		ValueType string      `json:"ValueType"`
	} `json:"Attributes"`
	AttributesMap map[string]string `json:"-"`
	cloudCover    *float64
}

// CloudCover returns the cloudCover attribute of the product
func (h Hits) CloudCover() (float64, bool) {
	if h.cloudCover == nil {
		return 0, false
	}
	return *h.cloudCover, true
}

func (s *Searcher) queryCopernicus(ctx context.Context, query string) ([]Hits, error) {
	limit := s.PageLimit
	if limit <= 0 {
		limit = CopernicusPageLimit
	}
	// Pagging
	var rawscenes []Hits
	url := s.baseURL() + copernicusProductsQuery + neturl.QueryEscape(query) + fmt.Sprintf("&$orderby=ContentDate/Start&$top=%d&$expand=Attributes", limit)

	for page := 1; url != ""; page++ {
		log.Logger(ctx).Sugar().Debugf("[Copernicus] Search page %d", page)
		jsonResults, err := service.GetBodyRetry(ctx, url, 3)
		if err != nil {
			return nil, fmt.Errorf("queryCopernicus: %w", err)
		}

		//JSON
		results := struct {
			Status int    `json:"status"`
			Next   string `json:"@odata.nextLink"`
			Hits   []Hits `json:"value"`
		}{}

		// Read results to retrieve scenes
		if err := json.Unmarshal(jsonResults, &results); err != nil {
			return nil, service.ErrDataFormat{File: "odata", Reason: fmt.Sprintf("%v (response: %s)", err, jsonResults)}
		}

		if results.Status != 0 && results.Status != 200 {
			return nil, fmt.Errorf("queryCopernicus: http status: %d (response: %s)", results.Status, jsonResults)
		}

		for i, hit := range results.Hits {
			results.Hits[i].AttributesMap = map[string]string{}
			for _, elem := range hit.Attributes {
				if f, ok := elem.Value.(float64); ok && elem.Name == "cloudCover" {
					results.Hits[i].cloudCover = &f
				}
				results.Hits[i].AttributesMap[elem.Name] = fmt.Sprintf("%v", elem.Value)
			}
			results.Hits[i].Attributes = nil
		}

		// Merge the results
		rawscenes = append(rawscenes, results.Hits...)
		if s.MaxResults > 0 && len(rawscenes) >= s.MaxResults {
			return rawscenes[:s.MaxResults], nil
		}

		// Is there a next page ?
		url = results.Next
	}

	return rawscenes, nil
}
