package copernicus

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/drnhhl/terragon/common"
	"github.com/go-spatial/geom"
)

const page1 = `{
 "@odata.nextLink": "%s/Products?page=2",
 "value": [
  {
   "Id": "a1b2c3d4-0000-0000-0000-000000000001",
   "Name": "S2A_MSIL2A_20210101T105441_N0214_R051_T31TCJ_20210101T130543.SAFE",
   "ContentDate": {"Start": "2021-01-01T10:54:41.024Z"},
   "GeoFootprint": {"type": "Polygon", "coordinates": [[[0.5,43.2],[1.8,43.2],[1.8,44.2],[0.5,44.2],[0.5,43.2]]]},
   "Attributes": [
    {"Name": "cloudCover", "Value": 12.5, "ValueType": "Double"},
    {"Name": "productType", "Value": "S2MSI2A", "ValueType": "String"},
    {"Name": "tileId", "Value": "31TCJ", "ValueType": "String"}
   ]
  }
 ]
}`

const page2 = `{
 "value": [
  {
   "Id": "a1b2c3d4-0000-0000-0000-000000000002",
   "Name": "S2B_MSIL2A_20210103T105339_N0214_R051_T31TCJ_20210103T120112.SAFE",
   "ContentDate": {"Start": "2021-01-03T10:53:39.024Z"},
   "GeoFootprint": {"type": "Polygon", "coordinates": [[[0.5,43.2],[1.8,43.2],[1.8,44.2],[0.5,44.2],[0.5,43.2]]]},
   "Attributes": [
    {"Name": "productType", "Value": "S2MSI2A", "ValueType": "String"}
   ]
  },
  {
   "Id": "a1b2c3d4-0000-0000-0000-000000000003",
   "Name": "S2B_MSIL2A_20210103T105339_N0214_R051_T31TCK_20210103T120112.SAFE",
   "ContentDate": {"Start": "not a date"}
  }
 ]
}`

func TestQuery(t *testing.T) {
	q := common.QueryParameters{
		AOI:             common.AOI{Geometry: geom.Polygon{{{1, 43}, {2, 43}, {2, 44}, {1, 44}, {1, 43}}}, CRS: "EPSG:4326"},
		Collection:      "sentinel-2",
		TimeRange:       common.TimeRange{Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2021, 1, 31, 0, 0, 0, 0, time.UTC)},
		ProcessingLevel: "L2A",
		MaxCloudCover:   30,
		Filter:          map[string]string{"filename": "*T31TCJ*"},
	}
	query, err := Query(q)
	if err != nil {
		t.Fatal(err)
	}
	for _, expected := range []string{
		"Collection/Name eq 'SENTINEL-2'",
		"OData.CSC.Intersects(area=geography'SRID=4326;POLYGON (",
		"ContentDate/Start ge 2021-01-01T00:00:00.000Z",
		"ContentDate/Start le 2021-01-31T23:59:59.999Z",
		"att/OData.CSC.StringAttribute/Value eq 'S2MSI2A'",
		"att/OData.CSC.DoubleAttribute/Value le 30",
		"contains(Name,'T31TCJ')",
	} {
		if !strings.Contains(query, expected) {
			t.Errorf("expected %s in query %s", expected, query)
		}
	}
}

func TestSearch(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, page2)
			return
		}
		if !strings.Contains(r.URL.Query().Get("$filter"), "SENTINEL-2") {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, page1, server.URL)
	}))
	defer server.Close()

	s := Searcher{URL: server.URL}
	scenes, err := s.Search(context.Background(), common.QueryParameters{Collection: "sentinel-2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(scenes))
	}
	s0 := scenes[0]
	if s0.ID != "S2A_MSIL2A_20210101T105441_N0214_R051_T31TCJ_20210101T130543" {
		t.Errorf("unexpected id %s", s0.ID)
	}
	if s0.CloudCoverOr(-1) != 12.5 {
		t.Errorf("expected cloud cover 12.5, got %v", s0.CloudCoverOr(-1))
	}
	if s0.TileID != "31TCJ" || s0.ProcessingLevel != "L2A" {
		t.Errorf("unexpected tile %s or level %s", s0.TileID, s0.ProcessingLevel)
	}
	if href := s0.Assets["PRODUCT"].Href; href != server.URL+"/Products(a1b2c3d4-0000-0000-0000-000000000001)/$value" {
		t.Errorf("unexpected product href %s", href)
	}
	if s0.Geometry == nil {
		t.Error("expected a footprint")
	}
	if scenes[1].CloudCover != nil {
		t.Error("expected an unknown cloud cover")
	}
	if scenes[1].TileID != "T31TCJ" {
		t.Errorf("expected tile from the product id, got %s", scenes[1].TileID)
	}

	s.MaxResults = 1
	if scenes, err = s.Search(context.Background(), common.QueryParameters{Collection: "sentinel-2"}); err != nil || len(scenes) != 1 {
		t.Errorf("expected 1 scene, got %d (%v)", len(scenes), err)
	}
}

func TestCollections(t *testing.T) {
	s := Searcher{}
	collections, _ := s.Collections(context.Background(), "sentinel-1")
	if len(collections) != 1 || collections[0] != "SENTINEL-1" {
		t.Errorf("unexpected collections %v", collections)
	}
}
