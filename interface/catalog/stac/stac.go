package stac

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
	"github.com/go-spatial/geom/encoding/geojson"
)

// Link of an item or a collection
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// Item is a STAC Feature
type Item struct {
	Type       string                  `json:"type"`
	ID         string                  `json:"id"`
	Collection string                  `json:"collection,omitempty"`
	Geometry   json.RawMessage         `json:"geometry"`
	BBox       []float64               `json:"bbox,omitempty"`
	Properties map[string]interface{}  `json:"properties"`
	Assets     map[string]common.Asset `json:"assets"`
	Links      []Link                  `json:"links,omitempty"`
}

// ItemCollection is a STAC FeatureCollection, as returned by a search endpoint
type ItemCollection struct {
	Type     string `json:"type"`
	Features []Item `json:"features"`
	Links    []Link `json:"links,omitempty"`
}

// Decode an ItemCollection. A single Item is accepted as a collection of one item.
func Decode(data []byte) (*ItemCollection, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, service.ErrDataFormat{File: "stac", Reason: err.Error()}
	}
	switch header.Type {
	case "FeatureCollection":
		var ic ItemCollection
		if err := json.Unmarshal(data, &ic); err != nil {
			return nil, service.ErrDataFormat{File: "stac", Reason: err.Error()}
		}
		return &ic, nil
	case "Feature":
		var it Item
		if err := json.Unmarshal(data, &it); err != nil {
			return nil, service.ErrDataFormat{File: "stac", Reason: err.Error()}
		}
		return &ItemCollection{Type: "FeatureCollection", Features: []Item{it}}, nil
	}
	return nil, service.ErrDataFormat{File: "stac", Reason: fmt.Sprintf("unexpected type '%s'", header.Type)}
}

// Load an ItemCollection from a local file or an http(s) url
func Load(ctx context.Context, ref string) (*ItemCollection, error) {
	var data []byte
	var err error
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		data, err = service.GetBodyRetry(ctx, ref, 3)
		if err != nil {
			return nil, service.ErrItemUnavailable{Item: ref, Err: err}
		}
	} else if data, err = os.ReadFile(strings.TrimPrefix(ref, "file://")); err != nil {
		return nil, service.ErrIO{File: ref, Err: err}
	}
	ic, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("Load[%s]: %w", ref, err)
	}
	return ic, nil
}

// Date returns the acquisition date of the item (datetime, or start_datetime for ranges)
func (it Item) Date() (time.Time, error) {
	for _, key := range []string{"datetime", "start_datetime"} {
		if s, ok := it.Properties[key].(string); ok && s != "" {
			t, err := dateparse.ParseIn(s, time.UTC)
			if err != nil {
				return time.Time{}, service.ErrDataFormat{File: it.ID, Reason: fmt.Sprintf("%s: %v", key, err)}
			}
			return t.UTC(), nil
		}
	}
	return time.Time{}, service.ErrDataFormat{File: it.ID, Reason: "missing datetime"}
}

func (it Item) float(keys ...string) *float64 {
	for _, key := range keys {
		switch v := it.Properties[key].(type) {
		case float64:
			return &v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func (it Item) str(keys ...string) string {
	for _, key := range keys {
		if s, ok := it.Properties[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (it Item) tileID() string {
	if tile := it.str("s2:mgrs_tile", "grid:code", "tileId", "mgrs:tile"); tile != "" {
		return tile
	}
	if path, row := it.str("landsat:wrs_path"), it.str("landsat:wrs_row"); path != "" && row != "" {
		return path + row
	}
	if info, err := common.Info(it.ID); err == nil {
		return info["TILE"]
	}
	return ""
}

func (it Item) processingLevel() string {
	if level := it.str("processing:level", "processingLevel", "s2:product_type", "productType"); level != "" {
		return level
	}
	if info, err := common.Info(it.ID); err == nil {
		return info["PRODUCT_LEVEL"]
	}
	return ""
}

// Scene converts the item to a SceneReference
func (it Item) Scene() (common.SceneReference, error) {
	date, err := it.Date()
	if err != nil {
		return common.SceneReference{}, err
	}
	scene := common.SceneReference{
		ID:              it.ID,
		Collection:      it.Collection,
		Date:            date,
		Assets:          it.Assets,
		CloudCover:      it.float("eo:cloud_cover", "cloudCover"),
		ProcessingLevel: it.processingLevel(),
		TileID:          it.tileID(),
		Properties:      it.Properties,
	}
	if len(it.Geometry) > 0 && string(it.Geometry) != "null" {
		var g geojson.Geometry
		if err := g.UnmarshalJSON(it.Geometry); err != nil {
			return scene, service.ErrDataFormat{File: it.ID, Reason: "geometry: " + err.Error()}
		}
		scene.Geometry = g.Geometry
	}
	return scene, nil
}

// Scenes converts all the items of the collection. Invalid items are logged and skipped.
func (ic *ItemCollection) Scenes(ctx context.Context) []common.SceneReference {
	scenes := make([]common.SceneReference, 0, len(ic.Features))
	for _, it := range ic.Features {
		scene, err := it.Scene()
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("skipping item %s: %v", it.ID, err)
			continue
		}
		scenes = append(scenes, scene)
	}
	return scenes
}

// Collections returns the sorted list of collections referenced by the items
func (ic *ItemCollection) Collections() []string {
	collections := service.StringSet{}
	for _, it := range ic.Features {
		if it.Collection != "" {
			collections.Push(it.Collection)
		}
	}
	return collections.Slice()
}

