package common

import (
	"time"

	"github.com/go-spatial/geom"
)

// Asset is one downloadable file of a scene
type Asset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// SceneReference is one catalog item: an identifier, its assets (band name to url or path)
// and some quality metadata. It is produced by a provider search and consumed by its download step.
type SceneReference struct {
	ID              string                 `json:"id"`
	Collection      string                 `json:"collection"`
	Date            time.Time              `json:"date"`
	Assets          map[string]Asset       `json:"assets"`
	CloudCover      *float64               `json:"cloud_cover,omitempty"`
	ProcessingLevel string                 `json:"processing_level,omitempty"`
	TileID          string                 `json:"tile_id,omitempty"`
	Properties      map[string]interface{} `json:"properties,omitempty"`
	Geometry        geom.Geometry          `json:"-"`
}

// CloudCoverOr returns the cloud cover of the scene or def if unknown
func (s SceneReference) CloudCoverOr(def float64) float64 {
	if s.CloudCover == nil {
		return def
	}
	return *s.CloudCover
}

// Property returns the string representation of a property of the scene
func (s SceneReference) Property(key string) (string, bool) {
	switch key {
	case "id":
		return s.ID, true
	case "collection":
		return s.Collection, s.Collection != ""
	case "processing_level":
		return s.ProcessingLevel, s.ProcessingLevel != ""
	case "tile_id":
		return s.TileID, s.TileID != ""
	}
	v, ok := s.Properties[key]
	if !ok || v == nil {
		return "", false
	}
	return formatProperty(v), true
}
