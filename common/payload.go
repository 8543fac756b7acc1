package common

import (
	"encoding/json"
)

// MinicubeJob is the payload of a request to build a minicube (http api and job queue)
type MinicubeJob struct {
	ID string `json:"id"`
	// AOI is a GeoJSON geometry, feature or feature collection
	AOI             json.RawMessage   `json:"aoi"`
	CRS             string            `json:"crs"`
	TargetCRS       string            `json:"target_crs,omitempty"`
	Collection      string            `json:"collection"`
	Bands           []string          `json:"bands,omitempty"`
	Start           string            `json:"start,omitempty"`
	End             string            `json:"end,omitempty"`
	Resolution      float64           `json:"resolution"`
	ResolutionUnit  Unit              `json:"resolution_unit"`
	ClipToShape     bool              `json:"clip_to_shape"`
	Filter          map[string]string `json:"filter,omitempty"`
	ProcessingLevel string            `json:"processing_level,omitempty"`
	MaxCloudCover   float64           `json:"max_cloud_cover,omitempty"`
	Workers         int               `json:"workers,omitempty"`
	// Items is a STAC ItemCollection (url or path) searched instead of the catalog of the worker
	Items string `json:"items,omitempty"`
}

// Result of a minicube job
type Result struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Manifest string `json:"manifest,omitempty"`
}
