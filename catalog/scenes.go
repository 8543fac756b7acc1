package catalog

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/service/geometry"
)

const (
	// DefaultMaxCloudCover is used by FilterUnique when maxCloudCover is not positive
	DefaultMaxCloudCover = 50.
	// unknownCloudCover is the cloud cover of a scene that does not report it
	unknownCloudCover = 100.
)

// ProductName returns the identifier of the scene without the product discriminator,
// that changes when a product is re-processed.
func ProductName(id string) string {
	id = strings.TrimSuffix(id, ".SAFE")
	switch common.GetConstellationFromProductId(id) {
	case common.Sentinel1:
		if len(id) >= 63 {
			return id[0:63]
		}
	case common.Sentinel2:
		if len(id) >= 44 {
			return id[0:44]
		}
	}
	return id
}

// updated returns a string that increases with the version of the product
func updated(s common.SceneReference) string {
	if u, ok := s.Property("updated"); ok {
		return u
	}
	if u, ok := s.Property("created"); ok {
		return u
	}
	return s.ID
}

// RemoveDoubleEntries removes acquisitions that appear twice in the inventory.
// A re-processed product has a new identifier, but the same product name. Both are found by a search.
// This routine selects the latest product.
func RemoveDoubleEntries(scenes []common.SceneReference) []common.SceneReference {
	identifiers := map[string]int{}

	j := 0
	for _, scene := range scenes {
		key := scene.Collection + "/" + ProductName(scene.ID)
		if k, ok := identifiers[key]; !ok {
			scenes[j] = scene
			identifiers[key] = j
			j++
		} else if updated(scenes[k]) < updated(scene) {
			scenes[k] = scene
		}
	}

	return scenes[0:j]
}

// RemoveOutsideAOI removes scenes that are located outside the AOI
// The catalogs are searched with a simplified representation of the AOI (usually its bounding box),
// that may include acquisitions that do not overlap the AOI.
// Scenes without footprint are kept.
func RemoveOutsideAOI(scenes []common.SceneReference, aoi common.AOI) ([]common.SceneReference, error) {
	if aoi.IsEmpty() {
		return scenes, nil
	}
	// Footprints of the scenes are in longitude/latitude
	aoi, err := geometry.Reproject(aoi, geometry.WGS84)
	if err != nil {
		return nil, fmt.Errorf("RemoveOutsideAOI.%w", err)
	}
	gaoi, err := geometry.GeomToGeos(aoi.Geometry)
	if err != nil {
		return nil, fmt.Errorf("RemoveOutsideAOI.%w", err)
	}

	// Prepare geometry for intersection
	paoi := gaoi.Prepare()

	j := 0
	for i, scene := range scenes {
		if scene.Geometry != nil {
			footprint, err := geometry.GeomToGeos(scene.Geometry)
			if err != nil {
				return nil, fmt.Errorf("RemoveOutsideAOI[%s].%w", scene.ID, err)
			}
			intersect, err := paoi.Intersects(footprint)
			if err != nil {
				return nil, fmt.Errorf("RemoveOutsideAOI.Intersects: %w", err)
			}
			if !intersect {
				continue
			}
		}
		scenes[j] = scenes[i]
		j++
	}
	runtime.KeepAlive(gaoi)

	return scenes[0:j], nil
}

// FilterUnique keeps at most one scene per acquisition date and tile, whose cloud cover is below maxCloudCover
// (DefaultMaxCloudCover if not positive). A scene with an unknown cloud cover is considered fully cloudy.
// When several scenes are available, the scene with the processingLevel is preferred, then the less cloudy.
// The order of first appearance is preserved.
func FilterUnique(scenes []common.SceneReference, processingLevel string, maxCloudCover float64) []common.SceneReference {
	if maxCloudCover <= 0 {
		maxCloudCover = DefaultMaxCloudCover
	}
	preferred := func(s common.SceneReference) bool {
		return processingLevel != "" && strings.EqualFold(s.ProcessingLevel, processingLevel)
	}

	keys := map[string]int{}
	j := 0
	for _, scene := range scenes {
		cc := scene.CloudCoverOr(unknownCloudCover)
		if cc > maxCloudCover {
			continue
		}
		key := scene.Date.UTC().Format("20060102") + "/" + scene.TileID
		k, ok := keys[key]
		if !ok {
			keys[key] = j
			scenes[j] = scene
			j++
			continue
		}
		kept := scenes[k]
		switch {
		case preferred(scene) && !preferred(kept):
			scenes[k] = scene
		case preferred(scene) == preferred(kept) && cc < kept.CloudCoverOr(unknownCloudCover):
			scenes[k] = scene
		}
	}
	return scenes[0:j]
}

// SortByDate sorts the scenes by acquisition date. Scenes with the same date keep their order.
func SortByDate(scenes []common.SceneReference) {
	sort.SliceStable(scenes, func(i, j int) bool { return scenes[i].Date.Before(scenes[j].Date) })
}
