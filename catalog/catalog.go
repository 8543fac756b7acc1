package catalog

import (
	"context"
	"fmt"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/interface/provider"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
)

// ScenesInventory makes an inventory of the scenes covering the AOI of the query during its time range.
// The searchers are requested in order until one of them succeeds.
func ScenesInventory(ctx context.Context, q common.QueryParameters, searchers ...provider.Searcher) ([]common.SceneReference, error) {
	if len(searchers) == 0 {
		return nil, service.ErrConfiguration{Param: "provider", Reason: "no catalog is configured"}
	}

	log.Logger(ctx).Sugar().Debugf("Search scenes of %s from %v to %v", q.Collection, q.TimeRange.Start, q.TimeRange.End)

	var err, e error
	var scenes []common.SceneReference
	for _, searcher := range searchers {
		scenes, e = searcher.Search(ctx, q)
		if err = service.MergeErrors(false, err, e); err == nil {
			break
		}
		log.Logger(ctx).Sugar().Warnf("search failed: %v", e)
	}
	if err != nil {
		return nil, fmt.Errorf("ScenesInventory.%w", err)
	}

	if scenes, err = Refine(scenes, q); err != nil {
		return nil, fmt.Errorf("ScenesInventory.%w", err)
	}

	log.Logger(ctx).Sugar().Debugf("%d scenes found", len(scenes))

	return scenes, nil
}

// Refine removes the double entries and the scenes outside the AOI.
// If q.MaxCloudCover is set, only one scene is kept per date and tile (see FilterUnique).
// The scenes are returned sorted by date.
func Refine(scenes []common.SceneReference, q common.QueryParameters) ([]common.SceneReference, error) {
	var err error
	scenes = RemoveDoubleEntries(scenes)
	if scenes, err = RemoveOutsideAOI(scenes, q.AOI); err != nil {
		return nil, fmt.Errorf("Refine.%w", err)
	}
	SortByDate(scenes)
	if q.MaxCloudCover > 0 {
		scenes = FilterUnique(scenes, q.ProcessingLevel, q.MaxCloudCover)
	}
	return scenes, nil
}
