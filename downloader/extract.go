package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
	"github.com/google/uuid"
	"github.com/mholt/archiver"
)

// ExtractArchive extracts the archive into a staging directory of outDir, then moves its content into outDir.
// Existing entries of outDir are replaced. Returns the paths of the moved entries.
func ExtractArchive(archive, outDir string) ([]string, error) {
	staging := filepath.Join(outDir, "."+uuid.New().String())
	if err := os.MkdirAll(staging, 0766); err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("ExtractArchive.MkdirAll: %w", err))
	}
	defer os.RemoveAll(staging)

	if err := archiver.Unarchive(archive, staging); err != nil {
		return nil, service.ErrIO{File: archive, Err: err}
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return nil, service.ErrIO{File: archive, Err: err}
	}
	var paths []string
	for _, entry := range entries {
		dst := filepath.Join(outDir, entry.Name())
		if err := os.RemoveAll(dst); err != nil {
			return nil, service.ErrIO{File: dst, Err: err}
		}
		if err := os.Rename(filepath.Join(staging, entry.Name()), dst); err != nil {
			return nil, service.ErrIO{File: dst, Err: err}
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

// Extract extracts the archives into outDir. An archive that cannot be extracted is logged and skipped.
// If deleteSource, the extracted archives are removed.
// Returns the paths of the extracted entries, or ErrEmptyResult if no archive could be extracted.
func Extract(ctx context.Context, archives []string, outDir string, deleteSource bool) ([]string, error) {
	var paths []string
	for _, archive := range archives {
		p, err := ExtractArchive(archive, outDir)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("unable to extract %s: %v", archive, err)
			continue
		}
		paths = append(paths, p...)
		if deleteSource {
			if err := os.Remove(archive); err != nil {
				log.Logger(ctx).Sugar().Warnf("unable to delete %s: %v", archive, err)
			}
		}
	}
	if len(paths) == 0 && len(archives) != 0 {
		return nil, service.ErrEmptyResult{Step: "extract"}
	}
	return paths, nil
}
