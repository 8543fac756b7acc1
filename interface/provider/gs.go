package provider

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/geocube/interface/storage/gcs"
	"github.com/drnhhl/terragon/service"
	"google.golang.org/api/iterator"
)

// findBlob returns the uri of the first blob matching the pattern (path.Match syntax: "*" does not match "/")
func findBlob(ctx context.Context, pattern string) (string, error) {
	bucket, blob, err := gcs.Parse(pattern)
	if err != nil {
		return "", err
	}
	if _, err := path.Match(blob, ""); err != nil {
		return "", service.MakeFatal(fmt.Errorf("findBlob[%s]: %w", pattern, err))
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("findBlob.NewClient: %w", err)
	}
	defer client.Close()

	prefix := blob[:strings.IndexAny(blob, "*?[")]
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return "", ErrProductNotFound{pattern}
		}
		if err != nil {
			return "", fmt.Errorf("findBlob.List[gs://%s/%s]: %w", bucket, prefix, err)
		}
		if ok, _ := path.Match(blob, attrs.Name); ok {
			return "gs://" + bucket + "/" + attrs.Name, nil
		}
	}
}

// fetchGS downloads a blob. The uri may contain wildcards (*, ?): the first matching blob is downloaded.
func fetchGS(ctx context.Context, uri, localFile string) error {
	if strings.ContainsAny(uri, "*?") {
		var err error
		if uri, err = findBlob(ctx, uri); err != nil {
			return fmt.Errorf("fetchGS.%w", err)
		}
	}
	gs, err := gcs.NewGsStrategy(ctx)
	if err != nil {
		return fmt.Errorf("fetchGS.NewGsStrategy: %w", err)
	}
	if err := gs.DownloadToFile(ctx, uri, localFile); err != nil {
		if strings.Contains(err.Error(), storage.ErrObjectNotExist.Error()) {
			return fmt.Errorf("fetchGS: %w", ErrProductNotFound{uri})
		}
		return service.MakeTemporary(fmt.Errorf("fetchGS.DownloadToFile: %w", err))
	}
	return nil
}
