package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cavaliercoder/grab"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
)

// Fetcher copies assets from their uri to local files.
// Supported schemes: http(s), gs, s3, ftp(s) and local paths (with or without file://)
type Fetcher struct {
	// Auth is used for http(s) requests
	Auth service.Auth
	// CopyAuthOnRedirect forwards the Authorization header to the redirection target
	CopyAuthOnRedirect bool
	S3                 S3Config
	FTP                FTPConfig
}

func scheme(href string) string {
	if i := strings.Index(href, "://"); i > 0 {
		return strings.ToLower(href[:i])
	}
	return ""
}

// Fetch copies href to localFile. Nothing is done if localFile already exists.
// A partially written file is removed on failure.
func (f *Fetcher) Fetch(ctx context.Context, href, localFile string) (err error) {
	if _, err := os.Stat(localFile); err == nil {
		log.Logger(ctx).Sugar().Debugf("%s already exists: skipping", localFile)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(localFile), 0755); err != nil {
		return service.MakeTemporary(fmt.Errorf("Fetch.MkdirAll: %w", err))
	}
	defer func() {
		if err != nil {
			os.Remove(localFile)
		}
	}()

	switch s := scheme(href); s {
	case "http", "https":
		err = f.fetchHTTP(ctx, href, localFile)
	case "gs":
		err = fetchGS(ctx, href, localFile)
	case "s3":
		err = f.fetchS3(ctx, href, localFile)
	case "ftp", "ftps":
		err = f.fetchFTP(ctx, href, localFile)
	case "", "file":
		err = copyFile(strings.TrimPrefix(href, "file://"), localFile)
	default:
		return service.MakeFatal(fmt.Errorf("Fetch: unsupported scheme '%s' (%s)", s, href))
	}
	if err != nil {
		return fmt.Errorf("Fetch.%w", err)
	}
	return nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, href, localFile string) error {
	req, err := grab.NewRequest(localFile, href)
	if err != nil {
		return fmt.Errorf("fetchHTTP.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	if err := service.AuthorizeRequest(req.HTTPRequest, f.Auth); err != nil {
		return service.MakeTemporary(fmt.Errorf("fetchHTTP.%w", err))
	}
	if err := download(ctx, req, filepath.Base(localFile), f.CopyAuthOnRedirect); err != nil {
		return fmt.Errorf("fetchHTTP.%w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrProductNotFound{src}
		}
		return fmt.Errorf("copyFile.Open: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("copyFile.Create: %w", err))
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return service.MakeTemporary(fmt.Errorf("copyFile.Copy: %w", err))
	}
	return out.Close()
}
