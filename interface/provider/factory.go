package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/drnhhl/terragon/interface/catalog/copernicus"
	"github.com/drnhhl/terragon/service"
	"golang.org/x/oauth2"
)

// Options configures the providers created by New
type Options struct {
	// Items is the STAC ItemCollection (local file or url) used as catalog by the stac, order and imageservice providers
	Items string `toml:"items"`
	// CatalogURL of the OData catalog searched by the order provider when no Items is given (default: copernicus.CopernicusODataURL)
	CatalogURL string `toml:"catalog_url"`
	// Path is the root directory of the local provider
	Path string `toml:"path"`
	// DownloadURL of the order provider (default: CopernicusDownloadURL)
	DownloadURL string `toml:"download_url"`
	// URLPattern of the imageservice provider
	URLPattern string `toml:"url_pattern"`

	// Token is a static bearer token. Otherwise, a token is requested to TokenURL with User/Password.
	Token    string `toml:"token"`
	TokenURL string `toml:"token_url"`
	ClientID string `toml:"client_id"`
	User     string `toml:"user"`
	Password string `toml:"password"`

	S3  S3Config  `toml:"s3"`
	FTP FTPConfig `toml:"ftp"`
}

func (o Options) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	switch {
	case o.Token != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: o.Token, TokenType: "Bearer"}), nil
	case o.User != "":
		tokenURL := o.TokenURL
		if tokenURL == "" {
			tokenURL = CopernicusTokenURL
		}
		return PasswordTokenSource(ctx, tokenURL, o.ClientID, o.User, o.Password)
	}
	return nil, nil
}

func (o Options) fetcher(token oauth2.TokenSource) *Fetcher {
	return &Fetcher{Auth: service.Auth{Token: token}, S3: o.S3, FTP: o.FTP}
}

// Names of the providers supported by New
const (
	NameSTAC         = "stac"
	NameOrder        = "order"
	NameImageService = "imageservice"
	NameLocal        = "local"
)

// New creates the provider given its name (stac, order, imageservice or local)
func New(ctx context.Context, name string, opts Options) (Provider, error) {
	name = strings.ToLower(name)
	if name == NameLocal {
		if opts.Path == "" {
			return nil, service.ErrConfiguration{Param: "path", Reason: "required by the local provider"}
		}
		return NewLocalProvider(opts.Path), nil
	}
	switch name {
	case NameSTAC, NameOrder, NameImageService:
	default:
		return nil, service.ErrConfiguration{Param: "provider", Reason: fmt.Sprintf("unknown provider '%s'", name)}
	}

	if opts.Items == "" && name != NameOrder {
		return nil, service.ErrConfiguration{Param: "items", Reason: "required by the " + name + " provider"}
	}
	token, err := opts.tokenSource(ctx)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("provider.New.%w", err))
	}
	catalog := NewSTACProvider(opts.Items, opts.fetcher(token))

	switch name {
	case NameOrder:
		if opts.Items == "" {
			return NewOrderProvider(&copernicus.Searcher{URL: opts.CatalogURL}, opts.DownloadURL, token), nil
		}
		return NewOrderProvider(catalog, opts.DownloadURL, token), nil
	case NameImageService:
		if opts.URLPattern == "" {
			return nil, service.ErrConfiguration{Param: "url_pattern", Reason: "required by the imageservice provider"}
		}
		return NewImageServiceProvider(catalog, opts.URLPattern, opts.fetcher(token)), nil
	}
	return catalog, nil
}
