package provider

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/drnhhl/terragon/common"
	"github.com/drnhhl/terragon/service"
	"golang.org/x/oauth2"
)

const (
	// CopernicusDownloadURL serves the whole products of the Copernicus Data Space as zip archives
	CopernicusDownloadURL = "https://zipper.dataspace.copernicus.eu/odata/v1/"
	// CopernicusTokenURL delivers the download tokens of the Copernicus Data Space
	CopernicusTokenURL = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"
	copernicusClientID = "cdse-public"

	// ProductAsset is the key of the asset referencing the whole product
	ProductAsset = "PRODUCT"
)

// PasswordTokenSource returns a TokenSource from a password grant. The token is refreshed by the TokenSource.
func PasswordTokenSource(ctx context.Context, tokenURL, clientID, user, password string) (oauth2.TokenSource, error) {
	if clientID == "" {
		clientID = copernicusClientID
	}
	conf := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	token, err := conf.PasswordCredentialsToken(ctx, user, password)
	if err != nil {
		return nil, fmt.Errorf("PasswordTokenSource: %w", err)
	}
	return conf.TokenSource(ctx, token), nil
}

// OrderProvider implements Provider for services delivering whole products as archives
// (Copernicus Data Space like). The search is delegated to a Searcher (the OData catalog or a STAC catalog)
// and the archive url is derived from the product asset of the scene.
// The archives are not extracted (see downloader.Extract).
type OrderProvider struct {
	searcher    Searcher
	downloadURL string
	fetcher     *Fetcher
}

// NewOrderProvider creates a new OrderProvider. Token may be nil for public products.
func NewOrderProvider(searcher Searcher, downloadURL string, token oauth2.TokenSource) *OrderProvider {
	if downloadURL == "" {
		downloadURL = CopernicusDownloadURL
	}
	return &OrderProvider{
		searcher:    searcher,
		downloadURL: downloadURL,
		fetcher:     &Fetcher{Auth: service.Auth{Token: token}, CopyAuthOnRedirect: true},
	}
}

// Name implements ImageProvider
func (p *OrderProvider) Name() string {
	return "Order"
}

// Search implements Searcher
func (p *OrderProvider) Search(ctx context.Context, q common.QueryParameters) ([]common.SceneReference, error) {
	return p.searcher.Search(ctx, q)
}

// Collections implements Searcher
func (p *OrderProvider) Collections(ctx context.Context, filter string) ([]string, error) {
	return p.searcher.Collections(ctx, filter)
}

// productURL returns the download url of the product: the last two parts of the href of the product asset
// (i.e. Products(<uuid>)/$value) relative to the download url
func (p *OrderProvider) productURL(scene common.SceneReference) (string, error) {
	asset, ok := scene.Assets[ProductAsset]
	if !ok || asset.Href == "" {
		return "", ErrProductNotFound{scene.ID}
	}
	parts := strings.Split(strings.TrimRight(asset.Href, "/"), "/")
	if len(parts) < 2 {
		return "", service.ErrDataFormat{File: scene.ID, Reason: "unexpected product href: " + asset.Href}
	}
	return strings.TrimRight(p.downloadURL, "/") + "/" + strings.Join(parts[len(parts)-2:], "/"), nil
}

// Download implements ImageProvider. The whole product is downloaded whatever the bands.
func (p *OrderProvider) Download(ctx context.Context, scene common.SceneReference, bands []string, localDir string) ([]string, error) {
	url, err := p.productURL(scene)
	if err != nil {
		return nil, fmt.Errorf("OrderProvider.%w", err)
	}
	id, _, _ := strings.Cut(scene.ID, ".")
	localZip := filepath.Join(localDir, service.ProductFileName(id, service.ExtensionZIP))
	if err := p.fetcher.Fetch(ctx, url, localZip); err != nil {
		return nil, service.ErrItemUnavailable{Item: scene.ID, Err: fmt.Errorf("OrderProvider.%w", err)}
	}
	return []string{localZip}, nil
}
