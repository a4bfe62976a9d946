package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/photosync/internal/scanner"
	"github.com/openmined/photosync/internal/utils"
	"github.com/openmined/photosync/internal/version"
)

const (
	DefaultPhotosAPI   = "https://photoslibrary.googleapis.com"
	DefaultAlbumTitle  = "Fliss & Lorenzo 30/05/26"
	DefaultDescription = "Wedding camera photo"
	DefaultTokenFile   = "token.json"
	DefaultAlbumCache  = "album_id.txt"
	DefaultHTTPTimeout = 60 * time.Second

	HeaderDeviceID = "X-Photosync-Device-Id"

	v1Uploads     = "/v1/uploads"
	v1Albums      = "/v1/albums"
	v1AlbumShare  = "/v1/albums/{albumId}:share"
	v1BatchCreate = "/v1/mediaItems:batchCreate"
)

// PhotosConfig configures delivery to a Google Photos album.
type PhotosConfig struct {
	APIURL      string        `json:"api_url,omitempty" mapstructure:"api_url"`
	TokenFile   string        `json:"token_file" mapstructure:"token_file"`
	AlbumCache  string        `json:"album_cache" mapstructure:"album_cache"`
	AlbumTitle  string        `json:"album_title" mapstructure:"album_title"`
	AlbumID     string        `json:"album_id,omitempty" mapstructure:"album_id"`
	Description string        `json:"description" mapstructure:"description"`
	SkipShare   bool          `json:"skip_share,omitempty" mapstructure:"skip_share"`
	Timeout     time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
}

func (c *PhotosConfig) withDefaults() *PhotosConfig {
	out := *c
	if out.APIURL == "" {
		out.APIURL = DefaultPhotosAPI
	}
	if out.TokenFile == "" {
		out.TokenFile = DefaultTokenFile
	}
	if out.AlbumCache == "" {
		out.AlbumCache = DefaultAlbumCache
	}
	if out.AlbumTitle == "" {
		out.AlbumTitle = DefaultAlbumTitle
	}
	if out.Description == "" {
		out.Description = DefaultDescription
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultHTTPTimeout
	}
	return &out
}

// PhotosUploader uploads artifacts into one shared Google Photos album.
type PhotosUploader struct {
	cfg    *PhotosConfig
	client *req.Client
	tokens *TokenSource
	albums *AlbumCache

	mu      sync.Mutex
	albumID string
}

var _ Uploader = (*PhotosUploader)(nil)

func NewPhotosUploader(cfg *PhotosConfig) (*PhotosUploader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: photos config missing", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()

	client := req.C().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetTimeout(cfg.Timeout).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(HeaderDeviceID, utils.HWID).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &PhotosUploader{
		cfg:    cfg,
		client: client,
		tokens: NewTokenSource(cfg.TokenFile, client),
		albums: NewAlbumCache(cfg.AlbumCache),
	}, nil
}

// AlbumID returns the resolved album id, or "" before EnsureReady succeeded.
func (p *PhotosUploader) AlbumID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.albumID
}

// EnsureReady makes sure a usable access token and a target album exist.
func (p *PhotosUploader) EnsureReady(ctx context.Context) error {
	token, err := p.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	if err := p.resolveAlbum(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil
}

func (p *PhotosUploader) Upload(ctx context.Context, a *scanner.Artifact) error {
	if err := p.EnsureReady(ctx); err != nil {
		return err
	}

	data, err := os.ReadFile(a.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, a.Path)
		}
		return fmt.Errorf("read %s: %w", a.Path, err)
	}

	token, err := p.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	uploadToken, err := p.uploadBytes(ctx, token, a, data)
	if err != nil {
		return p.checkAuth(err)
	}

	itemID, err := p.createMediaItem(ctx, token, a.Name, uploadToken)
	if err != nil {
		return p.checkAuth(err)
	}

	slog.Debug("photos: media item created", "name", a.Name, "mediaItem", itemID, "size", len(data))
	return nil
}

func (p *PhotosUploader) resolveAlbum(ctx context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.albumID != "" {
		return nil
	}

	if p.cfg.AlbumID != "" {
		p.albumID = p.cfg.AlbumID
		return nil
	}

	cached, err := p.albums.Load()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoAlbum, err)
	}
	if cached != "" {
		slog.Info("photos: using cached album", "title", p.cfg.AlbumTitle, "albumId", cached)
		p.albumID = cached
		return nil
	}

	slog.Info("photos: creating album", "title", p.cfg.AlbumTitle)
	album, err := p.createAlbum(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoAlbum, p.checkAuth(err))
	}
	p.albumID = album.ID

	if err := p.albums.Store(album.ID); err != nil {
		// a lost cache means a duplicate album on the next start, not lost photos
		slog.Error("photos: failed to cache album id", "path", p.albums.Path(), "error", err)
	}

	if !p.cfg.SkipShare {
		if err := p.shareAlbum(ctx, token, album.ID); err != nil {
			slog.Warn("photos: could not set sharing options", "albumId", album.ID, "error", err)
		} else {
			slog.Info("photos: album shared", "albumId", album.ID)
		}
	}

	return nil
}

func (p *PhotosUploader) createAlbum(ctx context.Context, token string) (*albumResponse, error) {
	var album albumResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBearerAuthToken(token).
		SetBody(&createAlbumRequest{Album: albumInput{Title: p.cfg.AlbumTitle}}).
		SetSuccessResult(&album).
		Post(v1Albums)
	if err := handleAPIError(resp, err, "create album"); err != nil {
		return nil, err
	}
	if album.ID == "" {
		return nil, errors.New("create album: response has no album id")
	}
	return &album, nil
}

func (p *PhotosUploader) shareAlbum(ctx context.Context, token, albumID string) error {
	var share shareAlbumResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBearerAuthToken(token).
		SetPathParam("albumId", albumID).
		SetBody(&shareAlbumRequest{
			SharedAlbumOptions: sharedAlbumOptions{IsCollaborative: true, IsCommentable: true},
		}).
		SetSuccessResult(&share).
		Post(v1AlbumShare)
	return handleAPIError(resp, err, "share album")
}

func (p *PhotosUploader) uploadBytes(ctx context.Context, token string, a *scanner.Artifact, data []byte) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBearerAuthToken(token).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("X-Goog-Upload-Content-Type", a.MediaType).
		SetHeader("X-Goog-Upload-File-Name", a.Name).
		SetHeader("X-Goog-Upload-Protocol", "raw").
		SetBodyBytes(data).
		Post(v1Uploads)
	if err := handleAPIError(resp, err, "upload bytes"); err != nil {
		return "", err
	}

	uploadToken := strings.TrimSpace(resp.String())
	if uploadToken == "" {
		return "", errors.New("upload bytes: empty upload token")
	}
	return uploadToken, nil
}

func (p *PhotosUploader) createMediaItem(ctx context.Context, token, name, uploadToken string) (string, error) {
	albumID := p.AlbumID()

	var result batchCreateResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBearerAuthToken(token).
		SetRetryCount(0).
		SetBody(&batchCreateRequest{
			AlbumID: albumID,
			NewMediaItems: []newMediaItem{{
				Description: p.cfg.Description,
				SimpleMediaItem: simpleMediaItem{
					UploadToken: uploadToken,
					FileName:    name,
				},
			}},
		}).
		SetSuccessResult(&result).
		Post(v1BatchCreate)
	if err := handleAPIError(resp, err, "create media item"); err != nil {
		return "", err
	}

	if len(result.NewMediaItemResults) == 0 {
		return "", errors.New("create media item: empty result")
	}
	item := result.NewMediaItemResults[0]
	if !item.succeeded() {
		return "", fmt.Errorf("create media item: %w", NewAPIError(resp.StatusCode, "ITEM_FAILED",
			fmt.Sprintf("code=%d message=%q", item.Status.Code, item.Status.Message)))
	}

	if item.MediaItem != nil {
		return item.MediaItem.ID, nil
	}
	return "", nil
}

func (r *newMediaItemResult) succeeded() bool {
	if r.Status.Code != 0 {
		return false
	}
	return r.Status.Message == "Success" || r.Status.Message == "OK" || r.MediaItem != nil
}

// checkAuth drops the cached access token after a 401 so the next call refreshes.
func (p *PhotosUploader) checkAuth(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		p.tokens.Invalidate()
	}
	return err
}
