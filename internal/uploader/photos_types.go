package uploader

type createAlbumRequest struct {
	Album albumInput `json:"album"`
}

type albumInput struct {
	Title string `json:"title"`
}

type albumResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ProductURL string `json:"productUrl,omitempty"`
}

type shareAlbumRequest struct {
	SharedAlbumOptions sharedAlbumOptions `json:"sharedAlbumOptions"`
}

type sharedAlbumOptions struct {
	IsCollaborative bool `json:"isCollaborative"`
	IsCommentable   bool `json:"isCommentable"`
}

type shareAlbumResponse struct {
	ShareInfo struct {
		ShareableURL string `json:"shareableUrl"`
	} `json:"shareInfo"`
}

type batchCreateRequest struct {
	AlbumID       string         `json:"albumId,omitempty"`
	NewMediaItems []newMediaItem `json:"newMediaItems"`
}

type newMediaItem struct {
	Description     string          `json:"description,omitempty"`
	SimpleMediaItem simpleMediaItem `json:"simpleMediaItem"`
}

type simpleMediaItem struct {
	UploadToken string `json:"uploadToken"`
	FileName    string `json:"fileName,omitempty"`
}

type batchCreateResponse struct {
	NewMediaItemResults []newMediaItemResult `json:"newMediaItemResults"`
}

type newMediaItemResult struct {
	UploadToken string     `json:"uploadToken"`
	Status      itemStatus `json:"status"`
	MediaItem   *mediaItem `json:"mediaItem,omitempty"`
}

type itemStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type mediaItem struct {
	ID         string `json:"id"`
	ProductURL string `json:"productUrl,omitempty"`
	Filename   string `json:"filename,omitempty"`
}
