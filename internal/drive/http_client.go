package drive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/mirrorbox/mirrorbox/internal/version"
)

const (
	v1Resolve        = "/api/v1/drive/resolve"
	v1FolderChildren = "/api/v1/drive/folders/{id}/children"
	v1Folders        = "/api/v1/drive/folders"
	v1Files          = "/api/v1/drive/files"
	v1FileContent    = "/api/v1/drive/files/{id}/content"
	v1Object         = "/api/v1/drive/objects/{id}"
)

// HTTPClient talks to the drive API over HTTP.
type HTTPClient struct {
	client  *req.Client
	baseURL string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a drive client for the given server.
func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("drive: server url missing")
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetUserAgent("MirrorBox/"+version.Version).
		SetTimeout(2*time.Minute).
		SetCommonRetryCount(3).
		SetCommonRetryBackoffInterval(1*time.Second, 5*time.Second).
		SetCommonErrorResult(&APIError{}).
		AddCommonRetryCondition(func(resp *req.Response, err error) bool {
			// retry transport failures and server-side transients only
			if err != nil {
				return true
			}
			code := resp.GetStatusCode()
			return code == 429 || code >= 500
		})

	return &HTTPClient{
		client:  client,
		baseURL: baseURL,
	}, nil
}

// SetToken sets the bearer token for API calls.
func (c *HTTPClient) SetToken(token string) {
	c.client.SetCommonBearerAuthToken(token)
}

func (c *HTTPClient) ResolveFolder(ctx context.Context, rootID string, segments []string) (*Entry, error) {
	var dto entryDTO
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("root", rootID).
		SetQueryParam("path", strings.Join(segments, "/")).
		SetSuccessResult(&dto).
		Get(v1Resolve)

	if err := mapAPIError(resp, err, "resolve folder"); err != nil {
		return nil, err
	}
	return dto.toEntry()
}

func (c *HTTPClient) ListChildren(ctx context.Context, folderID string) ([]*Entry, error) {
	var result listChildrenResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", folderID).
		SetSuccessResult(&result).
		Get(v1FolderChildren)

	if err := mapAPIError(resp, err, "list children"); err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(result.Children))
	for _, dto := range result.Children {
		entry, err := dto.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *HTTPClient) FetchContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", fileID).
		DisableAutoReadResponse().
		Get(v1FileContent)

	if err != nil {
		return nil, fmt.Errorf("drive: fetch content: %w: %v", ErrUnavailable, err)
	}
	if resp.IsErrorState() {
		defer resp.Body.Close()
		return nil, statusToError(resp.GetStatusCode(), "fetch content")
	}
	return resp.Body, nil
}

func (c *HTTPClient) PushContent(ctx context.Context, fileID string, content io.Reader) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", fileID).
		SetContentType("application/octet-stream").
		SetBody(content).
		SetRetryCount(0). // body readers are not replayable
		Put(v1FileContent)

	return mapAPIError(resp, err, "push content")
}

func (c *HTTPClient) CreateFile(ctx context.Context, parentID, name string, content io.Reader) (*Entry, error) {
	var dto entryDTO
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"name":   name,
			"parent": parentID,
		}).
		SetFileReader("file", name, content).
		SetSuccessResult(&dto).
		SetRetryCount(0).
		Post(v1Files)

	if err := mapAPIError(resp, err, "create file"); err != nil {
		return nil, err
	}
	return dto.toEntry()
}

func (c *HTTPClient) CreateFolder(ctx context.Context, parentID, name string) (*Entry, error) {
	var dto entryDTO
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&createFolderRequest{Name: name, Parent: parentID}).
		SetSuccessResult(&dto).
		Post(v1Folders)

	if err := mapAPIError(resp, err, "create folder"); err != nil {
		return nil, err
	}
	return dto.toEntry()
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Delete(v1Object)

	return mapAPIError(resp, err, "delete")
}

// mapAPIError folds transport and API failures into the adapter error
// taxonomy: ErrNotFound for vanished objects, ErrUnavailable for transients.
func mapAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("drive: %s: %w: %v", operation, ErrUnavailable, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code == CodeNotFound {
			return fmt.Errorf("drive: %s: %w", operation, ErrNotFound)
		}
		return statusToError(resp.GetStatusCode(), operation)
	}

	return nil
}

func statusToError(status int, operation string) error {
	switch {
	case status == 404:
		return fmt.Errorf("drive: %s: %w", operation, ErrNotFound)
	case status == 429 || status >= 500:
		return fmt.Errorf("drive: %s: %w: status %d", operation, ErrUnavailable, status)
	default:
		return fmt.Errorf("drive: %s: unexpected status %d", operation, status)
	}
}
