// Package snapshot is a client for the machine-usable interface of
// snapshot.debian.org.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	derrors "github.com/CeGenreDeChat/debsnap/internal/errors"
)

const (
	DefaultBaseURL   = "https://snapshot.debian.org"
	DefaultUserAgent = "debsnap/1.0"
	DefaultTimeout   = 60 * time.Second
)

// Client queries a snapshot mirror. A single client reuses its HTTP
// connections for every request.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	Logger     *log.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.BaseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = hc
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.UserAgent = ua
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.Logger = l
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if c.HTTPClient != nil {
			c.HTTPClient.Timeout = d
		}
	}
}

// NewClient creates a client for the public mirror unless WithBaseURL is
// given. file:// base URLs are served from the local file system.
func NewClient(opts ...Option) *Client {
	c := &Client{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: DefaultTimeout, Transport: NewTransport(nil)},
		UserAgent:  DefaultUserAgent,
		Logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(segments ...string) string {
	return c.BaseURL + escapeSegments(segments)
}

// Packages lists every source package name known to the mirror. The request
// is costly; prefer ListVersions when the name is known.
func (c *Client) Packages(ctx context.Context) ([]string, error) {
	var resp packagesResponse
	if err := c.getJSON(ctx, c.endpoint("mr", "package")+"/", &resp); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(resp.Result))
	for _, p := range resp.Result {
		names = append(names, p.Package)
	}
	return names, nil
}

// ListVersions returns all versions of the source package name.
func (c *Client) ListVersions(ctx context.Context, name string) ([]string, error) {
	var resp versionsResponse
	if err := c.getJSON(ctx, c.endpoint("mr", "package", name)+"/", &resp); err != nil {
		return nil, err
	}

	versions := make([]string, 0, len(resp.Result))
	for _, v := range resp.Result {
		versions = append(versions, v.Version)
	}
	return versions, nil
}

// SourceFiles returns the files of a source package. A hash known under
// several names yields one RemoteFile per name. An empty filter result is
// not an error.
func (c *Client) SourceFiles(ctx context.Context, name, version string, filter SourceFilter) ([]RemoteFile, error) {
	url := c.endpoint("mr", "package", name, version, "srcfiles") + "?fileinfo=1"

	var resp filesResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	var files []RemoteFile
	for _, res := range resp.Result {
		for _, info := range resp.FileInfo[res.Hash] {
			rf, err := c.remoteFile(res.Hash, info)
			if err != nil {
				return nil, derrors.Wrap(derrors.KindMirrorTransport, err, "invalid fileinfo for %s", res.Hash)
			}
			if !filter.match(rf) {
				continue
			}
			rf.Architecture = ArchSource
			files = append(files, rf)
		}
	}
	return files, nil
}

// BinPackages returns the binary packages built from a source package.
func (c *Client) BinPackages(ctx context.Context, srcName, srcVersion string) ([]BinaryRef, error) {
	var resp binPackagesResponse
	if err := c.getJSON(ctx, c.endpoint("mr", "package", srcName, srcVersion, "binpackages"), &resp); err != nil {
		return nil, err
	}

	refs := make([]BinaryRef, 0, len(resp.Result))
	for _, b := range resp.Result {
		refs = append(refs, BinaryRef{
			Name:          b.Name,
			Version:       b.Version,
			SourceName:    srcName,
			SourceVersion: srcVersion,
		})
	}
	return refs, nil
}

// BinaryFiles returns the files of a binary package, across all
// architectures unless q.Arch is set.
func (c *Client) BinaryFiles(ctx context.Context, q BinaryQuery) ([]RemoteFile, error) {
	var url string
	if q.SourceName != "" && q.SourceVersion != "" {
		url = c.endpoint("mr", "package", q.SourceName, q.SourceVersion, "binfiles", q.Name, q.Version)
	} else {
		url = c.endpoint("mr", "binary", q.Name, q.Version, "binfiles")
	}
	url += "?fileinfo=1"

	var resp filesResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	var files []RemoteFile
	for _, res := range resp.Result {
		if q.Arch != "" && q.Arch != res.Architecture {
			continue
		}
		for _, info := range resp.FileInfo[res.Hash] {
			rf, err := c.remoteFile(res.Hash, info)
			if err != nil {
				return nil, derrors.Wrap(derrors.KindMirrorTransport, err, "invalid fileinfo for %s", res.Hash)
			}
			rf.Architecture = res.Architecture
			files = append(files, rf)
		}
	}
	return files, nil
}

// FileInfo returns every name under which the content hash is known.
func (c *Client) FileInfo(ctx context.Context, hash string) ([]RemoteFile, error) {
	var resp fileInfoResponse
	if err := c.getJSON(ctx, c.endpoint("mr", "file", hash, "info"), &resp); err != nil {
		return nil, err
	}

	files := make([]RemoteFile, 0, len(resp.Result))
	for _, info := range resp.Result {
		rf, err := c.remoteFile(hash, info)
		if err != nil {
			return nil, derrors.Wrap(derrors.KindMirrorTransport, err, "invalid fileinfo for %s", hash)
		}
		files = append(files, rf)
	}
	return files, nil
}

// FetchFile opens the content of f. The caller must close the returned
// reader.
func (c *Client) FetchFile(ctx context.Context, f RemoteFile) (io.ReadCloser, error) {
	url := f.DownloadURL
	if url == "" {
		url = c.endpoint("file", f.Hash, f.Filename)
	}

	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindMirrorTransport, err, "invalid request %s", url)
	}
	req.Header.Set("User-Agent", c.UserAgent)

	c.Logger.Debug("mirror request", "url", url)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindMirrorTransport, err, "request %s failed", url)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, derrors.New(derrors.KindNotFoundOnMirror, url)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, derrors.New(derrors.KindMirrorTransport, fmt.Sprintf("%s: HTTP status %d", url, resp.StatusCode))
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return derrors.Wrap(derrors.KindMirrorTransport, err, "invalid response from %s", url)
	}
	return nil
}
