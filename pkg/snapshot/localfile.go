package snapshot

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
)

// LocalFileTransport serves GET requests on file:// URLs from the local file
// system, so that a mirror copy on disk can be used as base URL.
type LocalFileTransport struct{}

func (LocalFileTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return nil, fmt.Errorf("request method %s is not supported", req.Method)
	}

	path := req.URL.Path

	resp := &http.Response{
		Proto:      "HTTP/1.0",
		ProtoMajor: 1,
		Header:     make(http.Header),
		Request:    req,
	}

	f, err := openRegular(path)
	if err != nil {
		resp.StatusCode = statusFromError(err)
		resp.Status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		resp.Body = io.NopCloser(strings.NewReader(err.Error()))
		return resp, nil
	}

	resp.StatusCode = http.StatusOK
	resp.Status = "200 OK"
	resp.Body = f
	if fi, err := f.Stat(); err == nil {
		resp.ContentLength = fi.Size()
	}
	return resp, nil
}

func openRegular(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.IsDir() {
		f.Close()
		return nil, &fs.PathError{Op: "open", Path: path, Err: errors.New("is a directory")}
	}
	return f, nil
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, fs.ErrPermission):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// NewTransport returns a clone of base (http.DefaultTransport when nil)
// that also handles the file scheme.
func NewTransport(base *http.Transport) *http.Transport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport)
	}
	t := base.Clone()
	t.RegisterProtocol("file", LocalFileTransport{})
	return t
}
