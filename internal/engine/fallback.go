package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shiftserve/opscache/internal/cachestore"
	"github.com/shiftserve/opscache/internal/catalog"
)

// OfflinePageKey is where the lifecycle manager seeds the generic offline
// page inside the pages partition.
const OfflinePageKey = "GET /offline"

// Fallback produces the last-resort response when neither cache nor network
// can satisfy a request. It never returns an empty body: page navigations get
// an HTML document, API requests a structured payload marked offline:true so
// callers can tell "offline" apart from "not found".
type Fallback struct {
	store    cachestore.Store
	manifest []string
}

func NewFallback(store cachestore.Store) *Fallback {
	return &Fallback{store: store, manifest: catalog.CriticalManifest}
}

func (f *Fallback) Response(req *http.Request) *http.Response {
	if wantsHTML(req) {
		return f.pageResponse(req)
	}
	return f.apiResponse(req)
}

func (f *Fallback) pageResponse(req *http.Request) *http.Response {
	if f.store != nil {
		ctx := context.Background()
		if req != nil {
			ctx = req.Context()
		}
		entry, err := f.store.Get(ctx, catalog.PartitionName(catalog.BasePages), OfflinePageKey)
		if err == nil {
			return responseFromEntry(entry, req)
		}
	}
	var page bytes.Buffer
	page.WriteString("<!doctype html>\n<html lang=\"en\">\n<head><meta charset=\"utf-8\"><title>Offline</title></head>\n<body>\n")
	page.WriteString("<h1>You are offline</h1>\n")
	page.WriteString("<p>The following safety documents remain available:</p>\n<ul>\n")
	for _, id := range f.manifest {
		fmt.Fprintf(&page, "<li><a href=\"/api/documents/%s\">%s</a></li>\n", id, id)
	}
	page.WriteString("</ul>\n</body>\n</html>\n")
	return textResponse(req, http.StatusOK, "text/html; charset=utf-8", page.Bytes())
}

func (f *Fallback) apiResponse(req *http.Request) *http.Response {
	payload := map[string]any{
		"offline":   true,
		"error":     "offline",
		"message":   "the device is offline and no cached copy is available",
		"retryable": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(`{"offline":true,"error":"offline"}`)
	}
	return textResponse(req, http.StatusServiceUnavailable, "application/json", body)
}

func wantsHTML(req *http.Request) bool {
	if req == nil {
		return false
	}
	accept := req.Header.Get("Accept")
	return strings.Contains(accept, "text/html") || strings.Contains(accept, "application/xhtml+xml")
}

func textResponse(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("X-Served-By", "opscache-offline-fallback")
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func responseFromEntry(entry cachestore.Entry, req *http.Request) *http.Response {
	header := entry.HeaderCopy()
	header.Set("X-Served-By", "opscache")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}
