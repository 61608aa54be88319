package engine

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/shiftserve/opscache/internal/catalog"
)

// Route is the outcome of classifying one outbound request. Classification
// is a pure function of the request descriptor: the same method, URL, and
// headers always map to the same route.
type Route struct {
	Partition string
	Strategy  catalog.Strategy
	Queueable bool // mutation eligible for the sync queue on connectivity failure
}

type Classifier struct {
	backendHost string
}

func NewClassifier(backendURL string) (*Classifier, error) {
	backendURL = strings.TrimSpace(backendURL)
	if backendURL == "" {
		return &Classifier{}, nil
	}
	parsed, err := url.Parse(backendURL)
	if err != nil {
		return nil, err
	}
	return &Classifier{backendHost: strings.ToLower(parsed.Host)}, nil
}

var fontExtensions = map[string]bool{
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
}

var assetExtensions = map[string]bool{
	".js": true, ".css": true, ".map": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".svg": true, ".webp": true, ".ico": true,
}

func (c *Classifier) Classify(req *http.Request) Route {
	if req == nil || req.URL == nil {
		return Route{Strategy: catalog.StrategyPassthrough}
	}
	// Requests to other origins are not intercepted.
	host := strings.ToLower(req.URL.Host)
	if c.backendHost != "" && host != "" && host != c.backendHost {
		return Route{Strategy: catalog.StrategyPassthrough}
	}

	requestPath := req.URL.Path
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		if isProgressPath(requestPath) {
			return Route{Strategy: catalog.StrategyNetworkOnly, Queueable: true}
		}
		return Route{Strategy: catalog.StrategyNetworkOnly}
	}

	if id, ok := documentID(requestPath); ok {
		if catalog.IsCriticalDocument(id) {
			return Route{Partition: catalog.PartitionName(catalog.BaseCritical), Strategy: catalog.StrategyCacheFirst}
		}
		return Route{Partition: catalog.PartitionName(catalog.BaseDocs), Strategy: catalog.StrategyCacheFirstRefresh}
	}

	ext := strings.ToLower(path.Ext(requestPath))
	if fontExtensions[ext] {
		return Route{Partition: catalog.PartitionName(catalog.BaseFonts), Strategy: catalog.StrategyCacheFirst}
	}
	if assetExtensions[ext] {
		return Route{Partition: catalog.PartitionName(catalog.BaseMedia), Strategy: catalog.StrategyCacheFirst}
	}

	if strings.HasPrefix(requestPath, "/api/") || requestPath == "/api" {
		return Route{Partition: catalog.PartitionName(catalog.BaseAPI), Strategy: catalog.StrategyNetworkFirst}
	}

	// Everything else is a page navigation.
	return Route{Partition: catalog.PartitionName(catalog.BasePages), Strategy: catalog.StrategyNetworkFirst}
}

func documentID(requestPath string) (string, bool) {
	const prefix = "/api/documents/"
	if !strings.HasPrefix(requestPath, prefix) {
		return "", false
	}
	id := strings.Trim(strings.TrimPrefix(requestPath, prefix), "/")
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func isProgressPath(requestPath string) bool {
	return strings.HasPrefix(requestPath, "/api/progress") ||
		strings.HasPrefix(requestPath, "/api/training/progress")
}
