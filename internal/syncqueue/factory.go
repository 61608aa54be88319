package syncqueue

import (
	"fmt"
	"net/url"
	"strings"
)

func BuildTaskStoreFromDSN(dsn string) (TaskStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryTaskStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileTaskStore(path)
	case "memory", "mem", "inmem":
		return NewInMemoryTaskStore(), nil
	case "postgres", "postgresql":
		return NewPostgresTaskStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported sync queue scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Opaque)
	if path == "" {
		// A relative target like file://.opscache/sync-queue.json parses
		// with its first segment as the host; rejoin it with the path.
		path = strings.TrimSpace(parsed.Host + parsed.Path)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
