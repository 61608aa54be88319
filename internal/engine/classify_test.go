package engine

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shiftserve/opscache/internal/catalog"
)

func classify(t *testing.T, method, url string) Route {
	t.Helper()
	classifier, err := NewClassifier("https://backend.example.com")
	if err != nil {
		t.Fatalf("new classifier failed: %v", err)
	}
	req := httptest.NewRequest(method, url, nil)
	return classifier.Classify(req)
}

func TestClassifyCriticalDocument(t *testing.T) {
	route := classify(t, http.MethodGet, "https://backend.example.com/api/documents/food-safety")
	if route.Strategy != catalog.StrategyCacheFirst {
		t.Fatalf("expected cache-first, got %v", route.Strategy)
	}
	if route.Partition != catalog.PartitionName(catalog.BaseCritical) {
		t.Fatalf("expected critical partition, got %s", route.Partition)
	}
}

func TestClassifyRegularDocument(t *testing.T) {
	route := classify(t, http.MethodGet, "https://backend.example.com/api/documents/seasonal-menu-notes")
	if route.Strategy != catalog.StrategyCacheFirstRefresh {
		t.Fatalf("expected cache-first-refresh, got %v", route.Strategy)
	}
	if route.Partition != catalog.PartitionName(catalog.BaseDocs) {
		t.Fatalf("expected docs partition, got %s", route.Partition)
	}
}

func TestClassifyStaticAssets(t *testing.T) {
	cases := []struct {
		url       string
		partition string
	}{
		{"https://backend.example.com/assets/app.woff2", catalog.PartitionName(catalog.BaseFonts)},
		{"https://backend.example.com/assets/app.js", catalog.PartitionName(catalog.BaseMedia)},
		{"https://backend.example.com/img/logo.png", catalog.PartitionName(catalog.BaseMedia)},
	}
	for _, tc := range cases {
		route := classify(t, http.MethodGet, tc.url)
		if route.Strategy != catalog.StrategyCacheFirst {
			t.Fatalf("%s: expected cache-first, got %v", tc.url, route.Strategy)
		}
		if route.Partition != tc.partition {
			t.Fatalf("%s: expected partition %s, got %s", tc.url, tc.partition, route.Partition)
		}
	}
}

func TestClassifyAPIAndNavigation(t *testing.T) {
	api := classify(t, http.MethodGet, "https://backend.example.com/api/shifts/today")
	if api.Strategy != catalog.StrategyNetworkFirst || api.Partition != catalog.PartitionName(catalog.BaseAPI) {
		t.Fatalf("unexpected api route: %+v", api)
	}
	page := classify(t, http.MethodGet, "https://backend.example.com/training/overview")
	if page.Strategy != catalog.StrategyNetworkFirst || page.Partition != catalog.PartitionName(catalog.BasePages) {
		t.Fatalf("unexpected navigation route: %+v", page)
	}
}

func TestClassifyMutations(t *testing.T) {
	progress := classify(t, http.MethodPost, "https://backend.example.com/api/progress/42")
	if progress.Strategy != catalog.StrategyNetworkOnly || !progress.Queueable {
		t.Fatalf("progress mutation should be queueable network-only: %+v", progress)
	}
	training := classify(t, http.MethodPut, "https://backend.example.com/api/training/progress/7")
	if !training.Queueable {
		t.Fatalf("training progress mutation should be queueable: %+v", training)
	}
	other := classify(t, http.MethodDelete, "https://backend.example.com/api/shifts/9")
	if other.Strategy != catalog.StrategyNetworkOnly || other.Queueable {
		t.Fatalf("non-progress mutation should not be queueable: %+v", other)
	}
}

func TestClassifyOtherOriginPassesThrough(t *testing.T) {
	route := classify(t, http.MethodGet, "https://cdn.other.example/api/documents/food-safety")
	if route.Strategy != catalog.StrategyPassthrough {
		t.Fatalf("other origin should pass through, got %+v", route)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	first := classify(t, http.MethodGet, "https://backend.example.com/api/documents/fire-safety")
	for i := 0; i < 10; i++ {
		again := classify(t, http.MethodGet, "https://backend.example.com/api/documents/fire-safety")
		if again != first {
			t.Fatalf("classification drifted: %+v vs %+v", again, first)
		}
	}
}
