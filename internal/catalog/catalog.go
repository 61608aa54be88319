// Package catalog declares the versioned cache partition table and the
// critical document manifest. Both are build-time constants: partitions from
// older versions are deleted wholesale on upgrade, never merged.
package catalog

import (
	"fmt"
	"time"
)

// Version is bumped whenever the partition layout or cached payload format
// changes incompatibly.
const Version = 3

type Strategy string

const (
	StrategyCacheFirst        Strategy = "cache-first"
	StrategyCacheFirstRefresh Strategy = "cache-first-refresh"
	StrategyNetworkFirst      Strategy = "network-first"
	StrategyNetworkOnly       Strategy = "network-only"
	StrategyPassthrough       Strategy = "passthrough"
)

type Partition struct {
	Base       string
	Strategy   Strategy
	MaxEntries int // 0 means unbounded
	TTL        time.Duration
	Critical   bool // exempt from TTL sweep and entry caps
}

func (p Partition) Name() string {
	return fmt.Sprintf("%s-v%d", p.Base, Version)
}

const (
	BaseCritical = "critical-docs"
	BaseDocs     = "docs"
	BaseAPI      = "api"
	BaseMedia    = "media"
	BaseFonts    = "fonts"
	BasePages    = "pages"
)

var Partitions = []Partition{
	{Base: BaseCritical, Strategy: StrategyCacheFirst, Critical: true},
	{Base: BaseDocs, Strategy: StrategyCacheFirstRefresh, MaxEntries: 200, TTL: 7 * 24 * time.Hour},
	{Base: BaseAPI, Strategy: StrategyNetworkFirst, MaxEntries: 100, TTL: 24 * time.Hour},
	{Base: BaseMedia, Strategy: StrategyCacheFirst, MaxEntries: 300, TTL: 30 * 24 * time.Hour},
	{Base: BaseFonts, Strategy: StrategyCacheFirst, MaxEntries: 30, TTL: 365 * 24 * time.Hour},
	{Base: BasePages, Strategy: StrategyNetworkFirst, MaxEntries: 50, TTL: 7 * 24 * time.Hour},
}

// CriticalManifest lists the documents that must be servable with no network
// dependency after a successful install. Not user-editable at runtime.
var CriticalManifest = []string{
	"food-safety",
	"emergency-procedures",
	"fire-safety",
	"first-aid",
	"cleaning-protocols",
	"allergen-management",
	"equipment-safety",
	"customer-safety",
	"staff-training-basics",
	"compliance",
}

func PartitionName(base string) string {
	for _, p := range Partitions {
		if p.Base == base {
			return p.Name()
		}
	}
	return fmt.Sprintf("%s-v%d", base, Version)
}

func Lookup(name string) (Partition, bool) {
	for _, p := range Partitions {
		if p.Name() == name {
			return p, true
		}
	}
	return Partition{}, false
}

func IsCriticalDocument(id string) bool {
	for _, known := range CriticalManifest {
		if known == id {
			return true
		}
	}
	return false
}
