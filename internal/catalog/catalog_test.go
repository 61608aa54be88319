package catalog

import (
	"fmt"
	"testing"
)

func TestPartitionNamesCarryVersion(t *testing.T) {
	for _, partition := range Partitions {
		want := fmt.Sprintf("%s-v%d", partition.Base, Version)
		if partition.Name() != want {
			t.Fatalf("partition %s: got name %s, want %s", partition.Base, partition.Name(), want)
		}
	}
}

func TestLookupRoundTrips(t *testing.T) {
	for _, partition := range Partitions {
		found, ok := Lookup(partition.Name())
		if !ok {
			t.Fatalf("lookup failed for %s", partition.Name())
		}
		if found.Base != partition.Base {
			t.Fatalf("lookup returned wrong partition: %s vs %s", found.Base, partition.Base)
		}
	}
	if _, ok := Lookup("docs-v1"); ok {
		t.Fatalf("old-version partition should not resolve")
	}
}

func TestCriticalPartitionHasNoExpiry(t *testing.T) {
	partition, ok := Lookup(PartitionName(BaseCritical))
	if !ok {
		t.Fatalf("critical partition missing from table")
	}
	if !partition.Critical {
		t.Fatalf("critical partition not flagged critical")
	}
	if partition.TTL != 0 || partition.MaxEntries != 0 {
		t.Fatalf("critical partition must be unbounded: %+v", partition)
	}
}

func TestCriticalManifestMembership(t *testing.T) {
	for _, id := range CriticalManifest {
		if !IsCriticalDocument(id) {
			t.Fatalf("manifest document %s not recognized", id)
		}
	}
	if IsCriticalDocument("seasonal-menu-notes") {
		t.Fatalf("non-manifest document recognized as critical")
	}
}
