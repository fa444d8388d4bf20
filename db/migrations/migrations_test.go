package migrations

import (
	"strings"
	"testing"
)

func TestUpFilesOrdered(t *testing.T) {
	names, err := UpFiles()
	if err != nil {
		t.Fatalf("UpFiles: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("no up migrations embedded")
	}
	for i, name := range names {
		if !strings.HasSuffix(name, ".up.sql") {
			t.Fatalf("unexpected file %q", name)
		}
		if i > 0 && names[i-1] >= name {
			t.Fatalf("migrations out of order: %q before %q", names[i-1], name)
		}
	}
}

func TestShopsSchemaUsesByteCollation(t *testing.T) {
	payload, err := files.ReadFile("0001_create_shops.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if !strings.Contains(string(payload), `geohash     TEXT COLLATE "C"`) {
		t.Fatalf("geohash column must use the C collation for byte-wise range scans")
	}
}
