package courses

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iamkroot/ilc-scraper/internal/domain"
)

// TestLookupEmptyStore checks no query matches an empty index.
func TestLookupEmptyStore(t *testing.T) {
	ix := Open(filepath.Join(t.TempDir(), "courses.db"), nil)
	defer ix.Close()

	if _, ok := ix.Lookup("operating systems"); ok {
		t.Fatal("expected no match on empty store")
	}
}

// TestLookupToleratesTypos checks fuzzy matching above the similarity floor.
func TestLookupToleratesTypos(t *testing.T) {
	ix := Open(filepath.Join(t.TempDir(), "courses.db"), nil)
	defer ix.Close()

	course := domain.Course{FullName: "Operating Systems", LecturesURL: "http://impartus.local/api/subjects/101/lectures/55"}
	if err := ix.Insert(course); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, ok := ix.Lookup("operating systm")
	if !ok {
		t.Fatal("expected typo'd query to match")
	}
	if got.LecturesURL != course.LecturesURL {
		t.Fatalf("lookup url = %q, want %q", got.LecturesURL, course.LecturesURL)
	}
}

// TestLookupRejectsDistantQueries checks scores below the floor are no match.
func TestLookupRejectsDistantQueries(t *testing.T) {
	ix := Open(filepath.Join(t.TempDir(), "courses.db"), nil)
	defer ix.Close()

	course := domain.Course{FullName: "Operating Systems", LecturesURL: "http://impartus.local/api/subjects/101/lectures/55"}
	if err := ix.Insert(course); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if _, ok := ix.Lookup("quantum mechanics"); ok {
		t.Fatal("expected distant query to stay below the similarity floor")
	}
}

// TestInsertPersistsAcrossReopen checks upserts survive a fresh Open.
func TestInsertPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courses.db")

	first := Open(path, nil)
	course := domain.Course{FullName: "Digital Design", LecturesURL: "http://impartus.local/api/subjects/7/lectures/9"}
	if err := first.Insert(course); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	// Re-insert with a new name must update, not duplicate.
	course.FullName = "Digital Design Monsoon 2019"
	if err := first.Insert(course); err != nil {
		t.Fatalf("Insert() update error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := Open(path, nil)
	defer second.Close()
	all := second.All()
	if len(all) != 1 {
		t.Fatalf("stored courses = %d, want 1", len(all))
	}
	if all[0].FullName != "Digital Design Monsoon 2019" {
		t.Fatalf("stored name = %q", all[0].FullName)
	}
}

// TestOpenCreatesMissingDataDir checks the first run persists to a data
// directory that does not exist yet.
func TestOpenCreatesMissingDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "courses.db")

	first := Open(path, nil)
	course := domain.Course{FullName: "Operating Systems Sem 2", LecturesURL: "http://impartus.local/api/subjects/12/lectures/34"}
	if err := first.Insert(course); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := Open(path, nil)
	defer second.Close()
	if _, ok := second.Lookup("operating systems"); !ok {
		t.Fatal("expected the first-run mapping to survive reopen")
	}
}

// TestOpenCorruptStoreStartsEmpty checks a broken store file is never fatal.
func TestOpenCorruptStoreStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courses.db")
	if err := os.WriteFile(path, []byte("not a sqlite file"), 0o644); err != nil {
		t.Fatalf("write corrupt store: %v", err)
	}

	ix := Open(path, nil)
	defer ix.Close()
	if _, ok := ix.Lookup("anything"); ok {
		t.Fatal("expected empty index from corrupt store")
	}
	// Inserts still work in memory.
	if len(ix.All()) != 0 {
		t.Fatal("expected no entries")
	}
}

// TestLookupUsesPluggableSimilarity checks the strategy is injectable.
func TestLookupUsesPluggableSimilarity(t *testing.T) {
	exact := func(a, b string) float64 {
		if a == b {
			return 1
		}
		return 0
	}
	ix := Open(filepath.Join(t.TempDir(), "courses.db"), exact)
	defer ix.Close()

	course := domain.Course{FullName: "Compilers", LecturesURL: "http://impartus.local/api/subjects/3/lectures/4"}
	if err := ix.Insert(course); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if _, ok := ix.Lookup("compiler"); ok {
		t.Fatal("exact strategy should reject near match")
	}
	if _, ok := ix.Lookup("COMPILERS"); !ok {
		t.Fatal("exact strategy should accept exact uppercased match")
	}
}
