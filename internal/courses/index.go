package courses

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/iamkroot/ilc-scraper/internal/domain"
)

// similarityFloor is the minimum score for a fuzzy lookup to count as a match.
const similarityFloor = 0.40

// Similarity scores how close two course names are, in [0, 1].
type Similarity func(a, b string) float64

// Index is the persisted mapping from course name to its lectures URL.
//
// All reads and writes of the store go through Lookup/Insert; a broken store
// degrades to an empty in-memory index and is never fatal.
type Index struct {
	mu      sync.Mutex
	db      *sql.DB
	sim     Similarity
	entries map[string]domain.Course
}

// Open loads the course index from the sqlite store at path.
func Open(path string, sim Similarity) *Index {
	if sim == nil {
		sim = DefaultSimilarity
	}
	ix := &Index{
		sim:     sim,
		entries: make(map[string]domain.Course),
	}

	// On a first run the data directory does not exist yet; without it the
	// sqlite open fails and the mapping registered in this run would be lost.
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("course index unavailable, starting empty: %v", err)
		return ix
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		log.Printf("course index unavailable, starting empty: %v", err)
		return ix
	}
	if err := migrate(db); err != nil {
		log.Printf("course index unreadable, starting empty: %v", err)
		_ = db.Close()
		return ix
	}

	ix.db = db
	if err := ix.loadAll(); err != nil {
		log.Printf("course index unreadable, starting empty: %v", err)
		ix.entries = make(map[string]domain.Course)
	}
	return ix
}

// Close releases the underlying store.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.db == nil {
		return nil
	}
	err := ix.db.Close()
	ix.db = nil
	return err
}

// Lookup returns the stored course whose name best matches query.
//
// Scores below the similarity floor are treated as no match, forcing the
// caller to ask for an explicit course URL.
func (ix *Index) Lookup(query string) (domain.Course, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	needle := strings.ToUpper(strings.TrimSpace(query))
	if needle == "" || len(ix.entries) == 0 {
		return domain.Course{}, false
	}

	var best domain.Course
	bestScore := 0.0
	for _, course := range ix.entries {
		score := ix.sim(needle, strings.ToUpper(course.FullName))
		if score > bestScore {
			best = course
			bestScore = score
		}
	}
	if bestScore < similarityFloor {
		return domain.Course{}, false
	}
	return best, true
}

// Insert upserts a course keyed by its lectures URL and persists immediately.
// A write failure is returned, but the in-memory entry is kept.
func (ix *Index) Insert(course domain.Course) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.entries[course.LecturesURL] = course
	if ix.db == nil {
		return nil
	}

	_, err := ix.db.Exec(
		`INSERT INTO courses (lectures_url, full_name) VALUES (?, ?)
		 ON CONFLICT(lectures_url) DO UPDATE SET full_name = excluded.full_name`,
		course.LecturesURL, course.FullName,
	)
	if err != nil {
		return fmt.Errorf("persist course %q: %w", course.FullName, err)
	}
	return nil
}

// All returns the known courses sorted by name, for the --list output.
func (ix *Index) All() []domain.Course {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]domain.Course, 0, len(ix.entries))
	for _, course := range ix.entries {
		out = append(out, course)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FullName < out[j].FullName
	})
	return out
}

// migrate creates the courses table when missing.
func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS courses (
		lectures_url TEXT PRIMARY KEY,
		full_name TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("migrate courses table: %w", err)
	}
	return nil
}

// loadAll reads every stored course into the in-memory map.
func (ix *Index) loadAll() error {
	rows, err := ix.db.Query(`SELECT lectures_url, full_name FROM courses`)
	if err != nil {
		return fmt.Errorf("read courses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var course domain.Course
		if err := rows.Scan(&course.LecturesURL, &course.FullName); err != nil {
			return fmt.Errorf("scan course: %w", err)
		}
		ix.entries[course.LecturesURL] = course
	}
	return rows.Err()
}
