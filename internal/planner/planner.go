package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/iamkroot/ilc-scraper/internal/domain"
	"github.com/iamkroot/ilc-scraper/internal/ranges"
)

// SkipReason explains why the planner emitted no job for a lecture.
type SkipReason string

const (
	SkipAlreadyDownloaded SkipReason = "alreadyDownloaded"
	SkipNoClass           SkipReason = "noClass"
)

// Skip is one lecture left out of the work list.
type Skip struct {
	Lecture domain.Lecture
	Reason  SkipReason
}

// Rename records one on-disk file renamed to its current catalog title.
type Rename struct {
	From string
	To   string
}

// Options select and filter the lectures to plan.
type Options struct {
	Selection   ranges.Selection
	Force       bool
	OnlyNew     bool
	KeepNoClass bool
	Rename      bool
}

// Plan is the concrete work list for one dispatch cycle.
type Plan struct {
	CourseDir string
	Jobs      []domain.DownloadJob
	Skipped   []Skip
	Renamed   []Rename
}

// Planner turns a catalog plus on-disk state into download jobs.
type Planner struct {
	stat     func(name string) (os.FileInfo, error)
	readDir  func(name string) ([]os.DirEntry, error)
	mkdirAll func(path string, perm os.FileMode) error
	rename   func(oldpath, newpath string) error
}

// New constructs the production planner with OS dependencies.
func New() *Planner {
	return &Planner{
		stat:     os.Stat,
		readDir:  os.ReadDir,
		mkdirAll: os.MkdirAll,
		rename:   os.Rename,
	}
}

// Build resolves the selection against the catalog and emits jobs in
// ascending sequence order, so lecture 1 lands first.
//
// A selected sequence number absent from the catalog is silently omitted;
// output paths are a pure function of the lecture metadata, so repeated runs
// detect existing files without external bookkeeping.
func (p *Planner) Build(lectures []domain.Lecture, destRoot string, opts Options) (Plan, error) {
	if len(lectures) == 0 {
		return Plan{}, nil
	}

	courseDir := filepath.Join(destRoot, CourseDirName(lectures[0]))
	if err := p.mkdirAll(courseDir, 0o755); err != nil {
		return Plan{}, fmt.Errorf("create course directory %q: %w", courseDir, err)
	}

	selected := make(map[int]bool)
	for _, seq := range opts.Selection.Resolve(len(lectures)) {
		selected[seq] = true
	}

	existing := p.scanDownloaded(courseDir, selected)

	plan := Plan{CourseDir: courseDir}
	if opts.Rename {
		plan.Renamed = p.renameOld(courseDir, lectures, existing)
	}

	onlyNewFloor := 0
	if opts.OnlyNew {
		for seq := range existing {
			if seq > onlyNewFloor {
				onlyNewFloor = seq
			}
		}
	}

	for _, lec := range lectures {
		if !selected[lec.SeqNo] {
			continue
		}
		if opts.OnlyNew && lec.SeqNo <= onlyNewFloor {
			continue
		}

		name := FileName(lec)
		if !opts.KeepNoClass && strings.Contains(strings.ToLower(name), "no class") {
			plan.Skipped = append(plan.Skipped, Skip{Lecture: lec, Reason: SkipNoClass})
			continue
		}

		outputPath := filepath.Join(courseDir, name)
		if !opts.Force && p.alreadyDownloaded(courseDir, outputPath, existing[lec.SeqNo]) {
			plan.Skipped = append(plan.Skipped, Skip{Lecture: lec, Reason: SkipAlreadyDownloaded})
			continue
		}

		plan.Jobs = append(plan.Jobs, domain.DownloadJob{
			Lecture:    lec,
			OutputPath: outputPath,
			Overwrite:  opts.Force,
		})
	}

	return plan, nil
}

// scanDownloaded maps already-downloaded sequence numbers to their filenames.
// Files are recognized by the leading number of their stem, so titles renamed
// on the platform still count as downloaded.
func (p *Planner) scanDownloaded(courseDir string, selected map[int]bool) map[int]string {
	out := make(map[int]string)
	entries, err := p.readDir(courseDir)
	if err != nil {
		return out
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mkv") {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), ".mkv")
		dot := strings.IndexByte(stem, '.')
		if dot <= 0 {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSpace(stem[:dot]))
		if err != nil || !selected[seq] {
			continue
		}
		out[seq] = entry.Name()
	}
	return out
}

// renameOld renames on-disk files whose name no longer matches the catalog.
func (p *Planner) renameOld(courseDir string, lectures []domain.Lecture, existing map[int]string) []Rename {
	var renamed []Rename
	for _, lec := range lectures {
		oldName, ok := existing[lec.SeqNo]
		if !ok {
			continue
		}
		newName := FileName(lec)
		if oldName == newName {
			continue
		}
		if err := p.rename(filepath.Join(courseDir, oldName), filepath.Join(courseDir, newName)); err != nil {
			continue
		}
		existing[lec.SeqNo] = newName
		renamed = append(renamed, Rename{From: oldName, To: newName})
	}
	return renamed
}

// alreadyDownloaded reports whether a non-empty output already exists.
func (p *Planner) alreadyDownloaded(courseDir, outputPath, existingName string) bool {
	if existingName != "" {
		if info, err := p.stat(filepath.Join(courseDir, existingName)); err == nil && info.Size() > 0 {
			return true
		}
	}
	info, err := p.stat(outputPath)
	return err == nil && info.Size() > 0
}

// FileName builds the deterministic output name for one lecture.
func FileName(lec domain.Lecture) string {
	date := lec.StartTime
	if len(date) > 10 {
		date = date[:10]
	}
	return Sanitize(fmt.Sprintf("%d. %s %s", lec.SeqNo, lec.Title, date)) + ".mkv"
}

// CourseDirName builds the per-course directory name under the destination root.
func CourseDirName(lec domain.Lecture) string {
	return Sanitize(strings.TrimSpace(lec.Subject + " " + lec.Session))
}

// Sanitize folds a name to NFKD and strips everything but a safe ASCII set.
func Sanitize(name string) string {
	folded := norm.NFKD.String(name)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune("-_.() ", r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NewForTests constructs a planner with injectable filesystem dependencies.
func NewForTests(
	stat func(name string) (os.FileInfo, error),
	readDir func(name string) ([]os.DirEntry, error),
	mkdirAll func(path string, perm os.FileMode) error,
	rename func(oldpath, newpath string) error,
) *Planner {
	return &Planner{
		stat:     stat,
		readDir:  readDir,
		mkdirAll: mkdirAll,
		rename:   rename,
	}
}
