package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iamkroot/ilc-scraper/internal/bootstrap"
)

func main() {
	opts := parseFlags(os.Args[1:])

	app, err := bootstrap.New()
	if err != nil {
		log.Fatalf("bootstrap app: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, opts); err != nil {
		if errors.Is(err, bootstrap.ErrDownloadsFailed) {
			// Per-job failures are already on screen.
			os.Exit(1)
		}
		log.Fatalf("run: %v", err)
	}
}

// usageText lists each option once; PrintDefaults would repeat every flag
// under both its short and long spelling.
const usageText = `Usage: ilc-scraper [options]
Download lecture-capture videos from an Impartus portal.

Options:
  -n, --name NAME        course name to match against the local database
  -c, --course-url URL   course URL from the portal (http://.../ilc/#/course/<id>/<id>)
  -r, --range EXPR       lecture range, e.g. "12", "4:9", "15:", ":10", "12,4:6,15:"
  -d, --dest DIR         download destination directory
  -q, --quality MARKER   preferred stream quality marker, e.g. 720p or 450p
  -u, --username USER    Impartus username (overrides saved settings)
  -p, --password PASS    Impartus password (overrides saved settings)
  -w, --workers N        number of parallel downloads (0 = one per CPU core)
  -a, --angle N          camera angle to keep (0 = all angles, 1 or 2 for a single one)
  -f, --force            re-download lectures that already exist on disk
  -o, --only-new         only download lectures newer than the last one on disk
  -k, --keep-no-class    keep lectures titled "no class"
  -R, --rename           rename previously downloaded files to the current naming scheme
  -l, --list             list courses in the local database and exit
      --timeout MINUTES  per-lecture download timeout in minutes (0 = default)
`

// parseFlags builds RunOptions from the CLI surface. Flag misuse exits 2.
func parseFlags(args []string) bootstrap.RunOptions {
	fs := flag.NewFlagSet("ilc-scraper", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usageText)
	}

	var opts bootstrap.RunOptions
	var timeoutMinutes int

	stringVar := func(p *string, short, long, usage string) {
		fs.StringVar(p, short, "", usage)
		fs.StringVar(p, long, "", usage)
	}
	boolVar := func(p *bool, short, long, usage string) {
		fs.BoolVar(p, short, false, usage)
		fs.BoolVar(p, long, false, usage)
	}

	stringVar(&opts.CourseName, "n", "name", "course name to match against the local database")
	stringVar(&opts.CourseURL, "c", "course-url", "course URL from the portal (http://.../ilc/#/course/<id>/<id>)")
	stringVar(&opts.RangeExpr, "r", "range", `lecture range, e.g. "12", "4:9", "15:", ":10", "12,4:6,15:"`)
	stringVar(&opts.Dest, "d", "dest", "download destination directory")
	stringVar(&opts.Quality, "q", "quality", "preferred stream quality marker, e.g. 720p or 450p")
	stringVar(&opts.Username, "u", "username", "Impartus username (overrides saved settings)")
	stringVar(&opts.Password, "p", "password", "Impartus password (overrides saved settings)")
	boolVar(&opts.Force, "f", "force", "re-download lectures that already exist on disk")
	boolVar(&opts.OnlyNew, "o", "only-new", "only download lectures newer than the last one on disk")
	boolVar(&opts.KeepNoClass, "k", "keep-no-class", `keep lectures titled "no class"`)
	boolVar(&opts.Rename, "R", "rename", "rename previously downloaded files to the current naming scheme")
	boolVar(&opts.ListCourses, "l", "list", "list courses in the local database and exit")
	fs.IntVar(&opts.Workers, "w", 0, "number of parallel downloads (0 = one per CPU core)")
	fs.IntVar(&opts.Workers, "workers", 0, "number of parallel downloads (0 = one per CPU core)")
	fs.IntVar(&opts.Angle, "a", 0, "camera angle to keep (0 = all angles, 1 or 2 for a single one)")
	fs.IntVar(&opts.Angle, "angle", 0, "camera angle to keep (0 = all angles, 1 or 2 for a single one)")
	fs.IntVar(&timeoutMinutes, "timeout", 0, "per-lecture download timeout in minutes (0 = default)")

	_ = fs.Parse(args)

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "a" || f.Name == "angle" {
			opts.AngleSet = true
		}
	})
	if timeoutMinutes > 0 {
		opts.Timeout = time.Duration(timeoutMinutes) * time.Minute
	}
	return opts
}
