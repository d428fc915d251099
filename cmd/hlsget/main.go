// Command hlsget downloads a single Impartus HLS stream to an mkv file.
// It is the low-level counterpart of the main CLI: no catalog, no planning,
// just one fetchvideo URL and one output path.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iamkroot/ilc-scraper/internal/domain"
	"github.com/iamkroot/ilc-scraper/internal/hls"
)

func main() {
	token := flag.String("token", "", "session token for the stream URL (required)")
	output := flag.String("output", "lecture.mkv", "output file path")
	quality := flag.String("quality", "720p", "preferred stream quality marker")
	angle := flag.Int("angle", 0, "camera angle to keep (0 = all angles)")
	timeout := flag.Int("timeout", 45, "download timeout in minutes (0 = none)")
	force := flag.Bool("force", false, "overwrite the output file if it exists")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: hlsget [options] <master-playlist-url>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 || *token == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*timeout)*time.Minute)
		defer cancel()
	}

	job := domain.DownloadJob{
		Lecture:    domain.Lecture{TrackURLs: []string{flag.Arg(0)}},
		OutputPath: *output,
		Overwrite:  *force,
	}
	if err := hls.New(*token, *quality, *angle).Download(ctx, job); err != nil {
		log.Fatalf("download: %v", err)
	}
	fmt.Printf("Saved %s\n", *output)
}
