package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/grafov/m3u8"

	"github.com/iamkroot/ilc-scraper/internal/domain"
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// DownloadError is a classified per-job failure with optional command context.
type DownloadError struct {
	Kind       domain.FailureKind `json:"kind"`
	ExitCode   int                `json:"exitCode"`
	Message    string             `json:"message"`
	CommandLog CommandLog         `json:"commandLog"`
	Err        error              `json:"-"`
}

// Error formats download failures for logs and the final report.
func (e *DownloadError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Kind, e.Message, e.CommandLog.Command, e.ExitCode)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *DownloadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Failure converts the error into the report's job-failure record.
func (e *DownloadError) Failure() domain.JobFailure {
	detail := e.Message
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	return domain.JobFailure{Kind: e.Kind, ExitCode: e.ExitCode, Detail: detail}
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// keyURIPat extracts the key URL from an #EXT-X-KEY line.
var keyURIPat = regexp.MustCompile(`URI="(.*?)"`)

// Downloader drives ffmpeg to mux one lecture's HLS tracks into one file.
type Downloader struct {
	ffmpegPath string
	token      string
	quality    string
	angle      int
	httpc      *http.Client
	runner     commandRunner
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	stat       func(name string) (os.FileInfo, error)
	rename     func(oldpath, newpath string) error
	remove     func(name string) error
	writeFile  func(name string, data []byte, perm os.FileMode) error
	notice     func(format string, args ...any)
}

// New constructs the production downloader with OS dependencies.
// Quality is the preferred variant rung ("720p" or "450p"); angle selects a
// single camera angle (1 or 2), or 0 for all available angles.
func New(token, quality string, angle int) *Downloader {
	return &Downloader{
		ffmpegPath: "ffmpeg",
		token:      token,
		quality:    quality,
		angle:      angle,
		httpc:      &http.Client{Timeout: 60 * time.Second},
		runner:     &execRunner{},
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		stat:       os.Stat,
		rename:     os.Rename,
		remove:     os.Remove,
		writeFile:  os.WriteFile,
		notice:     func(format string, args ...any) { fmt.Printf(format+"\n", args...) },
	}
}

// Download resolves the job's track URLs and produces its output file.
//
// All intermediate artifacts live in a per-job workspace served over a
// loopback HTTP listener (ffmpeg only honors -cookies on http inputs).
// The output is written to a .part path and renamed into place only on a
// clean ffmpeg exit, so the final path never holds a partial file.
func (d *Downloader) Download(ctx context.Context, job domain.DownloadJob) error {
	workspace, err := d.mkdirTemp("", "ilc-scraper-*")
	if err != nil {
		return &DownloadError{Kind: domain.FailureInternal, Message: "create workspace", Err: err}
	}
	defer func() { _ = d.removeAll(workspace) }()

	var angles [][]string
	for _, trackURL := range job.Lecture.TrackURLs {
		trackAngles, err := d.resolveTrack(ctx, trackURL)
		if err != nil {
			return err
		}
		angles = append(angles, trackAngles...)
	}
	if len(angles) == 0 {
		return &DownloadError{Kind: domain.FailureNetworkUnreachable, Message: "no video streams found"}
	}

	selected := d.angle
	if selected > len(angles) {
		d.notice("Invalid angle %d selected, downloading all %d available angle(s)", selected, len(angles))
		selected = 0
	}
	if selected > 0 {
		angles = angles[selected-1 : selected]
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return &DownloadError{Kind: domain.FailureInternal, Message: "start loopback server", Err: err}
	}
	server := &http.Server{Handler: http.FileServer(http.Dir(workspace))}
	go func() { _ = server.Serve(listener) }()
	defer func() { _ = server.Close() }()
	serveBase := "http://" + listener.Addr().String()

	inputs := make([]string, 0, len(angles))
	for i, lines := range angles {
		if err := d.localizeKeys(ctx, lines, workspace, serveBase, i); err != nil {
			return err
		}
		name := fmt.Sprintf("angle%d.m3u8", i+1)
		content := strings.Join(lines, "\n") + "\n"
		if err := d.writeFile(filepath.Join(workspace, name), []byte(content), 0o644); err != nil {
			return &DownloadError{Kind: domain.FailureInternal, Message: "write playlist", Err: err}
		}
		inputs = append(inputs, serveBase+"/"+name)
	}

	partPath := job.OutputPath + ".part"
	_ = d.remove(partPath)

	args := buildFFmpegArgs(inputs, d.token, partPath)
	result, runErr := d.runner.Run(ctx, d.ffmpegPath, args...)
	log := CommandLog{
		Command:  d.ffmpegPath,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if runErr != nil {
		_ = d.remove(partPath)
		return classifyRunError(ctx, runErr, log)
	}

	info, err := d.stat(partPath)
	if err != nil || info.Size() == 0 {
		_ = d.remove(partPath)
		return &DownloadError{
			Kind:       domain.FailureNonZeroExit,
			Message:    "ffmpeg exited cleanly but produced no output",
			CommandLog: log,
			Err:        err,
		}
	}

	if job.Overwrite {
		_ = d.remove(job.OutputPath)
	}
	if err := d.rename(partPath, job.OutputPath); err != nil {
		_ = d.remove(partPath)
		return &DownloadError{Kind: domain.FailureInternal, Message: "finalize output", Err: err}
	}
	return nil
}

// resolveTrack fetches one track's master playlist, picks the preferred
// variant, and splits the variant playlist into camera-angle playlists.
func (d *Downloader) resolveTrack(ctx context.Context, streamURL string) ([][]string, error) {
	master, err := d.fetch(ctx, streamURL)
	if err != nil {
		return nil, err
	}

	variantURL, err := pickVariant(master, streamURL, d.quality)
	if err != nil {
		return nil, &DownloadError{Kind: domain.FailureNetworkUnreachable, Message: err.Error(), Err: err}
	}

	variant, err := d.fetch(ctx, variantURL)
	if err != nil {
		return nil, err
	}
	return splitAngles(strings.Split(strings.TrimRight(string(variant), "\n"), "\n")), nil
}

// fetch GETs one URL with the session cookie attached.
func (d *Downloader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &DownloadError{Kind: domain.FailureNetworkUnreachable, Message: "build request", Err: err}
	}
	req.AddCookie(&http.Cookie{Name: "Bearer", Value: d.token})

	resp, err := d.httpc.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &DownloadError{Kind: domain.FailureTimeout, Message: "fetch " + rawURL, Err: err}
		}
		return nil, &DownloadError{Kind: domain.FailureNetworkUnreachable, Message: "fetch " + rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{
			Kind:    domain.FailureNetworkUnreachable,
			Message: fmt.Sprintf("fetch %s: status %d", rawURL, resp.StatusCode),
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DownloadError{Kind: domain.FailureNetworkUnreachable, Message: "read " + rawURL, Err: err}
	}
	return data, nil
}

// pickVariant selects the media-playlist URL for the preferred quality rung,
// falling back to the highest-bandwidth variant. A media playlist passes
// through unchanged (live streams skip the master level).
func pickVariant(master []byte, masterURL, quality string) (string, error) {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(master), true)
	if err != nil {
		return "", fmt.Errorf("decode master playlist: %w", err)
	}
	if listType != m3u8.MASTER {
		return masterURL, nil
	}

	mpl := playlist.(*m3u8.MasterPlaylist)
	if len(mpl.Variants) == 0 {
		return "", errors.New("master playlist has no variants")
	}

	marker := strings.TrimSuffix(quality, "p")
	chosen := mpl.Variants[0]
	for _, v := range mpl.Variants {
		if marker != "" && (strings.Contains(v.URI, marker) || strings.Contains(v.Resolution, marker)) {
			chosen = v
			break
		}
		if v.Bandwidth > chosen.Bandwidth {
			chosen = v
		}
	}

	base, err := url.Parse(masterURL)
	if err != nil {
		return "", fmt.Errorf("parse master url: %w", err)
	}
	ref, err := base.Parse(chosen.URI)
	if err != nil {
		return "", fmt.Errorf("resolve variant url: %w", err)
	}
	return ref.String(), nil
}

// splitAngles splits a variant playlist at #EXT-X-DISCONTINUITY into one
// playlist per camera angle. The header section ends at the first
// #EXT-X-KEY; a second angle inherits the preceding key line when it lacks
// its own. An unencrypted playlist is a single angle.
func splitAngles(lines []string) [][]string {
	headersEnd := indexPrefix(lines, "#EXT-X-KEY", false)
	if headersEnd < 0 {
		return [][]string{lines}
	}

	discontinuity := indexPrefix(lines, "#EXT-X-DISCONTINUITY", false)
	if discontinuity < 0 {
		return [][]string{lines}
	}

	angle1 := append(append([]string{}, lines[:discontinuity]...), "#EXT-X-ENDLIST")

	tail := append([]string{}, lines[discontinuity+1:]...)
	if len(tail) == 0 || !strings.HasPrefix(tail[0], "#EXT-X-KEY") {
		lastKey := indexPrefix(angle1, "#EXT-X-KEY", true)
		if lastKey >= 0 {
			tail = append([]string{angle1[lastKey]}, tail...)
		}
	}
	angle2 := append(append([]string{}, lines[:headersEnd]...), tail...)
	return [][]string{angle1, angle2}
}

// indexPrefix finds the first (or last) line with the given prefix.
func indexPrefix(lines []string, prefix string, last bool) int {
	found := -1
	for i, line := range lines {
		if strings.HasPrefix(line, prefix) {
			if !last {
				return i
			}
			found = i
		}
	}
	return found
}

// localizeKeys fetches every encryption key in the playlist, recovers the
// real key, stores it in the workspace, and rewrites the URI to the served
// local copy. The playlist is modified in place.
func (d *Downloader) localizeKeys(ctx context.Context, lines []string, workspace, serveBase string, angle int) error {
	keyNo := 0
	for i, line := range lines {
		if !strings.HasPrefix(line, "#EXT-X-KEY") || strings.HasPrefix(line, "#EXT-X-KEY:METHOD=NONE") {
			continue
		}
		m := keyURIPat.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		raw, err := d.fetch(ctx, m[1])
		if err != nil {
			return err
		}

		name := fmt.Sprintf("angle%d-key%d.key", angle+1, keyNo)
		keyNo++
		if err := d.writeFile(filepath.Join(workspace, name), transformKey(raw), 0o644); err != nil {
			return &DownloadError{Kind: domain.FailureInternal, Message: "write key file", Err: err}
		}
		lines[i] = keyURIPat.ReplaceAllString(line, `URI="`+serveBase+"/"+name+`"`)
	}
	return nil
}

// transformKey recovers the AES key: the platform serves it byte-reversed
// with trailing garbage, so reverse and keep the first 16 bytes.
func transformKey(raw []byte) []byte {
	reversed := make([]byte, len(raw))
	for i, b := range raw {
		reversed[len(raw)-1-i] = b
	}
	if len(reversed) > 16 {
		reversed = reversed[:16]
	}
	return reversed
}

// buildFFmpegArgs builds the single ffmpeg invocation muxing every input
// playlist into one container with one video track per input.
func buildFFmpegArgs(inputs []string, token, outPath string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-loglevel", "error"}
	for _, input := range inputs {
		args = append(args,
			"-cookies", "Bearer="+token+"; path=/",
			"-allowed_extensions", "key,m3u8,ts",
			"-protocol_whitelist", "file,http,https,tcp,tls,crypto",
			"-i", input,
		)
	}
	for i := range inputs {
		args = append(args, "-map", fmt.Sprintf("%d:v:0", i))
	}
	// First audio stream only; the angles are assumed in sync.
	args = append(args, "-map", "0:a:0", "-c", "copy", "-f", "matroska", outPath)
	return args
}

// classifyRunError maps a failed ffmpeg run to a DownloadError kind.
func classifyRunError(ctx context.Context, runErr error, log CommandLog) *DownloadError {
	switch {
	case errors.Is(runErr, exec.ErrNotFound):
		return &DownloadError{
			Kind:       domain.FailureToolNotFound,
			Message:    "ffmpeg not found in PATH",
			CommandLog: log,
			Err:        runErr,
		}
	case ctx.Err() == context.DeadlineExceeded:
		return &DownloadError{
			Kind:       domain.FailureTimeout,
			ExitCode:   log.ExitCode,
			Message:    "download timed out",
			CommandLog: log,
			Err:        context.DeadlineExceeded,
		}
	case ctx.Err() == context.Canceled:
		return &DownloadError{
			Kind:       domain.FailureInternal,
			ExitCode:   log.ExitCode,
			Message:    "download cancelled",
			CommandLog: log,
			Err:        context.Canceled,
		}
	default:
		return &DownloadError{
			Kind:       domain.FailureNonZeroExit,
			ExitCode:   log.ExitCode,
			Message:    "ffmpeg exited with an error",
			CommandLog: log,
			Err:        runErr,
		}
	}
}

// NewForTests constructs a downloader with injectable dependencies.
func NewForTests(
	ffmpegPath, token, quality string,
	angle int,
	httpc *http.Client,
	runner commandRunner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	stat func(name string) (os.FileInfo, error),
) *Downloader {
	return &Downloader{
		ffmpegPath: ffmpegPath,
		token:      token,
		quality:    quality,
		angle:      angle,
		httpc:      httpc,
		runner:     runner,
		mkdirTemp:  mkdirTemp,
		removeAll:  removeAll,
		stat:       stat,
		rename:     os.Rename,
		remove:     os.Remove,
		writeFile:  os.WriteFile,
		notice:     func(format string, args ...any) {},
	}
}
