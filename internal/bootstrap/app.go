package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/schollz/progressbar/v3"

	"github.com/iamkroot/ilc-scraper/internal/config"
	"github.com/iamkroot/ilc-scraper/internal/courses"
	"github.com/iamkroot/ilc-scraper/internal/diagnostics"
	"github.com/iamkroot/ilc-scraper/internal/domain"
	"github.com/iamkroot/ilc-scraper/internal/hls"
	"github.com/iamkroot/ilc-scraper/internal/impartus"
	"github.com/iamkroot/ilc-scraper/internal/jobs"
	"github.com/iamkroot/ilc-scraper/internal/planner"
	"github.com/iamkroot/ilc-scraper/internal/ranges"
)

// ErrDownloadsFailed signals a finished batch with at least one failed job.
var ErrDownloadsFailed = errors.New("some downloads failed")

// RunOptions carries the CLI surface into one batch run. Zero values defer
// to persisted settings.
type RunOptions struct {
	CourseName  string
	CourseURL   string
	RangeExpr   string
	Dest        string
	Workers     int
	Force       bool
	OnlyNew     bool
	KeepNoClass bool
	Rename      bool
	Angle       int
	AngleSet    bool
	Quality     string
	Username    string
	Password    string
	Timeout     time.Duration
	ListCourses bool
}

// App wires configuration, the course index, batch lifecycle, and the
// download pipeline into one end-to-end run.
type App struct {
	Settings domain.Settings
	Store    config.Store
	Courses  *courses.Index
	Jobs     *jobs.Manager
	Events   *jobs.EventBus

	checker *diagnostics.Checker
	dataDir string
	stdout  io.Writer

	newRunner func(token, quality string, angle int) jobs.Runner
	prompt    func(label string, masked bool) (string, error)
}

// New builds the application with persisted settings and the course index.
func New() (*App, error) {
	dataDir := config.DataDir()
	store := config.NewJSONStore(filepath.Join(dataDir, "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	return &App{
		Settings: settings,
		Store:    store,
		Courses:  courses.Open(filepath.Join(dataDir, "courses.db"), nil),
		Jobs:     jobs.NewManager(),
		Events:   jobs.NewEventBus(1000),
		checker:  diagnostics.NewChecker(),
		dataDir:  dataDir,
		stdout:   os.Stdout,
		newRunner: func(token, quality string, angle int) jobs.Runner {
			return hls.New(token, quality, angle)
		},
		prompt: promptText,
	}, nil
}

// Close releases persistent resources.
func (a *App) Close() error {
	if a.Courses == nil {
		return nil
	}
	return a.Courses.Close()
}

// Run executes one full batch: preflight, login, catalog fetch, planning,
// and dispatch. Planning-stage errors (bad range, bad course, bad auth)
// abort before any job starts; job failures surface as ErrDownloadsFailed
// after the full report is printed.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	if opts.ListCourses {
		return a.listCourses()
	}

	settings := mergeOptions(a.Settings, opts)

	// The range expression is validated before any network work.
	selection, err := ranges.Parse(opts.RangeExpr)
	if err != nil {
		return err
	}

	report := a.checker.Run(settings, a.dataDir)
	if report.HasFailures {
		for _, item := range report.Items {
			if item.Status == domain.DiagnosticStatusFail {
				fmt.Fprintf(a.stdout, "%s: %s\n", item.Name, item.Message)
				if item.Hint != "" {
					fmt.Fprintf(a.stdout, "  hint: %s\n", item.Hint)
				}
			}
		}
		return errors.New("preflight checks failed")
	}

	settings, err = a.ensureCredentials(settings)
	if err != nil {
		return err
	}

	batchID := fmt.Sprintf("batch-%d", time.Now().UnixNano())
	if err := a.Jobs.Start(batchID); err != nil {
		return err
	}
	a.publishStatus(batchID, domain.BatchStatusFetching, "Logging in")

	client := impartus.NewClient(settings.BaseURL)
	if err := client.Login(ctx, settings.Username, settings.Password); err != nil {
		a.failBatch(batchID, err)
		return err
	}

	lecturesURL, err := a.resolveCourse(client, opts)
	if err != nil {
		a.failBatch(batchID, err)
		return err
	}

	lectures, err := client.Lectures(ctx, lecturesURL)
	if err != nil {
		a.failBatch(batchID, err)
		return describeRemoteError(err)
	}
	if len(lectures) == 0 {
		a.finishBatch(batchID, domain.BatchStatusDone, "Course has no lectures")
		fmt.Fprintln(a.stdout, "Course has no lectures yet. Exiting.")
		return nil
	}

	a.registerCourse(lectures[0], lecturesURL)

	_ = a.Jobs.Transition(domain.BatchStatusPlanning)
	a.publishStatus(batchID, domain.BatchStatusPlanning, "Planning downloads")

	plan, err := planner.New().Build(lectures, settings.OutputDir, planner.Options{
		Selection:   selection,
		Force:       opts.Force,
		OnlyNew:     opts.OnlyNew,
		KeepNoClass: opts.KeepNoClass,
		Rename:      opts.Rename,
	})
	if err != nil {
		a.failBatch(batchID, err)
		return err
	}
	fmt.Fprintf(a.stdout, "Saving to %q\n", plan.CourseDir)
	a.describePlan(plan)

	if len(plan.Jobs) == 0 {
		a.finishBatch(batchID, domain.BatchStatusDone, "Nothing to download")
		fmt.Fprintln(a.stdout, "No lectures to download. Exiting.")
		return nil
	}

	_ = a.Jobs.Transition(domain.BatchStatusDownloading)
	a.publishStatus(batchID, domain.BatchStatusDownloading, fmt.Sprintf("Downloading %d lecture(s)", len(plan.Jobs)))

	timeout := opts.Timeout
	if timeout <= 0 && settings.TimeoutMinutes > 0 {
		timeout = time.Duration(settings.TimeoutMinutes) * time.Minute
	}

	runner := a.newRunner(client.Token(), settings.Quality, settings.Angle)
	dispatcher := jobs.NewDispatcher(runner, settings.Workers, timeout, a.Events, batchID)

	bar := progressbar.NewOptions(len(plan.Jobs),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetItsString("lecture"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(a.stdout),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(a.stdout) }),
	)
	result := dispatcher.Run(ctx, plan.Jobs, len(plan.Skipped), func(res domain.JobResult) {
		_ = bar.Add(1)
		if res.Status == domain.JobStatusFailed {
			fmt.Fprintf(a.stdout, "\nLecture %d failed: %s\n", res.Job.Lecture.SeqNo, failureDetail(res.Failure))
		}
	})

	a.printReport(result)

	switch {
	case ctx.Err() != nil:
		a.finishBatch(batchID, domain.BatchStatusCancelled, "Batch cancelled")
		return ctx.Err()
	case result.HasFailures():
		a.finishBatch(batchID, domain.BatchStatusFailed, "Batch finished with failures")
		return ErrDownloadsFailed
	default:
		a.finishBatch(batchID, domain.BatchStatusDone, "Batch finished")
		return nil
	}
}

// listCourses prints every course known to the local index.
func (a *App) listCourses() error {
	known := a.Courses.All()
	if len(known) == 0 {
		fmt.Fprintln(a.stdout, "No courses in the local database yet. Download one via its URL first.")
		return nil
	}
	for _, course := range known {
		fmt.Fprintf(a.stdout, "%s\t%s\n", course.FullName, course.LecturesURL)
	}
	return nil
}

// ensureCredentials prompts for any missing credential and persists settings.
func (a *App) ensureCredentials(settings domain.Settings) (domain.Settings, error) {
	changed := false
	if strings.TrimSpace(settings.Username) == "" {
		value, err := a.prompt("Impartus username", false)
		if err != nil {
			return settings, fmt.Errorf("read username: %w", err)
		}
		settings.Username = strings.TrimSpace(value)
		changed = true
	}
	if settings.Password == "" {
		value, err := a.prompt("Impartus password", true)
		if err != nil {
			return settings, fmt.Errorf("read password: %w", err)
		}
		settings.Password = value
		changed = true
	}

	if changed {
		if err := a.Store.Save(settings); err != nil {
			log.Printf("could not persist settings: %v", err)
		}
	}
	return settings, nil
}

// resolveCourse turns the CLI course inputs into a lectures URL.
func (a *App) resolveCourse(client *impartus.Client, opts RunOptions) (string, error) {
	if opts.CourseURL != "" {
		return client.ParseCourseURL(opts.CourseURL)
	}
	if opts.CourseName != "" {
		course, ok := a.Courses.Lookup(opts.CourseName)
		if !ok {
			return "", fmt.Errorf(
				"course %q not found in the local database; download it once via its URL (-c)",
				opts.CourseName,
			)
		}
		fmt.Fprintf(a.stdout, "Matched course: %s\n", course.FullName)
		return course.LecturesURL, nil
	}

	raw, err := a.prompt("Course URL (e.g. http://172.16.3.20/ilc/#/course/12345/789)", false)
	if err != nil {
		return "", fmt.Errorf("read course url: %w", err)
	}
	return client.ParseCourseURL(raw)
}

// registerCourse upserts the fetched course into the local index.
func (a *App) registerCourse(first domain.Lecture, lecturesURL string) {
	course := domain.Course{
		FullName:    courseFullName(first),
		LecturesURL: lecturesURL,
	}
	if course.FullName == "" {
		return
	}
	if err := a.Courses.Insert(course); err != nil {
		log.Printf("could not persist course mapping: %v", err)
	}
}

// describePlan prints skip and rename decisions before dispatch.
func (a *App) describePlan(plan planner.Plan) {
	for _, renamed := range plan.Renamed {
		fmt.Fprintf(a.stdout, "Renamed %q to %q\n", renamed.From, renamed.To)
	}

	var downloaded, noClass []int
	for _, skip := range plan.Skipped {
		switch skip.Reason {
		case planner.SkipAlreadyDownloaded:
			downloaded = append(downloaded, skip.Lecture.SeqNo)
		case planner.SkipNoClass:
			noClass = append(noClass, skip.Lecture.SeqNo)
		}
	}
	if len(downloaded) > 0 {
		fmt.Fprintf(a.stdout, "Skipping already downloaded lectures: %s\n", joinSeqs(downloaded))
	}
	if len(noClass) > 0 {
		fmt.Fprintf(a.stdout, "Skipping 'no class' lectures: %s (pass -k to keep them)\n", joinSeqs(noClass))
	}
}

// printReport prints the final per-batch accounting.
func (a *App) printReport(report jobs.Report) {
	fmt.Fprintf(a.stdout, "Finished: %d succeeded, %d skipped, %d failed\n",
		report.Succeeded, report.Skipped, len(report.Failed))
	for _, failed := range report.Failed {
		fmt.Fprintf(a.stdout, "  lecture %d: %s\n", failed.Job.Lecture.SeqNo, failureDetail(failed.Failure))
	}
}

// publishStatus sends a normalized batch status event.
func (a *App) publishStatus(batchID string, status domain.BatchStatus, message string) {
	a.Events.Publish(jobs.Event{
		BatchID:     batchID,
		Type:        jobs.EventTypeStatus,
		BatchStatus: status,
		Message:     message,
	})
}

// failBatch marks the batch failed and records the error event.
func (a *App) failBatch(batchID string, err error) {
	_ = a.Jobs.Transition(domain.BatchStatusFailed)
	a.Events.Publish(jobs.Event{
		BatchID: batchID,
		Type:    jobs.EventTypeError,
		Message: err.Error(),
	})
}

// finishBatch applies the terminal transition and status event.
func (a *App) finishBatch(batchID string, status domain.BatchStatus, message string) {
	_ = a.Jobs.Transition(status)
	a.publishStatus(batchID, status, message)
}

// mergeOptions overlays CLI flags on persisted settings.
func mergeOptions(settings domain.Settings, opts RunOptions) domain.Settings {
	if opts.Username != "" {
		settings.Username = opts.Username
	}
	if opts.Password != "" {
		settings.Password = opts.Password
	}
	if opts.Dest != "" {
		settings.OutputDir = opts.Dest
	}
	if opts.Quality != "" {
		settings.Quality = opts.Quality
	}
	if opts.Workers > 0 {
		settings.Workers = opts.Workers
	}
	if opts.AngleSet {
		settings.Angle = opts.Angle
	}
	return settings
}

// courseFullName builds the canonical course name from the first record.
func courseFullName(lec domain.Lecture) string {
	return strings.TrimSpace(lec.Subject + " " + lec.Session)
}

// describeRemoteError upgrades the documented 403 enforcement case to an
// auth-style message instead of a bare status code.
func describeRemoteError(err error) error {
	var remoteErr *impartus.RemoteError
	if errors.As(err, &remoteErr) && remoteErr.Status == 403 {
		return fmt.Errorf(
			"the platform refused the lecture list (subscription enforcement?); "+
				"check that the account can access this course: %w", err,
		)
	}
	return err
}

// failureDetail formats one job failure for the report.
func failureDetail(failure *domain.JobFailure) string {
	if failure == nil {
		return "unknown failure"
	}
	if failure.Detail == "" {
		return string(failure.Kind)
	}
	return fmt.Sprintf("%s (%s)", failure.Detail, failure.Kind)
}

// joinSeqs renders sequence numbers as a comma-separated list.
func joinSeqs(seqs []int) string {
	parts := make([]string, len(seqs))
	for i, seq := range seqs {
		parts[i] = fmt.Sprint(seq)
	}
	return strings.Join(parts, ", ")
}

// promptText reads one interactive value, masking it when asked.
func promptText(label string, masked bool) (string, error) {
	prompt := promptui.Prompt{Label: label}
	if masked {
		prompt.Mask = '*'
	}
	return prompt.Run()
}
