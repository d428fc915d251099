package domain

// Course maps a human-readable course name to its lecture-list endpoint.
type Course struct {
	FullName    string `json:"fullName"`
	LecturesURL string `json:"lecturesUrl"`
}

// Lecture is one catalog entry, fetched fresh per run.
type Lecture struct {
	SeqNo     int      `json:"seqNo"`
	Title     string   `json:"title"`
	StartTime string   `json:"startTime"`
	Professor string   `json:"professor"`
	Subject   string   `json:"subject"`
	Session   string   `json:"session"`
	TTID      int64    `json:"ttid"`
	Views     int      `json:"views"`
	TrackURLs []string `json:"trackUrls"`
}

// DownloadJob is one unit of work produced by the planner.
type DownloadJob struct {
	Lecture    Lecture `json:"lecture"`
	OutputPath string  `json:"outputPath"`
	Overwrite  bool    `json:"overwrite"`
}

// JobStatus is the terminal outcome of one download job.
type JobStatus string

const (
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusSkipped   JobStatus = "skipped"
	JobStatusFailed    JobStatus = "failed"
)

// FailureKind classifies why a download job failed.
type FailureKind string

const (
	FailureToolNotFound       FailureKind = "toolNotFound"
	FailureNonZeroExit        FailureKind = "nonZeroExit"
	FailureTimeout            FailureKind = "timeout"
	FailureNetworkUnreachable FailureKind = "networkUnreachable"
	FailureInternal           FailureKind = "internal"
)

// JobFailure carries the classified reason for one failed job.
type JobFailure struct {
	Kind     FailureKind `json:"kind"`
	ExitCode int         `json:"exitCode"`
	Detail   string      `json:"detail"`
}

// JobResult pairs a job with its outcome for the final report.
type JobResult struct {
	Job     DownloadJob `json:"job"`
	Status  JobStatus   `json:"status"`
	Failure *JobFailure `json:"failure,omitempty"`
}

// BatchStatus tracks the lifecycle of one download batch.
type BatchStatus string

const (
	BatchStatusIdle        BatchStatus = "idle"
	BatchStatusFetching    BatchStatus = "fetching"
	BatchStatusPlanning    BatchStatus = "planning"
	BatchStatusDownloading BatchStatus = "downloading"
	BatchStatusDone        BatchStatus = "done"
	BatchStatusFailed      BatchStatus = "failed"
	BatchStatusCancelled   BatchStatus = "cancelled"
)

// Batch stores the current batch identity and lifecycle status.
type Batch struct {
	ID     string      `json:"id"`
	Status BatchStatus `json:"status"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	BaseURL        string `json:"baseUrl"`
	OutputDir      string `json:"outputDir"`
	Quality        string `json:"quality"`
	Angle          int    `json:"angle"`
	Workers        int    `json:"workers"`
	TimeoutMinutes int    `json:"timeoutMinutes"`
}
