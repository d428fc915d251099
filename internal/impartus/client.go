package impartus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/iamkroot/ilc-scraper/internal/domain"
)

// DefaultBaseURL is the intranet host the lecture-capture portal runs on.
const DefaultBaseURL = "http://172.16.3.20/"

// AuthError reports rejected credentials on login.
type AuthError struct {
	Status int
}

// Error formats the login failure for user-facing output.
func (e *AuthError) Error() string {
	return fmt.Sprintf("invalid username/password (status %d)", e.Status)
}

// RemoteError reports an HTTP or network failure talking to the platform.
type RemoteError struct {
	Status  int
	Body    string
	Timeout bool
	Err     error
}

// Error summarizes the remote failure.
func (e *RemoteError) Error() string {
	if e.Timeout {
		return "remote request timed out"
	}
	if e.Status != 0 {
		return fmt.Sprintf("remote request failed: status %d", e.Status)
	}
	return fmt.Sprintf("remote request failed: %v", e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Client talks to the Impartus unauthenticated-read API.
type Client struct {
	baseURL   string
	httpc     *http.Client
	limiter   *rate.Limiter
	coursePat *regexp.Regexp
	token     string
}

// NewClient builds a client for the given portal base URL.
func NewClient(baseURL string) *Client {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	host := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		host = u.Host
	}

	return &Client{
		baseURL: base,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		// The portal throttles aggressive clients; four requests a second
		// is comfortably below its limit.
		limiter: rate.NewLimiter(rate.Limit(4), 8),
		coursePat: regexp.MustCompile(
			`(?:https?://)?` + regexp.QuoteMeta(host) + `/ilc/#/course/(\d+)/(\d+)/?`,
		),
	}
}

// Token returns the session token obtained by Login.
func (c *Client) Token() string {
	return c.token
}

// ParseCourseURL converts a portal course URL into its lectures endpoint.
func (c *Client) ParseCourseURL(raw string) (string, error) {
	m := c.coursePat.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		msg := "course URL doesn't match the required pattern"
		if strings.Contains(raw, "a.impartus") {
			msg += " (use the intranet link, not the a.impartus cloud host)"
		}
		return "", errors.New(msg)
	}
	return fmt.Sprintf("%sapi/subjects/%s/lectures/%s", c.baseURL, m[1], m[2]), nil
}

// Login exchanges credentials for a session token via api/auth/signin.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{
		"username": {username},
		"password": {password},
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"api/auth/signin",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &AuthError{Status: resp.StatusCode}
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if payload.Token == "" {
		return &AuthError{Status: resp.StatusCode}
	}
	c.token = payload.Token
	return nil
}

// lectureRecord is the wire shape of one catalog entry.
type lectureRecord struct {
	SeqNo       int    `json:"seqNo"`
	Topic       string `json:"topic"`
	StartTime   string `json:"startTime"`
	Professor   string `json:"professorName"`
	SubjectName string `json:"subjectName"`
	SessionName string `json:"sessionName"`
	TTID        int64  `json:"ttid"`
	Views       int    `json:"views"`
}

// Lectures fetches and normalizes the catalog behind a lectures URL.
//
// The listing endpoint does not enforce per-course subscription; only the
// bare session token is presented. Records come back newest-first and are
// normalized to ascending sequence order.
func (c *Client) Lectures(ctx context.Context, lecturesURL string) ([]domain.Lecture, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lecturesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build lectures request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RemoteError{Status: resp.StatusCode, Body: string(body)}
	}

	var records []lectureRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode lectures response: %w", err)
	}

	lectures := make([]domain.Lecture, 0, len(records))
	for _, rec := range records {
		lectures = append(lectures, domain.Lecture{
			SeqNo:     rec.SeqNo,
			Title:     rec.Topic,
			StartTime: rec.StartTime,
			Professor: rec.Professor,
			Subject:   rec.SubjectName,
			Session:   rec.SessionName,
			TTID:      rec.TTID,
			Views:     rec.Views,
			TrackURLs: c.trackURLs(rec),
		})
	}
	sort.Slice(lectures, func(i, j int) bool {
		return lectures[i].SeqNo < lectures[j].SeqNo
	})
	return lectures, nil
}

// trackURLs builds the stream URLs for a record, primary camera angle first.
func (c *Client) trackURLs(rec lectureRecord) []string {
	urls := []string{c.StreamURL(rec.TTID, 1)}
	if rec.Views >= 2 {
		urls = append(urls, c.StreamURL(rec.TTID, 2))
	}
	return urls
}

// StreamURL builds the fetchvideo master-playlist URL for one track (1 or 2).
func (c *Client) StreamURL(ttid int64, track int) string {
	manifest := "index.m3u8"
	if track == 2 {
		manifest = "index2.m3u8"
	}
	return fmt.Sprintf("%sapi/fetchvideo?ttid=%d&token=%s&type=%s", c.baseURL, ttid, c.token, manifest)
}

// do applies the rate limiter and classifies transport-level failures.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RemoteError{Err: err, Timeout: errors.Is(err, context.DeadlineExceeded)}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		remote := &RemoteError{Err: err}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			remote.Timeout = true
		}
		if errors.Is(err, context.DeadlineExceeded) {
			remote.Timeout = true
		}
		return nil, remote
	}
	return resp, nil
}
