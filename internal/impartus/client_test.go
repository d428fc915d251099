package impartus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestLoginStoresToken checks the signin form exchange on success.
func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/signin" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("username") != "f2016" || r.PostForm.Get("password") != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"token":"tok-123"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	if err := client.Login(context.Background(), "f2016", "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if client.Token() != "tok-123" {
		t.Fatalf("token = %q, want tok-123", client.Token())
	}
}

// TestLoginRejectedCredentials checks non-200 maps to AuthError.
func TestLoginRejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.Login(context.Background(), "f2016", "wrong")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type = %T, want *AuthError", err)
	}
	if authErr.Status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", authErr.Status)
	}
}

// TestLecturesNormalizesCatalog checks sorting and track URL construction.
func TestLecturesNormalizesCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/signin":
			_, _ = w.Write([]byte(`{"token":"tok-123"}`))
		case "/api/subjects/101/lectures/55":
			if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
				t.Fatalf("authorization header = %q", got)
			}
			// Newest-first, as the platform returns them.
			_, _ = w.Write([]byte(`[
				{"seqNo":2,"topic":"Paging","startTime":"2019-09-02 09:00","subjectName":"OS","sessionName":"Monsoon 2019","ttid":902,"views":2},
				{"seqNo":1,"topic":"Intro","startTime":"2019-08-26 09:00","subjectName":"OS","sessionName":"Monsoon 2019","ttid":901,"views":1}
			]`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	if err := client.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	lectures, err := client.Lectures(context.Background(), srv.URL+"/api/subjects/101/lectures/55")
	if err != nil {
		t.Fatalf("Lectures() error = %v", err)
	}
	if len(lectures) != 2 {
		t.Fatalf("lectures = %d, want 2", len(lectures))
	}
	if lectures[0].SeqNo != 1 || lectures[1].SeqNo != 2 {
		t.Fatalf("catalog not sorted ascending: %v, %v", lectures[0].SeqNo, lectures[1].SeqNo)
	}
	if len(lectures[0].TrackURLs) != 1 {
		t.Fatalf("single-view lecture tracks = %d, want 1", len(lectures[0].TrackURLs))
	}
	if len(lectures[1].TrackURLs) != 2 {
		t.Fatalf("two-view lecture tracks = %d, want 2", len(lectures[1].TrackURLs))
	}
	if !strings.Contains(lectures[1].TrackURLs[0], "ttid=902") ||
		!strings.Contains(lectures[1].TrackURLs[0], "type=index.m3u8") {
		t.Fatalf("primary track url = %q", lectures[1].TrackURLs[0])
	}
	if !strings.Contains(lectures[1].TrackURLs[1], "type=index2.m3u8") {
		t.Fatalf("secondary track url = %q", lectures[1].TrackURLs[1])
	}
}

// TestLecturesRemoteFailure checks non-2xx maps to RemoteError with body.
func TestLecturesRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("subscription required"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Lectures(context.Background(), srv.URL+"/api/subjects/1/lectures/2")
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("error type = %T, want *RemoteError", err)
	}
	if remoteErr.Status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", remoteErr.Status)
	}
	if !strings.Contains(remoteErr.Body, "subscription") {
		t.Fatalf("body = %q", remoteErr.Body)
	}
}

// TestLecturesNetworkFailure checks an unreachable host maps to RemoteError.
func TestLecturesNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL
	srv.Close() // nothing listens anymore

	client := NewClient(target)
	_, err := client.Lectures(context.Background(), target+"/api/subjects/1/lectures/2")
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("error type = %T, want *RemoteError", err)
	}
}

// TestParseCourseURL checks URL validation and the lectures endpoint mapping.
func TestParseCourseURL(t *testing.T) {
	client := NewClient("http://172.16.3.20/")

	got, err := client.ParseCourseURL("http://172.16.3.20/ilc/#/course/12345/789")
	if err != nil {
		t.Fatalf("ParseCourseURL() error = %v", err)
	}
	want := "http://172.16.3.20/api/subjects/12345/lectures/789"
	if got != want {
		t.Fatalf("lectures url = %q, want %q", got, want)
	}

	// Scheme is optional, trailing slash tolerated.
	if _, err := client.ParseCourseURL("172.16.3.20/ilc/#/course/1/2/"); err != nil {
		t.Fatalf("schemeless url rejected: %v", err)
	}

	if _, err := client.ParseCourseURL("http://example.com/other"); err == nil {
		t.Fatal("expected error for foreign url")
	}

	_, err = client.ParseCourseURL("https://a.impartus.com/ilc/#/course/1/2")
	if err == nil || !strings.Contains(err.Error(), "intranet") {
		t.Fatalf("expected intranet hint, got %v", err)
	}
}
