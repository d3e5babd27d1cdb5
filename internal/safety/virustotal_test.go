package safety

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const knownFileHash = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" // sha256("hello")

func newTestVT(url string) *VirusTotal {
	vt := NewVirusTotal("test-key", nil)
	vt.apiURL = url
	vt.pollInterval = 5 * time.Millisecond
	return vt
}

func statsJSON(malicious, harmless int) string {
	return fmt.Sprintf(`{"malicious":%d,"suspicious":0,"undetected":10,"harmless":%d,"timeout":0}`, malicious, harmless)
}

func TestVirusTotalKnownFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-apikey") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.URL.Path != "/files/"+knownFileHash {
			t.Errorf("path = %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"data":{"id":"%s","attributes":{"last_analysis_stats":%s}}}`, knownFileHash, statsJSON(2, 58))
	}))
	defer srv.Close()

	v, err := newTestVT(srv.URL).ScanBytes(context.Background(), "hello.txt", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if v.Clean || v.Positives != 2 || v.Total != 70 {
		t.Errorf("verdict = %+v", v)
	}
}

func TestVirusTotalUnknownFileUploadsAndPolls(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/files/"):
			http.NotFound(w, r)
		case r.Method == http.MethodPost && r.URL.Path == "/files":
			f, _, err := r.FormFile("file")
			if err != nil {
				t.Errorf("upload missing file: %v", err)
			} else {
				body, _ := io.ReadAll(f)
				if string(body) != "new content" {
					t.Errorf("uploaded %q", body)
				}
			}
			fmt.Fprint(w, `{"data":{"id":"analysis-1","type":"analysis"}}`)
		case r.URL.Path == "/analyses/analysis-1":
			if polls.Add(1) < 2 {
				fmt.Fprint(w, `{"data":{"id":"analysis-1","attributes":{"status":"queued"}}}`)
				return
			}
			fmt.Fprintf(w, `{"data":{"id":"analysis-1","attributes":{"status":"completed","stats":%s}}}`, statsJSON(0, 60))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	v, err := newTestVT(srv.URL).ScanBytes(context.Background(), "new.txt", []byte("new content"))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Clean || v.Inconclusive || v.Total != 70 {
		t.Errorf("verdict = %+v", v)
	}
	if polls.Load() < 2 {
		t.Errorf("polled %d times", polls.Load())
	}
}

func TestVirusTotalPollTimeoutIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/urls/"):
			http.NotFound(w, r)
		case r.Method == http.MethodPost && r.URL.Path == "/urls":
			fmt.Fprint(w, `{"data":{"id":"analysis-2"}}`)
		default:
			fmt.Fprint(w, `{"data":{"attributes":{"status":"queued"}}}`)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	v, err := newTestVT(srv.URL).ScanURL(ctx, "https://example.com/new")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Inconclusive {
		t.Errorf("verdict = %+v, want inconclusive", v)
	}
}

func TestVirusTotalURLIdentifier(t *testing.T) {
	target := "https://example.com/page?x=1"
	wantID := base64.RawURLEncoding.EncodeToString([]byte(target))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/urls/"+wantID {
			t.Errorf("path = %s, want /urls/%s", r.URL.Path, wantID)
		}
		fmt.Fprintf(w, `{"data":{"attributes":{"last_analysis_stats":%s}}}`, statsJSON(0, 80))
	}))
	defer srv.Close()

	v, err := newTestVT(srv.URL).ScanURL(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Clean || v.Ratio() != "0/90" {
		t.Errorf("verdict = %+v", v)
	}
}

func TestVirusTotalServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestVT(srv.URL).ScanURL(context.Background(), "https://example.com")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want HTTP 429", err)
	}
}
