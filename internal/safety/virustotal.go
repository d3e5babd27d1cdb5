package safety

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/docent/internal/httpkit"
)

const virusTotalAPIURL = "https://www.virustotal.com/api/v3"

var errNotFound = errors.New("not found")

// VirusTotal scans through the VirusTotal v3 API. Known files and URLs
// are answered from their last analysis; unknown ones are submitted and
// polled until the analysis completes or the context expires.
type VirusTotal struct {
	apiKey       string
	apiURL       string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewVirusTotal creates a VirusTotal scanner.
func NewVirusTotal(apiKey string, logger *slog.Logger) *VirusTotal {
	if logger == nil {
		logger = slog.Default()
	}
	return &VirusTotal{
		apiKey:       apiKey,
		apiURL:       virusTotalAPIURL,
		pollInterval: 3 * time.Second,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type analysisStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
	Harmless   int `json:"harmless"`
	Timeout    int `json:"timeout"`
}

func (s analysisStats) verdict() Verdict {
	total := s.Malicious + s.Suspicious + s.Undetected + s.Harmless
	v := Verdict{Positives: s.Malicious, Total: total}
	v.Clean = s.Malicious == 0
	if total == 0 {
		v.Inconclusive = true
		v.Reason = "no engines reported"
	}
	return v
}

type objectResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			LastAnalysisStats analysisStats `json:"last_analysis_stats"`
			Status            string        `json:"status"`
			Stats             analysisStats `json:"stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// ScanBytes looks up the file's SHA-256 and submits it when unknown.
func (vt *VirusTotal) ScanBytes(ctx context.Context, name string, data []byte) (Verdict, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	obj, err := vt.get(ctx, "/files/"+hash)
	if err == nil {
		return obj.Data.Attributes.LastAnalysisStats.verdict(), nil
	}
	if !errors.Is(err, errNotFound) {
		return Verdict{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return Verdict{}, fmt.Errorf("virustotal: build upload: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return Verdict{}, fmt.Errorf("virustotal: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Verdict{}, fmt.Errorf("virustotal: build upload: %w", err)
	}

	analysisID, err := vt.submit(ctx, "/files", mw.FormDataContentType(), &body)
	if err != nil {
		return Verdict{}, err
	}
	return vt.poll(ctx, analysisID)
}

// ScanURL looks up the URL's identifier and submits it when unknown.
func (vt *VirusTotal) ScanURL(ctx context.Context, rawURL string) (Verdict, error) {
	id := base64.RawURLEncoding.EncodeToString([]byte(rawURL))

	obj, err := vt.get(ctx, "/urls/"+id)
	if err == nil {
		return obj.Data.Attributes.LastAnalysisStats.verdict(), nil
	}
	if !errors.Is(err, errNotFound) {
		return Verdict{}, err
	}

	form := url.Values{"url": {rawURL}}
	analysisID, err := vt.submit(ctx, "/urls", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return Verdict{}, err
	}
	return vt.poll(ctx, analysisID)
}

// poll waits for a submitted analysis. Running out of time yields an
// inconclusive verdict rather than an error.
func (vt *VirusTotal) poll(ctx context.Context, analysisID string) (Verdict, error) {
	for {
		obj, err := vt.get(ctx, "/analyses/"+analysisID)
		if err != nil && ctx.Err() == nil {
			return Verdict{}, err
		}
		if err == nil && obj.Data.Attributes.Status == "completed" {
			return obj.Data.Attributes.Stats.verdict(), nil
		}

		select {
		case <-ctx.Done():
			return Verdict{Clean: true, Inconclusive: true, Reason: "analysis still queued"}, nil
		case <-time.After(vt.pollInterval):
		}
	}
}

func (vt *VirusTotal) get(ctx context.Context, path string) (*objectResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vt.apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("virustotal: build request: %w", err)
	}
	return vt.do(req)
}

func (vt *VirusTotal) submit(ctx context.Context, path, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, vt.apiURL+path, body)
	if err != nil {
		return "", fmt.Errorf("virustotal: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	obj, err := vt.do(req)
	if err != nil {
		return "", err
	}
	if obj.Data.ID == "" {
		return "", errors.New("virustotal: submission returned no analysis id")
	}
	vt.logger.Debug("virustotal submission queued", "path", path, "analysis", obj.Data.ID)
	return obj.Data.ID, nil
}

func (vt *VirusTotal) do(req *http.Request) (*objectResponse, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-apikey", vt.apiKey)

	resp, err := vt.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("virustotal: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		httpkit.DrainAndClose(resp.Body, 4096)
		return nil, errNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("virustotal: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var obj objectResponse
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("virustotal: decode response: %w", err)
	}
	return &obj, nil
}
