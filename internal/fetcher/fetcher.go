// Package fetcher implements the synchronous, callback-driven HTTP GET used
// for both catalog queries (body accumulated in memory) and model downloads
// (body streamed to a file with throttled progress commits), generalizing
// the teacher's llama-server health-poll HTTP client into a full streaming
// fetch contract (§4.2).
package fetcher

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/store"
)

// commitInterval is the wall-clock debounce between progress commits to
// Store and onProgress invocations, per §4.2's progress policy.
const commitInterval = 3 * time.Second

// Request describes one fetch operation.
type Request struct {
	URL                 string
	Method              string
	Headers             map[string]string
	Body                io.Reader
	CheckExistsThenExit bool // probe mode: abort on first body byte

	// File mode fields. OutputPath non-empty selects file mode.
	OutputPath string
	Append     bool
	Item       domain.DownloadItem
	Store      *store.Store
	OnProgress func(domain.DownloadItem) bool
}

// Response is the outcome of a Fetch call.
type Response struct {
	StatusCode         int
	Headers            http.Header
	Body               []byte // populated in memory mode
	FileExists         bool   // probe mode: whether a body began arriving
	TotalBytesWritten  int64
	WasCancelled       bool
}

var httpClient = &http.Client{
	// Redirects are followed automatically by the default CheckRedirect.
	Timeout: 0,
}

// Fetch performs req and returns once the body (or the first byte, in
// probe mode) has been consumed.
func Fetch(req Request) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequest(method, req.URL, req.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Response{StatusCode: resp.StatusCode, Headers: resp.Header}, domain.ErrRemoteMissing
	}

	if req.CheckExistsThenExit {
		buf := make([]byte, 1)
		n, _ := resp.Body.Read(buf)
		return Response{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			FileExists: n > 0 && resp.StatusCode < 400,
		}, nil
	}

	if req.OutputPath != "" {
		return fetchToFile(req, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{StatusCode: resp.StatusCode, Headers: resp.Header}, fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err)
	}
	return Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

func fetchToFile(req Request, resp *http.Response) (Response, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if req.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(req.OutputPath, flags, 0o644)
	if err != nil {
		return Response{}, fmt.Errorf("%w: open output: %v", domain.ErrNetworkFailure, err)
	}
	defer f.Close()

	item := req.Item
	if item.TotalBytes == 0 {
		if cl := resp.ContentLength; cl > 0 {
			item.TotalBytes = cl
		}
	}

	start := time.Now()
	lastCommit := time.Time{}
	var written int64
	cancelled := false

	buf := make([]byte, 64*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return Response{}, fmt.Errorf("%w: write: %v", domain.ErrNetworkFailure, werr)
			}
			written += int64(n)
			item.DownloadedBytes = written

			elapsed := time.Since(start).Seconds()
			if elapsed > 0 {
				item.DownloadSpeed = humanize.Bytes(uint64(float64(written)/elapsed)) + "/s"
			} else {
				item.DownloadSpeed = "0 B/s"
			}
			if item.TotalBytes > 0 {
				item.Progress = float64(written) / float64(item.TotalBytes) * 100
			} else {
				item.Progress = -1
			}

			if time.Since(lastCommit) >= commitInterval {
				lastCommit = time.Now()
				if req.Store != nil {
					if _, err := req.Store.Download.Set(item); err != nil {
						return Response{}, err
					}
				}
				if req.OnProgress != nil && !req.OnProgress(item) {
					cancelled = true
					break
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Response{}, fmt.Errorf("%w: read: %v", domain.ErrNetworkFailure, readErr)
		}
	}

	if err := f.Sync(); err != nil {
		return Response{}, fmt.Errorf("%w: sync: %v", domain.ErrNetworkFailure, err)
	}
	f.Close()

	stat, err := os.Stat(req.OutputPath)
	if err != nil {
		return Response{}, fmt.Errorf("%w: stat: %v", domain.ErrNetworkFailure, err)
	}
	actual := stat.Size()

	item.DownloadedBytes = actual
	if item.TotalBytes > 0 {
		pct := float64(actual) / float64(item.TotalBytes) * 100
		if pct > 100 {
			pct = 100
		}
		item.Progress = pct
	} else if !cancelled {
		// Content-Length was unknown; a clean EOF with no cancellation
		// means the body was fully read, so this is complete (§4.2).
		item.Progress = 100
	}
	if cancelled || item.Progress < 100 {
		item.Status = domain.DownloadCancelled
	} else {
		item.Status = domain.DownloadComplete
	}

	if req.Store != nil {
		if _, err := req.Store.Download.Set(item); err != nil {
			return Response{}, err
		}
	}
	if req.OnProgress != nil {
		req.OnProgress(item)
	}

	return Response{
		StatusCode:        resp.StatusCode,
		Headers:           resp.Header,
		TotalBytesWritten: actual,
		WasCancelled:      cancelled,
	}, nil
}
