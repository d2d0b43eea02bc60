package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"go.uber.org/multierr"
)

const (
	// DefaultProbeTimeout is the default timeout for a single reachability
	// probe.
	//
	// It is overridden by the Fetcher.ProbeTimeout field.
	DefaultProbeTimeout = 10 * time.Second

	// DefaultDownloadTimeout is the default timeout for downloading a full
	// artifact body.
	//
	// It is overridden by the Fetcher.DownloadTimeout field.
	DefaultDownloadTimeout = 1 * time.Minute
)

// Fetcher probes and downloads remotely hosted artifacts.
type Fetcher struct {
	// Client is the HTTP client used for requests.
	// If it is nil, http.DefaultClient is used.
	Client *http.Client

	// ProbeTimeout is the timeout for a single reachability probe.
	// If it is zero, DefaultProbeTimeout is used.
	ProbeTimeout time.Duration

	// DownloadTimeout is the timeout for downloading a full artifact body.
	// If it is zero, DefaultDownloadTimeout is used.
	DownloadTimeout time.Duration

	// Logger is the target for log messages about fetch attempts.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// Probe checks that an artifact is reachable at the given URL.
//
// A response in the 2xx-3xx range is treated as reachable.
func (f *Fetcher) Probe(ctx context.Context, url string) error {
	ctx, cancel := linger.ContextWithTimeout(
		ctx,
		f.ProbeTimeout,
		DefaultProbeTimeout,
	)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}

	res, err := f.client().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 399 {
		return fmt.Errorf("unexpected HTTP status %d", res.StatusCode)
	}

	return nil
}

// Validate probes the primary URL, then the fallback URL, and returns the
// first URL at which the artifact is reachable.
//
// fallback may be empty, in which case only the primary URL is probed. If
// no URL is reachable it returns a *ValidationError combining the probe
// failures.
func (f *Fetcher) Validate(ctx context.Context, primary, fallback string) (string, error) {
	err := f.Probe(ctx, primary)
	if err == nil {
		return primary, nil
	}

	logging.Debug(
		f.Logger,
		"artifact is unreachable at %s: %s",
		primary,
		err,
	)

	urls := []string{primary}

	if fallback != "" {
		urls = append(urls, fallback)

		ferr := f.Probe(ctx, fallback)
		if ferr == nil {
			return fallback, nil
		}

		err = multierr.Append(err, ferr)
	}

	return "", &ValidationError{
		URLs:  urls,
		Cause: err,
	}
}

// Download fetches the full artifact body from the given URL.
//
// A non-2xx response or an empty body is a *DownloadError.
func (f *Fetcher) Download(ctx context.Context, url string) (string, error) {
	ctx, cancel := linger.ContextWithTimeout(
		ctx,
		f.DownloadTimeout,
		DefaultDownloadTimeout,
	)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &DownloadError{URL: url, Cause: err}
	}

	res, err := f.client().Do(req)
	if err != nil {
		return "", &DownloadError{URL: url, Cause: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", &DownloadError{
			URL:   url,
			Cause: fmt.Errorf("unexpected HTTP status %d", res.StatusCode),
		}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", &DownloadError{URL: url, Cause: err}
	}

	if len(body) == 0 {
		return "", &DownloadError{
			URL:   url,
			Cause: fmt.Errorf("response body is empty"),
		}
	}

	return string(body), nil
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}

	return http.DefaultClient
}
