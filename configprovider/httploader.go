package configprovider

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/couchbase/gocbclientcore/coreerrors"
)

// HTTPManagerLoaderOptions configures an HTTPManagerLoader.
type HTTPManagerLoaderOptions struct {
	HTTPClient *http.Client
	TLS        bool
	Username   string
	Password   string
	Logger     *zap.Logger
}

// HTTPManagerLoader fetches terse bucket configurations and collection
// manifests from the management REST API. $HOST placeholder
// substitution happens later, in cbconfig.Parse, which already knows
// the origin host a document was fetched from.
type HTTPManagerLoader struct {
	httpClient *http.Client
	scheme     string
	username   string
	password   string
	logger     *zap.Logger
}

// NewHTTPManagerLoader builds an HTTPManagerLoader.
func NewHTTPManagerLoader(opts HTTPManagerLoaderOptions) *HTTPManagerLoader {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	scheme := "http"
	if opts.TLS {
		scheme = "https"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPManagerLoader{
		httpClient: client,
		scheme:     scheme,
		username:   opts.Username,
		password:   opts.Password,
		logger:     logger,
	}
}

// get performs the request and returns the body and status code for
// any response actually received; err is non-nil only for a transport
// or request-construction failure. Callers decide what each status
// code means for their endpoint.
func (l *HTTPManagerLoader) get(ctx context.Context, host string, port int, path string) ([]byte, int, error) {
	url := fmt.Sprintf("%s://%s:%d%s", l.scheme, host, port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if l.username != "" || l.password != "" {
		req.SetBasicAuth(l.username, l.password)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			l.logger.Debug("unexpected close error", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// Load implements Loader, fetching a bucket's terse config document.
func (l *HTTPManagerLoader) Load(ctx context.Context, host string, port int, bucket string) ([]byte, error) {
	body, status, err := l.get(ctx, host, port, fmt.Sprintf("/pools/default/b/%s", bucket))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.Errorf("manager request for bucket %q failed: %s", bucket, http.StatusText(status))
	}
	return body, nil
}

// LoadManifest implements ManifestLoader, fetching the collections
// manifest for a bucket. A 404 means the cluster has no collections
// manifest for this bucket (an UNKNOWN response from the management
// API, e.g. a server predating collections support) and is reported
// as coreerrors.ErrCollectionsNotAvailable rather than a generic
// status error.
func (l *HTTPManagerLoader) LoadManifest(ctx context.Context, host string, port int, bucket string) ([]byte, error) {
	body, status, err := l.get(ctx, host, port, fmt.Sprintf("/pools/default/buckets/%s/scopes", bucket))
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, coreerrors.ErrCollectionsNotAvailable
	default:
		return nil, errors.Errorf("manifest request for bucket %q failed: %s", bucket, http.StatusText(status))
	}
}
