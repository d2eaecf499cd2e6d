package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/arloliu/backsync/types"
)

// hostHeader is the pseudo header used to carry an explicit Host override.
const hostHeader = "Host"

// FetchOptions are the request attributes net/http has no field for.
type FetchOptions struct {
	// Mode is one of the types.Mode* constants. Default: types.ModeCORS
	Mode string

	// Redirect is one of the types.Redirect* constants. Default: types.RedirectFollow
	Redirect string
}

// DefaultFetchOptions returns the options assumed when none are attached.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		Mode:     types.ModeCORS,
		Redirect: types.RedirectFollow,
	}
}

type fetchOptionsKey struct{}

// WithFetchOptions attaches fetch options to ctx.
//
// Attach them to a request with req.WithContext before calling ToSnapshot.
// FromSnapshot attaches the recorded options to the rebuilt request.
func WithFetchOptions(ctx context.Context, opts FetchOptions) context.Context {
	return context.WithValue(ctx, fetchOptionsKey{}, opts)
}

// FetchOptionsFromContext returns the options attached to ctx, or the defaults.
func FetchOptionsFromContext(ctx context.Context) FetchOptions {
	if opts, ok := ctx.Value(fetchOptionsKey{}).(FetchOptions); ok {
		return opts.withDefaults()
	}

	return DefaultFetchOptions()
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.Mode == "" {
		o.Mode = types.ModeCORS
	}
	if o.Redirect == "" {
		o.Redirect = types.RedirectFollow
	}

	return o
}

func (o FetchOptions) validate() error {
	switch o.Mode {
	case types.ModeCORS, types.ModeNoCORS, types.ModeSameOrigin, types.ModeNavigate:
	default:
		return fmt.Errorf("%w: unknown mode %q", types.ErrInvalidRequest, o.Mode)
	}
	switch o.Redirect {
	case types.RedirectFollow, types.RedirectError, types.RedirectManual:
	default:
		return fmt.Errorf("%w: unknown redirect policy %q", types.ErrInvalidRequest, o.Redirect)
	}

	return nil
}

// methodAllowsBody reports whether a request with this method may carry a body.
func methodAllowsBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// ToSnapshot converts a live request into a storage-safe snapshot.
//
// The body is read only for body-bearing methods and kept only when
// non-empty. ToSnapshot consumes and closes req.Body; pass a clone if the
// original body is still needed.
//
// Headers are serialized in canonical-name order; the values of a repeated
// header keep their original order. An explicit req.Host that differs from
// the URL host is recorded as a "Host" pair.
//
// Parameters:
//   - req: The request to snapshot. Its URL must be absolute.
//
// Returns:
//   - types.RequestSnapshot: The snapshot
//   - error: types.ErrInvalidRequest for nil/relative requests, or a body read error
func ToSnapshot(req *http.Request) (types.RequestSnapshot, error) {
	if req == nil || req.URL == nil {
		return types.RequestSnapshot{}, fmt.Errorf("%w: nil request", types.ErrInvalidRequest)
	}
	if !req.URL.IsAbs() || req.URL.Host == "" {
		return types.RequestSnapshot{}, fmt.Errorf("%w: url %q is not absolute", types.ErrInvalidRequest, req.URL.String())
	}

	opts := FetchOptionsFromContext(req.Context())
	if err := opts.validate(); err != nil {
		return types.RequestSnapshot{}, err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	snap := types.RequestSnapshot{
		URL:      req.URL.String(),
		Method:   method,
		Mode:     opts.Mode,
		Redirect: opts.Redirect,
		Headers:  headerPairs(req.Header),
	}

	if req.Host != "" && req.Host != req.URL.Host {
		snap.Headers = append(snap.Headers, types.HeaderPair{Name: hostHeader, Value: req.Host})
	}

	if req.Body != nil && req.Body != http.NoBody {
		defer req.Body.Close()

		if methodAllowsBody(method) {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return types.RequestSnapshot{}, fmt.Errorf("backsync: read request body: %w", err)
			}
			if len(body) > 0 {
				snap.Body = body
			}
		}
	}

	return snap, nil
}

// FromSnapshot rebuilds a request that is ready to be dispatched.
//
// Header pairs are added in recorded order, the body is set only when the
// snapshot has one, and the recorded mode and redirect policy are attached to
// the request context as FetchOptions.
//
// Parameters:
//   - ctx: Context for the rebuilt request
//   - snap: The snapshot to rehydrate
//
// Returns:
//   - *http.Request: A new request
//   - error: Error if the snapshot holds an invalid method or URL
func FromSnapshot(ctx context.Context, snap *types.RequestSnapshot) (*http.Request, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", types.ErrInvalidRequest)
	}

	ctx = WithFetchOptions(ctx, FetchOptions{Mode: snap.Mode, Redirect: snap.Redirect}.withDefaults())

	var body io.Reader
	if snap.HasBody() {
		body = bytes.NewReader(snap.Body)
	}

	req, err := http.NewRequestWithContext(ctx, snap.Method, snap.URL, body)
	if err != nil {
		return nil, fmt.Errorf("backsync: rebuild request: %w", err)
	}

	for _, h := range snap.Headers {
		if h.Name == hostHeader {
			req.Host = h.Value
			continue
		}
		req.Header.Add(h.Name, h.Value)
	}

	return req, nil
}

// CaptureResponse snapshots a response without a size limit.
//
// It consumes and closes resp.Body; callers that still need the body must
// pass a response with a buffered copy.
func CaptureResponse(resp *http.Response) (types.ResponseSnapshot, error) {
	return CaptureResponseLimit(resp, 0)
}

// CaptureResponseLimit snapshots a response, failing with types.ErrBodyTooLarge
// if the body exceeds limit bytes. A limit <= 0 disables the check.
//
// Parameters:
//   - resp: The response to capture
//   - limit: Maximum body size in bytes
//
// Returns:
//   - types.ResponseSnapshot: Status, ordered headers and the full body
//   - error: Error if the body cannot be read or is too large
func CaptureResponseLimit(resp *http.Response, limit int64) (types.ResponseSnapshot, error) {
	if resp == nil {
		return types.ResponseSnapshot{}, errors.New("backsync: nil response")
	}

	snap := types.ResponseSnapshot{
		Status:  resp.StatusCode,
		Headers: headerPairs(resp.Header),
		Body:    []byte{},
	}

	if resp.Body == nil {
		return snap, nil
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return types.ResponseSnapshot{}, fmt.Errorf("backsync: read response body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return types.ResponseSnapshot{}, fmt.Errorf("%w: response exceeds %d bytes", types.ErrBodyTooLarge, limit)
	}
	if len(body) > 0 {
		snap.Body = body
	}

	return snap, nil
}

// HeaderFromPairs converts ordered pairs back into an http.Header.
func HeaderFromPairs(pairs []types.HeaderPair) http.Header {
	h := make(http.Header, len(pairs))
	for _, p := range pairs {
		h.Add(p.Name, p.Value)
	}

	return h
}

// headerPairs flattens h into pairs sorted by name, keeping value order.
func headerPairs(h http.Header) []types.HeaderPair {
	if len(h) == 0 {
		return nil
	}

	names := make([]string, 0, len(h))
	n := 0
	for name, values := range h {
		names = append(names, name)
		n += len(values)
	}
	sort.Strings(names)

	pairs := make([]types.HeaderPair, 0, n)
	for _, name := range names {
		for _, v := range h[name] {
			pairs = append(pairs, types.HeaderPair{Name: name, Value: v})
		}
	}

	return pairs
}
