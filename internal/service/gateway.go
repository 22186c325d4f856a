package service

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"RouteLane/internal/biz"
	pkglog "RouteLane/pkg/log"
	"RouteLane/pkg/upstream"

	"github.com/go-kratos/kratos/v2/log"
)

// maxRequestBody caps buffered request bodies at 10 MiB. The body must be
// buffered so a failed attempt can be replayed against another provider.
const maxRequestBody = 10 << 20

// GatewayService forwards OpenAI-compatible API requests to an upstream
// provider chosen by the router, reports each attempt's outcome back, and
// retries once on a retriable failure against a different provider.
type GatewayService struct {
	router *biz.RouterUseCase
	client *upstream.Client
	logger *pkglog.LogHelper
}

// NewGatewayService creates the gateway dispatch service.
func NewGatewayService(router *biz.RouterUseCase, client *upstream.Client, logger log.Logger) *GatewayService {
	return &GatewayService{
		router: router,
		client: client,
		logger: pkglog.NewLogHelper(logger),
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (s *GatewayService) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r)
}

// Completions handles POST /v1/completions.
func (s *GatewayService) Completions(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r)
}

// Embeddings handles POST /v1/embeddings.
func (s *GatewayService) Embeddings(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r)
}

// Models handles GET /v1/models.
func (s *GatewayService) Models(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r)
}

// dispatch runs the select → forward → classify → report loop. Each attempt
// reports its outcome exactly once; a ServerError or TransportError outcome
// triggers at most one retry against the remaining providers.
func (s *GatewayService) dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		writeGatewayError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxRequestBody {
		writeGatewayError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var (
		candidates []string // nil means every provider in the snapshot
		lastStatus = http.StatusBadGateway
		lastMsg    = "upstream request failed"
	)

	for attempt := 0; attempt < 2; attempt++ {
		sel, err := s.router.Select(ctx, candidates)
		if err != nil {
			if biz.IsNoProviderAvailable(err) {
				writeGatewayError(w, http.StatusServiceUnavailable, "no upstream provider available")
				return
			}
			writeGatewayError(w, http.StatusInternalServerError, "provider selection failed")
			return
		}

		provider := sel.Provider
		pkglog.SetProvider(ctx, provider.Key)
		if sel.ForcedProbe {
			s.logger.Router("forced probe dispatch",
				"request_id", pkglog.GetRequestID(ctx),
				"provider", provider.Key)
		}

		resp, err := s.client.Forward(ctx, provider.BaseURL, provider.APIKey,
			r.Method, r.URL.Path, r.URL.RawQuery, r.Header, bytes.NewReader(body))
		if err != nil {
			out := biz.ClassifyTransportError(err)
			s.router.Report(ctx, provider.Key, out)
			s.logger.Gateway("upstream attempt failed",
				"request_id", pkglog.GetRequestID(ctx),
				"provider", provider.Key,
				"attempt", attempt+1,
				"error", err)

			candidates = s.remainingCandidates(provider.Key)
			if len(candidates) == 0 {
				break
			}
			continue
		}

		out := biz.ClassifyResponse(resp.StatusCode, resp.Header)
		s.router.Report(ctx, provider.Key, out)

		if out.Kind == biz.OutcomeServerError {
			lastStatus = resp.StatusCode
			lastMsg = fmt.Sprintf("upstream server error (HTTP %d)", resp.StatusCode)
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()

			candidates = s.remainingCandidates(provider.Key)
			if len(candidates) == 0 {
				break
			}
			continue
		}

		// Success, rate limited or a client error: the upstream response is
		// the answer, pass it through untouched (Retry-After included).
		s.relay(w, resp)
		return
	}

	writeGatewayError(w, lastStatus, lastMsg)
}

// remainingCandidates returns every snapshot provider except the one that
// just failed. An empty result means there is nobody left to retry on.
func (s *GatewayService) remainingCandidates(failed string) []string {
	keys := s.router.Snapshot().Keys()
	remaining := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != failed {
			remaining = append(remaining, key)
		}
	}
	return remaining
}

// relay streams the upstream response to the client, flushing after every
// chunk so SSE responses arrive incrementally.
func (s *GatewayService) relay(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	upstream.CopyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func writeGatewayError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"gateway_error"}}`, msg)
}
