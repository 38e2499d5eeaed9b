package interceptor

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/prerender/prerender-go/internal/classifier"
	"github.com/prerender/prerender-go/internal/common"
	"github.com/prerender/prerender-go/internal/config"
	"github.com/prerender/prerender-go/internal/fetch"
	"github.com/prerender/prerender-go/internal/rule"
	"github.com/prerender/prerender-go/internal/statistics"
	"github.com/prerender/prerender-go/internal/target"
	"github.com/prerender/prerender-go/internal/telemetry"
)

const reasonFetchFailed = "fetch-failed"

// Fetcher performs the outbound request to the prerender service.
type Fetcher interface {
	Fetch(ctx context.Context, targetURL string, md *common.Metadata) (*fetch.Result, error)
}

// hopByHopHeaders apply to a single connection and are never relayed.
var hopByHopHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Proxy-Connection":  {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Trailer":           {},
	"Te":                {},
}

type Interceptor struct {
	classifier      *classifier.Classifier
	builder         *target.Builder
	client          Fetcher
	recorder        *statistics.Recorder
	metrics         *telemetry.PrerenderMetrics
	applicationPath string
	timeout         time.Duration
}

// New wires the classifier, target builder and client. recorder and metrics
// may be nil.
func New(rules *rule.RuleSet, builder *target.Builder, client Fetcher, recorder *statistics.Recorder, metrics *telemetry.PrerenderMetrics, cfg *config.PrerenderConfig) *Interceptor {
	return &Interceptor{
		classifier:      classifier.New(rules),
		builder:         builder,
		client:          client,
		recorder:        recorder,
		metrics:         metrics,
		applicationPath: cfg.ApplicationPath,
		timeout:         cfg.Timeout,
	}
}

// Handler returns middleware that answers crawler requests from the
// prerender service and passes everything else to next.
func (i *Interceptor) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if i.Intercept(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Intercept reports whether the response was written from the prerender
// service. When it returns false nothing has been written to w.
func (i *Interceptor) Intercept(w http.ResponseWriter, r *http.Request) (handled bool) {
	wrote := false
	defer func() {
		if p := recover(); p != nil {
			slog.Error("prerender interceptor panic",
				slog.Any("panic", p),
				slog.String("url", r.URL.String()),
				slog.String("stack", string(debug.Stack())))
			handled = wrote
		}
	}()

	md := common.NewMetadata(r, i.applicationPath)
	decision := i.classifier.Classify(md)
	slog.Debug("prerender classify", slog.Any("decision", decision), slog.Any("request", md))

	if !decision.Prerender {
		i.recordPassThrough(r.Context(), md, string(decision.Reason))
		return false
	}
	if i.recorder != nil {
		i.recorder.AddCrawlerAgent(md.UserAgent())
	}

	targetURL := i.builder.Build(md)
	result, err := i.fetch(r.Context(), targetURL, md)
	if err != nil {
		slog.Warn("prerender fetch failed",
			slog.String("target", targetURL),
			slog.String("src", md.SrcAddr()),
			slog.Any("error", err))
		if i.metrics != nil {
			i.metrics.FetchFailedCnt(r.Context())
		}
		i.recordPassThrough(r.Context(), md, reasonFetchFailed)
		return false
	}

	slog.Info("prerender served",
		slog.String("target", targetURL),
		slog.String("user_agent", md.UserAgent()),
		slog.Any("result", result))
	if i.recorder != nil {
		i.recorder.AddPrerender(&statistics.PrerenderRecord{
			Host:       md.Authority(),
			LastStatus: result.StatusCode,
			LastURL:    md.AbsoluteURL(),
		})
	}
	if i.metrics != nil {
		i.metrics.PrerenderedCnt(r.Context(), result.StatusCode)
	}

	wrote = true
	WriteResult(w, result)
	return true
}

func (i *Interceptor) fetch(ctx context.Context, targetURL string, md *common.Metadata) (*fetch.Result, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	inflight := &statistics.InFlightRecord{SrcAddr: md.SrcAddr(), TargetURL: targetURL, StartTime: time.Now()}
	if i.recorder != nil {
		i.recorder.AddInFlight(inflight)
		defer i.recorder.RemoveInFlight(inflight)
	}
	if i.metrics != nil {
		defer func() { i.metrics.FetchDuration(ctx, time.Since(inflight.StartTime)) }()
	}

	return i.client.Fetch(ctx, targetURL, md)
}

func (i *Interceptor) recordPassThrough(ctx context.Context, md *common.Metadata, reason string) {
	if i.recorder != nil {
		i.recorder.AddPassThrough(&statistics.PassThroughRecord{
			Reason:  reason,
			LastURL: md.AbsoluteURL(),
			LastUA:  md.UserAgent(),
		})
	}
	if i.metrics != nil {
		i.metrics.PassedThroughCnt(ctx, reason)
	}
}

// connectionHeaders returns the header names listed in Connection, which
// are hop-by-hop for this response only.
func connectionHeaders(h http.Header) map[string]struct{} {
	var names map[string]struct{}
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if names == nil {
				names = make(map[string]struct{})
			}
			names[http.CanonicalHeaderKey(name)] = struct{}{}
		}
	}
	return names
}

// WriteResult copies every end-to-end header value, then the status and the
// body. Repeated header names stay repeated.
func WriteResult(w http.ResponseWriter, result *fetch.Result) {
	listed := connectionHeaders(result.Header)
	for k, v := range result.Header {
		key := http.CanonicalHeaderKey(k)
		if _, skip := hopByHopHeaders[key]; skip {
			continue
		}
		if _, skip := listed[key]; skip {
			continue
		}
		for _, vv := range v {
			w.Header().Add(k, vv)
		}
	}
	w.WriteHeader(result.StatusCode)
	if _, err := w.Write([]byte(result.Body)); err != nil {
		slog.Debug("prerender write body", slog.Any("error", err))
	}
}
