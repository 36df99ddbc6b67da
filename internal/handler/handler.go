// Package handler implements the HTTP API of the coupon service.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront-coupons/internal/domain/auth"
	"github.com/xenking/storefront-coupons/internal/domain/coupon"
	"github.com/xenking/storefront-coupons/internal/idempotency"
)

const (
	// HeaderIdempotencyKey lets clients retry a request safely.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay marks a response served from the idempotency store.
	HeaderIdempotentReplay = "Idempotent-Replay"

	maxBodySize = 1 << 20
)

// IdempotencyStore keeps responses of requests sent with an Idempotency-Key.
type IdempotencyStore interface {
	Begin(ctx context.Context, key, fingerprint string) (*idempotency.Response, error)
	Complete(ctx context.Context, key, fingerprint string, resp idempotency.Response) error
	Release(ctx context.Context, key, fingerprint string) error
}

var _ IdempotencyStore = (*idempotency.Store)(nil)

// Handler serves the coupon API.
type Handler struct {
	engine   coupon.Evaluator
	security *SecurityHandler
	// idem is nil when no store is configured; the header is then ignored.
	idem    IdempotencyStore
	metrics *metrics
}

// NewHandler constructs a Handler. idem may be nil.
func NewHandler(
	engine coupon.Evaluator,
	security *SecurityHandler,
	idem IdempotencyStore,
	mp metric.MeterProvider,
) (*Handler, error) {
	m, err := newMetrics(mp)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	return &Handler{
		engine:   engine,
		security: security,
		idem:     idem,
		metrics:  m,
	}, nil
}

// Routes returns the API router, to be mounted under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		failureResponse(http.StatusNotFound, "not found", "").write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		failureResponse(http.StatusMethodNotAllowed, "method not allowed", "").write(w)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.security.Require(auth.ScopeCouponsApply))
		r.Post("/coupons/apply", h.ApplyCoupon)
	})
	return r
}

// ApplyCoupon handles POST /coupons/apply.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		failureResponse(http.StatusBadRequest, "invalid request body", "").write(w)
		return
	}
	req, err := decodeApplyRequest(body)
	if err != nil {
		lg.Debug("Invalid request", zap.Error(err))
		failureResponse(http.StatusBadRequest, err.Error(), "").write(w)
		return
	}

	idemKey := r.Header.Get(HeaderIdempotencyKey)
	if idemKey == "" || h.idem == nil {
		h.apply(ctx, req).write(w)
		return
	}

	scope := "anonymous"
	if info, ok := auth.KeyFrom(ctx); ok {
		scope = info.ID
	}
	key := idempotency.Key(scope, idemKey)
	fingerprint := idempotency.Fingerprint(body)

	stored, err := h.idem.Begin(ctx, key, fingerprint)
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		failureResponse(http.StatusConflict, err.Error(), "").write(w)
		return
	case errors.Is(err, idempotency.ErrKeyReused):
		failureResponse(http.StatusUnprocessableEntity, err.Error(), "").write(w)
		return
	case err != nil:
		lg.Error("Idempotency lookup failed", zap.Error(err))
		failureResponse(http.StatusInternalServerError, msgInternal, "").write(w)
		return
	case stored != nil:
		w.Header().Set(HeaderIdempotentReplay, "true")
		response{status: stored.Status, body: stored.Body}.write(w)
		return
	}

	resp := h.apply(ctx, req)

	// The client may be gone, the record must still be written.
	storeCtx := context.WithoutCancel(ctx)
	if resp.status == http.StatusOK {
		if err := h.idem.Complete(storeCtx, key, fingerprint, idempotency.Response{
			Status: resp.status,
			Body:   resp.body,
		}); err != nil {
			lg.Warn("Failed to store idempotent response", zap.Error(err))
		}
	} else if err := h.idem.Release(storeCtx, key, fingerprint); err != nil {
		lg.Warn("Failed to release idempotency key", zap.Error(err))
	}
	resp.write(w)
}

func (h *Handler) apply(ctx context.Context, req coupon.Request) response {
	out, err := h.engine.Evaluate(ctx, req)
	h.metrics.record(ctx, out, err)
	if err != nil {
		zctx.From(ctx).Error("Coupon evaluation failed", zap.Error(err))
		return failureResponse(http.StatusInternalServerError, msgInternal, "")
	}
	if !out.OK() {
		return rejectedResponse(out.Rejection)
	}
	return appliedResponse(out.Applied)
}
