package httpmiddleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopfront/pkg/apperr"
)

// IdempotencyHeader carries the client chosen key.
const IdempotencyHeader = "Idempotency-Key"

var (
	errKeyReused    = apperr.New(apperr.KindIdempotency, "idempotency key reused with a different request")
	errInProgress   = apperr.New(apperr.KindConflict, "request with this idempotency key is in progress")
	errBodyTooLarge = apperr.New(apperr.KindValidation, "request body too large")
)

// IdempotencyRecord is a stored response. A record without Status is a claim
// held by an in-flight request.
type IdempotencyRecord struct {
	RequestHash string
	Status      int
	ContentType string
	Body        []byte
}

// Pending reports whether the record is an unfinished claim.
func (r IdempotencyRecord) Pending() bool { return r.Status == 0 }

// IdempotencyStore persists idempotency records.
type IdempotencyStore interface {
	// Claim stores a pending record for key unless one exists. When the key
	// is taken it returns the existing record and false.
	Claim(ctx context.Context, key, requestHash string, ttl time.Duration) (IdempotencyRecord, bool, error)
	// Complete replaces the claim with the final response.
	Complete(ctx context.Context, key string, rec IdempotencyRecord, ttl time.Duration) error
	// Release drops a claim so the request can be retried.
	Release(ctx context.Context, key string) error
}

// IdempotencyConfig configures Idempotency.
type IdempotencyConfig struct {
	Store IdempotencyStore
	TTL   time.Duration
	// Scope namespaces keys, usually by the authenticated user.
	Scope func(*http.Request) string
	// MaxBodyBytes caps the buffered request body. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Idempotency replays the stored response of a request repeated with the same
// Idempotency-Key. Requests without the header pass through. Server errors
// are not stored so the client can retry them.
func Idempotency(cfg IdempotencyConfig) Middleware {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if id == "" || cfg.Store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(id) > 255 {
				apperr.WriteHTTP(w, apperr.New(apperr.KindValidation, "idempotency key too long"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, cfg.MaxBodyBytes+1))
			if err != nil {
				apperr.WriteHTTP(w, apperr.Wrap(apperr.KindValidation, err, "read request body"))
				return
			}
			if int64(len(body)) > cfg.MaxBodyBytes {
				apperr.WriteHTTP(w, errBodyTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			hash := requestHash(r, body)
			key := idempotencyKey(cfg.Scope, r, id)

			existing, claimed, err := cfg.Store.Claim(ctx, key, hash, cfg.TTL)
			if err != nil {
				apperr.WriteHTTP(w, apperr.Wrap(apperr.KindDependency, err, "idempotency store unavailable"))
				return
			}
			if !claimed {
				switch {
				case existing.RequestHash != hash:
					apperr.WriteHTTP(w, errKeyReused)
				case existing.Pending():
					apperr.WriteHTTP(w, errInProgress)
				default:
					if existing.ContentType != "" {
						w.Header().Set("Content-Type", existing.ContentType)
					}
					w.Header().Set("Idempotent-Replayed", "true")
					w.WriteHeader(existing.Status)
					_, _ = w.Write(existing.Body)
				}
				return
			}

			// The client may be gone; the record must still be settled.
			storeCtx := context.WithoutCancel(ctx)
			release := func() {
				if err := cfg.Store.Release(storeCtx, key); err != nil {
					zctx.From(ctx).Warn("Release idempotency key", zap.Error(err))
				}
			}

			rec := &captureWriter{ResponseWriter: w}
			finished := false
			defer func() {
				// A panicking handler must not leave the claim pending.
				if !finished {
					release()
				}
			}()
			next.ServeHTTP(rec, r)
			finished = true

			status := rec.statusCode()
			if status >= http.StatusInternalServerError {
				release()
				return
			}
			if err := cfg.Store.Complete(storeCtx, key, IdempotencyRecord{
				RequestHash: hash,
				Status:      status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}, cfg.TTL); err != nil {
				zctx.From(ctx).Warn("Store idempotent response", zap.Error(err))
			}
		})
	}
}

func idempotencyKey(scope func(*http.Request) string, r *http.Request, id string) string {
	s := ""
	if scope != nil {
		s = scope(r)
	}
	return strings.Join([]string{s, r.Method, r.URL.Path, id}, "|")
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *captureWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
