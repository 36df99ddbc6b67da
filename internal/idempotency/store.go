// Package idempotency stores the responses of requests carrying an
// Idempotency-Key so that retries replay the first outcome instead of
// redeeming a coupon twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a completed response is kept.
const DefaultTTL = 24 * time.Hour

const (
	keyPrefix = "coupons:idem:"
	pending   = "pending"
	// pendingTTL bounds a reservation whose request never completes.
	pendingTTL = time.Minute
)

var (
	// ErrInFlight is returned by Begin while another request holds the key.
	ErrInFlight = errors.New("request with this idempotency key is in progress")
	// ErrKeyReused is returned when the key was used with a different request.
	ErrKeyReused = errors.New("idempotency key reused with a different request")
	// ErrReservationLost is returned by Complete when the reservation expired
	// or was taken over before the response could be stored.
	ErrReservationLost = errors.New("idempotency reservation lost")
)

// Response is a stored HTTP response.
type Response struct {
	Status int
	Body   []byte
}

// Key derives the storage key for a client-supplied idempotency key. Scope
// separates API clients so their keys never collide.
func Key(scope, idempotencyKey string) string {
	var b strings.Builder
	b.WriteString(scope)
	b.WriteString(":")
	b.WriteString(idempotencyKey)
	hash := sha256.Sum256([]byte(b.String()))
	return keyPrefix + hex.EncodeToString(hash[:16])
}

// Fingerprint hashes a request body.
func Fingerprint(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

// completeScript stores the response only while the caller's reservation is
// still in place.
var completeScript = redis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current ~= ARGV[1] then
		return 0
	end
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
`)

// releaseScript deletes the reservation if it still belongs to the caller.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Store keeps idempotency records in Redis.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewStore creates a Store. A non-positive ttl means DefaultTTL.
func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Begin reserves key for a request with the given fingerprint.
//
// It returns (nil, nil) when the reservation was taken and the caller must
// run the request, the stored response for a completed request, ErrInFlight
// while the first request is still running, and ErrKeyReused when the key was
// used for a different payload.
func (s *Store) Begin(ctx context.Context, key, fingerprint string) (*Response, error) {
	marker := pendingMarker(fingerprint)
	ok, err := s.rdb.SetNX(ctx, key, marker, pendingTTL).Result()
	if err != nil {
		return nil, errors.Wrap(err, "reserve key")
	}
	if ok {
		return nil, nil
	}

	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// Released between SETNX and GET; let the client retry.
		return nil, ErrInFlight
	case err != nil:
		return nil, errors.Wrap(err, "read key")
	}
	if strings.HasPrefix(string(raw), pending+":") {
		if string(raw) != marker {
			return nil, ErrKeyReused
		}
		return nil, ErrInFlight
	}

	stored, storedFingerprint, err := decodeRecord(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	if storedFingerprint != fingerprint {
		return nil, ErrKeyReused
	}
	return stored, nil
}

// Complete stores resp for key, replacing the reservation made by Begin.
func (s *Store) Complete(ctx context.Context, key, fingerprint string, resp Response) error {
	record := encodeRecord(fingerprint, resp)
	stored, err := completeScript.Run(ctx, s.rdb, []string{key},
		pendingMarker(fingerprint), record, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return errors.Wrap(err, "store response")
	}
	if stored == 0 {
		return ErrReservationLost
	}
	return nil
}

// Release drops the reservation so the request can be retried.
func (s *Store) Release(ctx context.Context, key, fingerprint string) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{key}, pendingMarker(fingerprint)).Err(); err != nil {
		return errors.Wrap(err, "release key")
	}
	return nil
}

func pendingMarker(fingerprint string) string {
	return pending + ":" + fingerprint
}

func encodeRecord(fingerprint string, resp Response) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("fingerprint", func(e *jx.Encoder) { e.Str(fingerprint) })
		e.Field("status", func(e *jx.Encoder) { e.Int(resp.Status) })
		e.Field("body", func(e *jx.Encoder) { e.Base64(resp.Body) })
	})
	return e.Bytes()
}

func decodeRecord(raw []byte) (*Response, string, error) {
	var (
		resp        Response
		fingerprint string
	)
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "fingerprint":
			fingerprint, err = d.Str()
		case "status":
			resp.Status, err = d.Int()
		case "body":
			resp.Body, err = d.Base64()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return &resp, fingerprint, nil
}
