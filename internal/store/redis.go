package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable marks failures to reach or get an answer from the store.
	ErrUnavailable = errors.New("store unavailable")
	// ErrTimeout marks calls that exceeded their deadline.
	ErrTimeout = errors.New("store timeout")
	// ErrScript marks error replies returned by the store for a script call.
	ErrScript = errors.New("store script error")
)

// Kind is the failure category of a store error.
type Kind uint8

const (
	KindConnectivity Kind = iota + 1
	KindTimeout
	KindProtocol
)

// Error replies that mean the server is temporarily not serving, or that
// the cluster sent the call elsewhere, rather than that the script is
// wrong. None of them ran the script.
var transientPrefixes = []string{
	"LOADING",
	"BUSY",
	"READONLY",
	"MASTERDOWN",
	"CLUSTERDOWN",
	"TRYAGAIN",
	"MOVED ",
	"ASK ",
}

// Redis runs scripts and clock reads against a go-redis client. It works
// with standalone, sentinel and cluster clients alike.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis returns a store backed by client.
//
// client must not retry commands (MaxRetries -1, and MaxRedirects -1 for
// cluster clients). A retried script call after a lost reply records the
// attempt a second time. See RetriesCommands.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// ExecuteScript runs sc with EVALSHA, falling back to EVAL when the script
// is not cached on the server.
func (s *Redis) ExecuteScript(ctx context.Context, sc *redis.Script, keys []string, args ...any) (any, error) {
	reply, err := sc.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return nil, Wrap(err)
	}
	return reply, nil
}

// Now returns the server clock.
func (s *Redis) Now(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, Wrap(err)
	}
	return t, nil
}

// Ping checks that the server answers.
func (s *Redis) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return Wrap(err)
	}
	return nil
}

// RetriesCommands reports whether client re-sends a command after a
// failed read. Clients of other types report false.
func RetriesCommands(client redis.UniversalClient) bool {
	switch c := client.(type) {
	case *redis.Client:
		return c.Options().MaxRetries > 0
	case *redis.ClusterClient:
		return c.Options().MaxRedirects > 0
	case *redis.Ring:
		return c.Options().MaxRetries > 0
	}
	return false
}

// Wrap tags err with the sentinel matching its category. The original
// error stays in the chain.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	switch Classify(err) {
	case KindTimeout:
		if errors.Is(err, ErrTimeout) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case KindProtocol:
		if errors.Is(err, ErrScript) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrScript, err)
	default:
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// Classify reports the category of err. Errors from stores other than
// Redis fall back to connectivity unless they carry a timeout.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrScript):
		return KindProtocol
	case errors.Is(err, ErrUnavailable):
		return KindConnectivity
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout() {
		return KindConnectivity
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		msg := redisErr.Error()
		for _, prefix := range transientPrefixes {
			if strings.HasPrefix(msg, prefix) {
				return KindConnectivity
			}
		}
		return KindProtocol
	}

	return KindConnectivity
}
