package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/MrEthical07/goAbuse/internal/keyspace"
	"github.com/MrEthical07/goAbuse/internal/script"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testKeys(t *testing.T) keyspace.Keys {
	t.Helper()
	keys, err := keyspace.For("", "login", "203.0.113.7")
	if err != nil {
		t.Fatalf("keyspace.For failed: %v", err)
	}
	return keys
}

var testArgs = script.Args{
	ShortWindow:    300,
	ShortThreshold: 3,
	ShortBlock:     600,
	LongWindow:     3600,
	LongThreshold:  10,
	LongBlock:      7200,
	LedgerTTL:      3660,
}

func TestDecisionScriptCountsAndBlocks(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.SetTime(time.Unix(1_700_000_000, 0))
	s := NewRedis(rdb)
	keys := testKeys(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		reply, err := s.ExecuteScript(ctx, script.Decision, keys.Slice(), testArgs.Values()...)
		if err != nil {
			t.Fatalf("attempt %d failed: %v", i, err)
		}
		res, err := script.Parse(reply)
		if err != nil {
			t.Fatalf("attempt %d parse failed: %v", i, err)
		}
		if res.ShortCount != int64(i) {
			t.Fatalf("attempt %d: short count %d", i, res.ShortCount)
		}
		wantAllowed := i < 3
		if res.Allowed != wantAllowed {
			t.Fatalf("attempt %d: allowed=%v", i, res.Allowed)
		}
	}

	if got, _ := mr.Get(keys.Block); got != script.TierShort {
		t.Fatalf("block flag value %q", got)
	}
	if ttl := mr.TTL(keys.Block); ttl != 600*time.Second {
		t.Fatalf("block ttl %v", ttl)
	}
	if ttl := mr.TTL(keys.Ledger); ttl != 3660*time.Second {
		t.Fatalf("ledger ttl %v", ttl)
	}
	if ttl := mr.TTL(keys.Sequence); ttl != 3660*time.Second {
		t.Fatalf("sequence ttl %v", ttl)
	}
	members, err := mr.ZMembers(keys.Ledger)
	if err != nil {
		t.Fatalf("ZMembers failed: %v", err)
	}
	if len(members) != 3 || members[0] != "1700000000:1" {
		t.Fatalf("unexpected ledger members %v", members)
	}
}

func TestInspectScriptIsReadOnly(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.SetTime(time.Unix(1_700_000_000, 0))
	s := NewRedis(rdb)
	keys := testKeys(t)
	ctx := context.Background()

	if _, err := s.ExecuteScript(ctx, script.Decision, keys.Slice(), testArgs.Values()...); err != nil {
		t.Fatalf("decision failed: %v", err)
	}

	reply, err := s.ExecuteScript(ctx, script.Inspect, keys.Slice(), testArgs.ShortWindow, testArgs.LongWindow)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	snap, err := script.ParseSnapshot(reply)
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}
	if snap.ShortCount != 1 || snap.LongCount != 1 || snap.Sequence != 1 || snap.Tier != script.TierNone || snap.BlockTTL != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	members, _ := mr.ZMembers(keys.Ledger)
	if len(members) != 1 {
		t.Fatalf("inspect must not record attempts, ledger has %d", len(members))
	}
}

func TestNowUsesServerClock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	want := time.Unix(1_800_000_000, 0)
	mr.SetTime(want)

	got, err := NewRedis(rdb).Now(context.Background())
	if err != nil {
		t.Fatalf("Now failed: %v", err)
	}
	if got.Unix() != want.Unix() {
		t.Fatalf("Now = %v, want %v", got, want)
	}
}

func TestExecuteScriptClosedServerIsUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.Close()

	_, err := NewRedis(rdb).ExecuteScript(context.Background(), script.Decision, testKeys(t).Slice(), testArgs.Values()...)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if Classify(err) != KindConnectivity {
		t.Fatalf("expected connectivity kind, got %v", Classify(err))
	}
}

func TestExecuteScriptExpiredContextIsTimeout(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := NewRedis(rdb).ExecuteScript(ctx, script.Decision, testKeys(t).Slice(), testArgs.Values()...)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected original cause in chain, got %v", err)
	}
}

func TestExecuteScriptErrorReplyIsProtocol(t *testing.T) {
	_, rdb := newTestRedis(t)
	bad := redis.NewScript(`return redis.call("NOSUCHCOMMAND")`)

	_, err := NewRedis(rdb).ExecuteScript(context.Background(), bad, []string{"k"})
	if !errors.Is(err, ErrScript) {
		t.Fatalf("expected ErrScript, got %v", err)
	}
}

type dialTimeout struct{}

func (dialTimeout) Error() string   { return "i/o timeout" }
func (dialTimeout) Timeout() bool   { return true }
func (dialTimeout) Temporary() bool { return true }

func TestExecuteScriptMovedReplyIsConnectivity(t *testing.T) {
	mr, rdb := newTestRedis(t)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	mr.SetError("MOVED 3999 127.0.0.1:7001")

	_, err := NewRedis(rdb).ExecuteScript(context.Background(), script.Decision, testKeys(t).Slice(), testArgs.Values()...)
	if Classify(err) != KindConnectivity || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected transient connectivity error, got %v", err)
	}
}

func TestRetriesCommands(t *testing.T) {
	cases := []struct {
		name   string
		client redis.UniversalClient
		want   bool
	}{
		{name: "default client", client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), want: true},
		{name: "retries disabled", client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0", MaxRetries: -1}), want: false},
		{name: "default cluster", client: redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{"127.0.0.1:0"}}), want: true},
		{
			name:   "cluster redirects disabled",
			client: redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{"127.0.0.1:0"}, MaxRedirects: -1}),
			want:   false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer tc.client.Close()
			if got := RetriesCommands(tc.client); got != tc.want {
				t.Fatalf("RetriesCommands = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: KindTimeout},
		{name: "canceled", err: fmt.Errorf("wrapped: %w", context.Canceled), want: KindTimeout},
		{name: "plain", err: errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), want: KindConnectivity},
		{name: "nil reply", err: redis.Nil, want: KindProtocol},
		{name: "sentinel timeout", err: ErrTimeout, want: KindTimeout},
		{name: "sentinel script", err: ErrScript, want: KindProtocol},
		{
			name: "refused dial outlived by deadline",
			err:  errors.Join(context.DeadlineExceeded, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")}),
			want: KindConnectivity,
		},
		{
			name: "dial timeout",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: dialTimeout{}},
			want: KindTimeout,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
