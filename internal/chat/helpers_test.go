package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/zodiacchat/internal/kv"
	"github.com/Tyrowin/zodiacchat/internal/protocol"
	"github.com/Tyrowin/zodiacchat/internal/registry"
	"github.com/Tyrowin/zodiacchat/internal/sanitize"
	"github.com/Tyrowin/zodiacchat/internal/store"
)

// recorder is a registry.Conn that keeps every frame sent to it.
type recorder struct {
	id string

	mu     sync.Mutex
	frames []protocol.Envelope
	closed bool
}

func newRecorder(id string) *recorder {
	return &recorder{id: id}
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("connection closed")
	}
	env, err := protocol.Decode(payload)
	if err != nil {
		return err
	}
	r.frames = append(r.frames, env)
	return nil
}

func (r *recorder) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Type
	}
	return out
}

func (r *recorder) all(msgType string) []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Envelope
	for _, f := range r.frames {
		if f.Type == msgType {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) count(msgType string) int {
	return len(r.all(msgType))
}

// last decodes the payload of the most recent frame of msgType into v.
func (r *recorder) last(t *testing.T, msgType string, v interface{}) {
	t.Helper()
	frames := r.all(msgType)
	if len(frames) == 0 {
		t.Fatalf("conn %s: no %s frame received (got %v)", r.id, msgType, r.types())
	}
	if err := json.Unmarshal(frames[len(frames)-1].Payload, v); err != nil {
		t.Fatalf("conn %s: decode %s payload: %v", r.id, msgType, err)
	}
}

func (r *recorder) lastError(t *testing.T) string {
	t.Helper()
	var p protocol.Error
	r.last(t, protocol.TypeError, &p)
	return p.Error
}

type fixture struct {
	svc   *Service
	store *store.Store
	reg   *registry.Registry
}

type fixtureOption func(*Options)

func withSanitizer() fixtureOption {
	return func(o *Options) { o.Sanitizer = sanitize.New() }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	backend, err := kv.NewSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return newFixtureWithKV(t, backend, opts...)
}

func newFixtureWithKV(t *testing.T, backend kv.KV, opts ...fixtureOption) *fixture {
	t.Helper()

	var (
		mu    sync.Mutex
		seq   int
		clock = time.UnixMilli(1_700_000_000_000)
	)
	o := Options{
		Logger: zaptest.NewLogger(t),
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		},
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Millisecond)
			return clock
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	st := store.New(backend)
	reg := registry.New()
	return &fixture{svc: New(st, reg, o), store: st, reg: reg}
}

// dispatch sends a client event built from msgType and payload.
func (f *fixture) dispatch(t *testing.T, conn registry.Conn, msgType string, payload interface{}) {
	t.Helper()
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	f.svc.Dispatch(context.Background(), conn, data)
}

// login authenticates a fresh connection as username and returns it with
// the assigned user id.
func (f *fixture) login(t *testing.T, connID, username string) (*recorder, string) {
	t.Helper()
	conn := newRecorder(connID)
	f.dispatch(t, conn, protocol.TypeAuth, protocol.Credentials{Username: username, Zodiac: "ox"})
	var session protocol.Session
	conn.last(t, protocol.TypeAuthSuccess, &session)
	return conn, session.UserID
}

// brokenKV fails every operation.
type brokenKV struct{}

var errBackendDown = errors.New("dial tcp: connection refused")

func (brokenKV) Get(context.Context, string) (string, error)           { return "", errBackendDown }
func (brokenKV) Set(context.Context, string, string) error             { return errBackendDown }
func (brokenKV) HSet(context.Context, string, map[string]string) error { return errBackendDown }
func (brokenKV) HGetAll(context.Context, string) (map[string]string, error) {
	return nil, errBackendDown
}
func (brokenKV) SAdd(context.Context, string, ...string) error      { return errBackendDown }
func (brokenKV) SMembers(context.Context, string) ([]string, error) { return nil, errBackendDown }
func (brokenKV) LPush(context.Context, string, ...string) error     { return errBackendDown }
func (brokenKV) LRange(context.Context, string, int64, int64) ([]string, error) {
	return nil, errBackendDown
}
func (brokenKV) Ping(context.Context) error    { return errBackendDown }
func (brokenKV) FlushDB(context.Context) error { return errBackendDown }
func (brokenKV) Close() error                  { return nil }
