package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type scriptedStep struct {
	status  int
	body    string
	headers map[string]string
	err     error
	delay   time.Duration
}

func scriptedResponse(status int, body string) scriptedStep {
	return scriptedStep{status: status, body: body}
}

func scriptedError(err error) scriptedStep {
	return scriptedStep{err: err}
}

// scriptedTransport replays steps in order and repeats the last one.
type scriptedTransport struct {
	mu       sync.Mutex
	steps    []scriptedStep
	requests []TransportRequest
	calls    atomic.Int32
}

func newScriptedTransport(steps ...scriptedStep) *scriptedTransport {
	return &scriptedTransport{steps: steps}
}

func (*scriptedTransport) Kind() string { return "scripted" }

func (s *scriptedTransport) Do(ctx context.Context, req TransportRequest) (TransportResponse, error) {
	index := int(s.calls.Add(1)) - 1
	s.mu.Lock()
	s.requests = append(s.requests, req)
	step := s.steps[len(s.steps)-1]
	if index < len(s.steps) {
		step = s.steps[index]
	}
	s.mu.Unlock()

	if step.delay > 0 {
		timer := time.NewTimer(step.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return TransportResponse{}, goerrors.Wrap(ctx.Err(), goerrors.CategoryExternal, "scripted: request timed out").
				WithTextCode(OutboundErrorTimeout)
		case <-timer.C:
		}
	}
	if step.err != nil {
		return TransportResponse{}, step.err
	}
	return TransportResponse{StatusCode: step.status, Body: []byte(step.body), Headers: step.headers}, nil
}

func (s *scriptedTransport) callCount() int {
	return int(s.calls.Load())
}

func (s *scriptedTransport) recorded() []TransportRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TransportRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func staticTokenFetcher(value string, ttl time.Duration) TokenFetcher {
	return TokenFetcherFunc(func(context.Context) (Token, error) {
		return Token{Value: value, ExpiresAt: time.Now().UTC().Add(ttl)}, nil
	})
}

func noSleep(context.Context, time.Duration) error {
	return nil
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, delay)
	return nil
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
}

type memoryTokenStore struct {
	mu      sync.Mutex
	records map[string]TokenRecord
	saveErr error
	saves   int
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{records: map[string]TokenRecord{}}
}

func (s *memoryTokenStore) Load(_ context.Context, key string) (TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return TokenRecord{}, ErrTokenNotFound
	}
	return record, nil
}

func (s *memoryTokenStore) Save(_ context.Context, key string, record TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[key] = record
	return nil
}
