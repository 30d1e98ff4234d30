package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"geochat/internal/models"

	"github.com/google/uuid"
)

var testGroupID = uuid.MustParse("3b1f8c2a-7d4e-4b6a-9c0d-1e2f3a4b5c6d")

func serverMessage(id, content string, sentAt time.Time) *models.Message {
	return &models.Message{
		ID:          id,
		GroupID:     testGroupID,
		Content:     content,
		SentAt:      models.JSONTime(sentAt),
		SenderKind:  models.SenderKindAnonymous,
		DeviceID:    "11111111-1111-1111-1111-111111111111",
		DisplayName: "Quiet Heron 42",
		Kind:        models.MessageKindText,
	}
}

type fakeBackend struct {
	mu            sync.Mutex
	history       []*models.Message
	historyErr    error
	sendResult    *models.Message
	sendErr       error
	allowed       bool
	allowErr      error
	sendCalls     int
	beforeSend    func()
	beforeHistory func()
	historyReqs   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{allowed: true}
}

func (f *fakeBackend) History(ctx context.Context, groupID uuid.UUID, limit int) ([]*models.Message, error) {
	f.mu.Lock()
	f.historyReqs++
	hook := f.beforeHistory
	history, err := f.history, f.historyErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (f *fakeBackend) Send(ctx context.Context, req *models.CreateMessageRequest) (*models.Message, error) {
	f.mu.Lock()
	f.sendCalls++
	hook := f.beforeSend
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendResult, nil
}

func (f *fakeBackend) CheckRateLimit(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allowErr != nil {
		return false, f.allowErr
	}
	return f.allowed, nil
}

type fakeStream struct {
	events chan *models.Message
	mu     sync.Mutex
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan *models.Message, 16)}
}

func (f *fakeStream) Events() <-chan *models.Message { return f.events }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// push delivers an event and waits until the synchronizer has applied it.
func (f *fakeStream) push(t *testing.T, s *Synchronizer, msg *models.Message) {
	t.Helper()
	f.events <- msg
	deadline := time.After(2 * time.Second)
	for {
		for _, m := range s.Messages() {
			if m.ID == msg.ID && !m.IsOptimistic {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("message %s never applied", msg.ID)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

type fakeSubscriber struct {
	stream *fakeStream
	err    error
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, groupID uuid.UUID) (MessageStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type joinedSet map[uuid.UUID]bool

func (j joinedSet) IsJoined(groupID uuid.UUID) bool { return j[groupID] }

// activityJoinedSet also implements ActivityRecorder, so the synchronizer
// should report message activity back to it.
type activityJoinedSet struct {
	joined joinedSet

	mu      sync.Mutex
	touched []uuid.UUID
}

func (a *activityJoinedSet) IsJoined(groupID uuid.UUID) bool { return a.joined[groupID] }

func (a *activityJoinedSet) TouchJoinedActivity(groupID uuid.UUID) {
	a.mu.Lock()
	a.touched = append(a.touched, groupID)
	a.mu.Unlock()
}

func (a *activityJoinedSet) touches() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uuid.UUID(nil), a.touched...)
}

func testSender() Sender {
	return Sender{
		Kind:        models.SenderKindAnonymous,
		Ref:         "22222222-2222-2222-2222-222222222222",
		DisplayName: "Mellow Otter 07",
		AvatarColor: "#4F8A8B",
	}
}

func openSynchronizer(t *testing.T, backend *fakeBackend) (*Synchronizer, *fakeStream) {
	t.Helper()
	stream := newFakeStream()
	s := NewSynchronizer(backend, &fakeSubscriber{stream: stream}, joinedSet{testGroupID: true}, testSender(), testGroupID)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("state after Open = %s, want %s", s.State(), StateReady)
	}
	t.Cleanup(s.Close)
	return s, stream
}

func TestSynchronizerOpenUnjoinedGroup(t *testing.T) {
	backend := newFakeBackend()
	s := NewSynchronizer(backend, &fakeSubscriber{stream: newFakeStream()}, joinedSet{}, testSender(), testGroupID)

	err := s.Open(context.Background())
	if !errors.Is(err, ErrNotJoined) {
		t.Fatalf("Open() error = %v, want ErrNotJoined", err)
	}
	if s.State() != StateUnauthorized {
		t.Errorf("state = %s, want %s", s.State(), StateUnauthorized)
	}
	if backend.historyReqs != 0 {
		t.Errorf("unjoined open must not touch the network, saw %d history calls", backend.historyReqs)
	}
}

func TestSynchronizerOpenSortsAndFiltersHistory(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	malformed := serverMessage("m-bad", "no sender ref", base)
	malformed.DeviceID = ""
	backend := newFakeBackend()
	backend.history = []*models.Message{
		serverMessage("m-2", "second", base.Add(2*time.Minute)),
		malformed,
		serverMessage("m-1", "first", base.Add(time.Minute)),
		serverMessage("m-3", "third", base.Add(3*time.Minute)),
	}

	s, _ := openSynchronizer(t, backend)

	got := s.Messages()
	if len(got) != 3 {
		t.Fatalf("expected 3 messages after dropping the malformed row, got %d", len(got))
	}
	for i, want := range []string{"m-1", "m-2", "m-3"} {
		if got[i].ID != want {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestSynchronizerHistoryFailurePreservesErrorState(t *testing.T) {
	backend := newFakeBackend()
	backend.historyErr = errors.New("connection refused")
	s := NewSynchronizer(backend, &fakeSubscriber{stream: newFakeStream()}, joinedSet{testGroupID: true}, testSender(), testGroupID)

	if err := s.Open(context.Background()); err == nil {
		t.Fatal("Open() should fail when history fails")
	}
	if s.State() != StateError {
		t.Errorf("state = %s, want %s", s.State(), StateError)
	}
	if s.Err() == nil {
		t.Error("Err() should report the failure behind StateError")
	}
}

func TestSynchronizerCloseDuringHistoryFetchSuppressesError(t *testing.T) {
	backend := newFakeBackend()
	backend.historyErr = errors.New("connection reset")
	s := NewSynchronizer(backend, &fakeSubscriber{stream: newFakeStream()}, joinedSet{testGroupID: true}, testSender(), testGroupID)
	backend.beforeHistory = s.Close

	if err := s.Open(context.Background()); err == nil {
		t.Fatal("Open() should surface the fetch failure to the caller")
	}
	if s.State() == StateError {
		t.Errorf("torn-down synchronizer must not enter %s", StateError)
	}
	if s.Err() != nil {
		t.Errorf("Err() after teardown = %v, want nil", s.Err())
	}
}

func TestSynchronizerRecordsActivityOnPushedInsert(t *testing.T) {
	backend := newFakeBackend()
	stream := newFakeStream()
	recorder := &activityJoinedSet{joined: joinedSet{testGroupID: true}}
	s := NewSynchronizer(backend, &fakeSubscriber{stream: stream}, recorder, testSender(), testGroupID)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)

	pushed := serverMessage("m-1", "hello", time.Now())
	stream.push(t, s, pushed)
	// Replaying the same event replaces in place and must not touch again.
	stream.push(t, s, pushed)

	deadline := time.After(2 * time.Second)
	for len(recorder.touches()) == 0 {
		select {
		case <-deadline:
			t.Fatal("pushed insert never recorded activity")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	time.Sleep(10 * time.Millisecond)
	if got := recorder.touches(); len(got) != 1 || got[0] != testGroupID {
		t.Fatalf("expected one activity touch for %s, got %v", testGroupID, got)
	}
}

func TestSynchronizerAppliesPushedInsertsIdempotently(t *testing.T) {
	backend := newFakeBackend()
	backend.history = []*models.Message{serverMessage("m-1", "hello", time.Now().Add(-time.Minute))}
	s, stream := openSynchronizer(t, backend)

	pushed := serverMessage("m-2", "pushed", time.Now())
	stream.push(t, s, pushed)
	// Replay of the same event must not duplicate the row.
	stream.push(t, s, pushed)
	time.Sleep(10 * time.Millisecond)

	got := s.Messages()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages after replay, got %d", len(got))
	}
	if got[1].ID != "m-2" {
		t.Errorf("pushed message not appended at the end, got %s", got[1].ID)
	}
}

func TestSynchronizerDropsMalformedPushedRows(t *testing.T) {
	backend := newFakeBackend()
	s, stream := openSynchronizer(t, backend)

	bad := serverMessage("m-bad", "", time.Now())
	stream.events <- bad
	time.Sleep(20 * time.Millisecond)

	if len(s.Messages()) != 0 {
		t.Fatalf("malformed pushed row should be dropped, got %d messages", len(s.Messages()))
	}
}

func TestSynchronizerOptimisticSendSuccess(t *testing.T) {
	backend := newFakeBackend()
	confirmed := serverMessage("srv-1", "hello there", time.Now())
	backend.sendResult = confirmed

	var snapshotDuringSend []*models.Message
	s, _ := openSynchronizer(t, backend)
	backend.beforeSend = func() {
		snapshotDuringSend = s.Messages()
	}

	id, err := s.Send(context.Background(), "hello there", models.MessageKindText, nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "srv-1" {
		t.Errorf("Send() returned id %s, want srv-1", id)
	}

	if len(snapshotDuringSend) != 1 {
		t.Fatalf("expected the optimistic entry visible during send, got %d", len(snapshotDuringSend))
	}
	optimistic := snapshotDuringSend[0]
	if !optimistic.IsOptimistic {
		t.Error("in-flight entry should be marked optimistic")
	}
	if !strings.HasPrefix(optimistic.ID, models.OptimisticIDPrefix) {
		t.Errorf("temporary id %s missing the %q prefix", optimistic.ID, models.OptimisticIDPrefix)
	}

	got := s.Messages()
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 message after confirmation, got %d", len(got))
	}
	if got[0].ID != "srv-1" || got[0].IsOptimistic {
		t.Errorf("optimistic entry not replaced by the confirmed message: id=%s optimistic=%v", got[0].ID, got[0].IsOptimistic)
	}
}

func TestSynchronizerOptimisticSendFailureRemovesEntry(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("insert failed")
	s, _ := openSynchronizer(t, backend)

	if _, err := s.Send(context.Background(), "will fail", models.MessageKindText, nil); err == nil {
		t.Fatal("Send() should surface the backend failure")
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("failed optimistic entry must be removed, got %d messages", len(s.Messages()))
	}
}

func TestSynchronizerEchoBeforeConfirmation(t *testing.T) {
	backend := newFakeBackend()
	confirmed := serverMessage("srv-echo", "raced", time.Now())
	backend.sendResult = confirmed
	s, stream := openSynchronizer(t, backend)

	// The push channel delivers the server echo before Send returns.
	backend.beforeSend = func() {
		stream.push(t, s, confirmed)
	}

	if _, err := s.Send(context.Background(), "raced", models.MessageKindText, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got := s.Messages()
	if len(got) != 1 {
		t.Fatalf("echo plus confirmation must yield exactly 1 message, got %d", len(got))
	}
	if got[0].ID != "srv-echo" {
		t.Errorf("surviving message id = %s, want srv-echo", got[0].ID)
	}
}

func TestSynchronizerSendRejectsOversizedContent(t *testing.T) {
	backend := newFakeBackend()
	s, _ := openSynchronizer(t, backend)

	_, err := s.Send(context.Background(), strings.Repeat("x", models.MaxContentLength+1), models.MessageKindText, nil)
	if !errors.Is(err, ErrContentTooLong) {
		t.Fatalf("Send() error = %v, want ErrContentTooLong", err)
	}
	if backend.sendCalls != 0 {
		t.Errorf("oversized content must be rejected before any network call, saw %d sends", backend.sendCalls)
	}
	if len(s.Messages()) != 0 {
		t.Errorf("no optimistic entry should remain, got %d messages", len(s.Messages()))
	}
}

func TestSynchronizerSendRateLimited(t *testing.T) {
	backend := newFakeBackend()
	backend.allowed = false
	s, _ := openSynchronizer(t, backend)

	_, err := s.Send(context.Background(), "too fast", models.MessageKindText, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Send() error = %v, want ErrRateLimited", err)
	}
	if backend.sendCalls != 0 {
		t.Errorf("denied pre-check must prevent the insert, saw %d sends", backend.sendCalls)
	}
}

func TestSynchronizerCloseReleasesStream(t *testing.T) {
	backend := newFakeBackend()
	s, stream := openSynchronizer(t, backend)

	s.Close()
	if !stream.isClosed() {
		t.Fatal("Close() must release the push subscription")
	}
	// A second Close is a no-op.
	s.Close()

	if id := s.AddOptimistic("after close", models.MessageKindText, nil); id == "" {
		t.Fatal("AddOptimistic should still mint an id")
	}
	if len(s.Messages()) != 0 {
		t.Errorf("mutations after Close must be dropped, got %d messages", len(s.Messages()))
	}
}
