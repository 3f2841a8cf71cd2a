package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/unihub-app/unihub/backend/internal/models"
	"github.com/unihub-app/unihub/backend/internal/realtime"
)

// fakeStore scripts the persistence layer.
type fakeStore struct {
	mu        sync.Mutex
	backlog   []models.Message
	listErr   error
	insertErr error
	inserted  []models.Message
}

func (f *fakeStore) ListMessages(ctx context.Context, scope models.Scope, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Message, len(f.backlog))
	copy(out, f.backlog)
	return out, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return models.Message{}, f.insertErr
	}
	f.inserted = append(f.inserted, msg)
	msg.ID = "srv-1"
	return msg, nil
}

// fakeFeed records subscriptions without a network.
type fakeFeed struct {
	mu     sync.Mutex
	subs   int
	unsubs int
}

func (f *fakeFeed) Subscribe(scope models.Scope, cb realtime.Callbacks) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubs++
	}, nil
}

var (
	testScope = models.GroupScope("g1")
	alice     = models.Identity{ID: "alice", Name: "Alice Chen", Handle: "achen"}
)

func newTestService(t *testing.T, store *fakeStore) (*Service, *fakeFeed, *time.Time) {
	t.Helper()
	feed := &fakeFeed{}
	svc := NewService(store, feed, Config{MatchWindow: 5 * time.Second}, slogt.New(t))

	clock := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	svc.newID = func() string { return "pending-1" }
	svc.spawn = func(f func()) { f() } // run writes inline for determinism
	return svc, feed, &clock
}

func confirmed(id, author, body string, at time.Time) models.Message {
	msg := models.Message{
		ID:        id,
		AuthorID:  author,
		Kind:      models.KindText,
		Body:      body,
		CreatedAt: at,
	}
	msg.SetScope(testScope)
	return msg
}

func TestSend_ProvisionalReplacedByConfirmation(t *testing.T) {
	store := &fakeStore{}
	svc, _, clock := newTestService(t, store)
	if err := svc.Open(context.Background(), testScope); err != nil {
		t.Fatal(err)
	}

	tempID, err := svc.Send(testScope, alice, models.SendMessageRequest{Body: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if tempID != "pending-1" {
		t.Fatalf("temp id = %q", tempID)
	}

	tl := svc.Timeline(testScope)
	if len(tl) != 1 || !tl[0].Pending {
		t.Fatalf("timeline after send = %+v, want one provisional entry", tl)
	}

	// The change feed confirms the row 2s later, within the match window.
	svc.handleInsert(confirmed("srv-1", "alice", "hello", clock.Add(2*time.Second)))

	tl = svc.Timeline(testScope)
	if len(tl) != 1 {
		t.Fatalf("timeline has %d entries after confirmation, want 1 (no duplicate)", len(tl))
	}
	if tl[0].Pending {
		t.Fatal("confirmed entry still marked provisional")
	}
	if tl[0].ID != "srv-1" {
		t.Fatalf("confirmed id = %q, want server id", tl[0].ID)
	}
}

func TestHandleInsert_NoMatchAppends(t *testing.T) {
	cases := []struct {
		name string
		msg  models.Message
	}{
		{
			name: "different author",
			msg:  confirmed("srv-2", "bob", "hello", time.Date(2025, 9, 1, 12, 0, 1, 0, time.UTC)),
		},
		{
			name: "different body",
			msg:  confirmed("srv-2", "alice", "hello!", time.Date(2025, 9, 1, 12, 0, 1, 0, time.UTC)),
		},
		{
			name: "outside match window",
			msg:  confirmed("srv-2", "alice", "hello", time.Date(2025, 9, 1, 12, 0, 30, 0, time.UTC)),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{}
			svc, _, _ := newTestService(t, store)
			if err := svc.Open(context.Background(), testScope); err != nil {
				t.Fatal(err)
			}
			if _, err := svc.Send(testScope, alice, models.SendMessageRequest{Body: "hello"}); err != nil {
				t.Fatal(err)
			}

			svc.handleInsert(tc.msg)

			tl := svc.Timeline(testScope)
			if len(tl) != 2 {
				t.Fatalf("timeline has %d entries, want provisional + new", len(tl))
			}
			pendings := 0
			for _, m := range tl {
				if m.Pending {
					pendings++
				}
			}
			if pendings != 1 {
				t.Fatalf("%d provisional entries, want the original one kept", pendings)
			}
		})
	}
}

func TestHandleInsert_DuplicateConfirmedDropped(t *testing.T) {
	store := &fakeStore{}
	svc, _, _ := newTestService(t, store)
	if err := svc.Open(context.Background(), testScope); err != nil {
		t.Fatal(err)
	}

	msg := confirmed("srv-1", "bob", "hey", time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC))
	svc.handleInsert(msg)
	svc.handleInsert(msg)

	if tl := svc.Timeline(testScope); len(tl) != 1 {
		t.Fatalf("timeline has %d entries after duplicate delivery, want 1", len(tl))
	}
}

func TestSend_FailureRollsBackAndRestoresCompose(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("store rejected the write")}
	svc, _, _ := newTestService(t, store)

	var restored []ComposeRestore
	var sendErrs []error
	svc.OnComposeRestore(func(r ComposeRestore) { restored = append(restored, r) })
	svc.OnSendError(func(_ models.Scope, err error) { sendErrs = append(sendErrs, err) })

	if err := svc.Open(context.Background(), testScope); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Send(testScope, alice, models.SendMessageRequest{Body: "test", ReplyTo: "srv-9"}); err != nil {
		t.Fatal(err)
	}

	if tl := svc.Timeline(testScope); len(tl) != 0 {
		t.Fatalf("timeline has %d entries after rollback, want 0", len(tl))
	}
	want := []ComposeRestore{{Scope: testScope, Body: "test", ReplyTo: "srv-9"}}
	if diff := cmp.Diff(want, restored); diff != "" {
		t.Fatalf("compose restore mismatch (-want +got):\n%s", diff)
	}
	if len(sendErrs) != 1 {
		t.Fatalf("send error surfaced %d times, want 1", len(sendErrs))
	}
}

func TestSend_ScopeNotOpen(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeStore{})
	if _, err := svc.Send(testScope, alice, models.SendMessageRequest{Body: "hi"}); err == nil {
		t.Fatal("send into an unopened scope must fail")
	}
}

func TestTimeline_OrderedByTimestamp(t *testing.T) {
	base := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{backlog: []models.Message{
		confirmed("m2", "bob", "second", base.Add(2*time.Minute)),
		confirmed("m1", "bob", "first", base),
	}}
	svc, _, _ := newTestService(t, store)
	if err := svc.Open(context.Background(), testScope); err != nil {
		t.Fatal(err)
	}

	// A feed insert with an earlier timestamp slots in, not on.
	svc.handleInsert(confirmed("m3", "carol", "middle", base.Add(time.Minute)))

	var ids []string
	for _, m := range svc.Timeline(testScope) {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"m1", "m3", "m2"}, ids); diff != "" {
		t.Fatalf("timeline order mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleUpdateAndDelete(t *testing.T) {
	base := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{backlog: []models.Message{
		confirmed("m1", "bob", "original", base),
		confirmed("m2", "bob", "stays", base.Add(time.Second)),
	}}
	svc, _, _ := newTestService(t, store)
	if err := svc.Open(context.Background(), testScope); err != nil {
		t.Fatal(err)
	}

	edited := confirmed("m1", "bob", "edited", base)
	edited.Edited = true
	svc.handleUpdate(edited)

	tl := svc.Timeline(testScope)
	if tl[0].Body != "edited" || !tl[0].Edited {
		t.Fatalf("update not applied: %+v", tl[0])
	}

	svc.handleDelete(confirmed("m2", "bob", "", base.Add(time.Second)))
	tl = svc.Timeline(testScope)
	if len(tl) != 1 || tl[0].ID != "m1" {
		t.Fatalf("timeline after delete = %+v, want only m1", tl)
	}
}

func TestOpen_IsIdempotentAndCloseUnsubscribes(t *testing.T) {
	svc, feed, _ := newTestService(t, &fakeStore{})

	if err := svc.Open(context.Background(), testScope); err != nil {
		t.Fatal(err)
	}
	if err := svc.Open(context.Background(), testScope); err != nil {
		t.Fatal(err)
	}
	if feed.subs != 1 {
		t.Fatalf("subscribed %d times for one scope, want 1", feed.subs)
	}

	svc.Close(testScope)
	if feed.unsubs != 1 {
		t.Fatalf("unsubscribed %d times, want 1", feed.unsubs)
	}
}

func TestSweepStalePending(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("write lost")}
	svc, _, clock := newTestService(t, store)
	svc.spawn = func(func()) {} // strand the write so the entry stays provisional

	if err := svc.Open(context.Background(), testScope); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Send(testScope, alice, models.SendMessageRequest{Body: "stuck"}); err != nil {
		t.Fatal(err)
	}

	// Not stale yet.
	*clock = clock.Add(time.Minute)
	if removed := svc.sweepStalePending(2 * time.Minute); removed != 0 {
		t.Fatalf("swept %d fresh entries, want 0", removed)
	}

	*clock = clock.Add(5 * time.Minute)
	if removed := svc.sweepStalePending(2 * time.Minute); removed != 1 {
		t.Fatalf("swept %d entries, want 1", removed)
	}
	if tl := svc.Timeline(testScope); len(tl) != 0 {
		t.Fatalf("timeline still has %d entries after sweep", len(tl))
	}
}

func TestCloseIdle(t *testing.T) {
	svc, feed, clock := newTestService(t, &fakeStore{})
	if err := svc.Open(context.Background(), testScope); err != nil {
		t.Fatal(err)
	}

	*clock = clock.Add(time.Hour)
	if closed := svc.closeIdle(30 * time.Minute); closed != 1 {
		t.Fatalf("closed %d idle timelines, want 1", closed)
	}
	if feed.unsubs != 1 {
		t.Fatalf("unsubscribed %d times, want 1", feed.unsubs)
	}
}
