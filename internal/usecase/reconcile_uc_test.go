package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinref-chat/internal/domain/model"
	"clinref-chat/internal/domain/ports/adapter"
)

func TestCreateSessionAdoptsRemoteID(t *testing.T) {
	store := newFakeStore()
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	h, s := rec.CreateSession(context.Background(), "u1", "eu", "de")
	if s.Sync != model.SyncSynced {
		t.Fatalf("signed-in create should sync, got %v", s.Sync)
	}
	if s.ID != "remote-1" {
		t.Fatalf("adopted id %q", s.ID)
	}
	// The handle index follows the id rewrite with no duplicate entry.
	if got, ok := rec.HandleByID("remote-1"); !ok || got != h {
		t.Fatalf("handle lookup after adopt: %v %v", got, ok)
	}
	if rec.Active() != h {
		t.Fatalf("new session not active")
	}
}

func TestCreateSessionKeepsLocalIDOnRemoteFailure(t *testing.T) {
	store := newFakeStore()
	store.fail("CreateSession", errors.New("store down"))
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	h, s := rec.CreateSession(context.Background(), "u1", "", "")
	if s.Sync != model.SyncLocallyOwned {
		t.Fatalf("failed remote create must stay locally owned, got %v", s.Sync)
	}
	localID := s.ID
	if _, ok := rec.HandleByID(localID); !ok {
		t.Fatalf("local id not indexed")
	}

	// A later adopt moves the index exactly once.
	rec.Adopt(h, "remote-9")
	if _, ok := rec.HandleByID(localID); ok {
		t.Fatalf("stale id still indexed")
	}
	if got, ok := rec.HandleByID("remote-9"); !ok || got != h {
		t.Fatalf("adopted id not indexed")
	}
	rec.Adopt(h, "remote-10") // second adopt is a no-op
	if got, _ := rec.Session(h); got.ID != "remote-9" {
		t.Fatalf("adopt ran twice: %q", got.ID)
	}
}

func TestAnonymousCreateNeverTouchesStore(t *testing.T) {
	store := newFakeStore()
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	_, s := rec.CreateSession(context.Background(), "", "", "")
	if s.Sync != model.SyncLocallyOwned {
		t.Fatalf("anonymous session synced: %v", s.Sync)
	}
	if len(store.sessions) != 0 {
		t.Fatalf("anonymous create reached the store")
	}
}

func TestMergeRemoteFieldSplit(t *testing.T) {
	store := newFakeStore()
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	h, s := rec.CreateSession(context.Background(), "u1", "eu", "de")
	rec.Append(h, model.NewUserMessage("local message"))
	localMsgs := rec.Messages(h)

	remoteAt := time.Now().Add(time.Minute).Truncate(time.Second)
	rec.MergeRemote([]adapter.SessionSummary{{
		ID: s.ID, Title: "Managing hypertension", Region: "na", Country: "us",
		IsFavorite: true, UpdatedAt: remoteAt,
	}})

	got, _ := rec.Session(h)
	if got.Title != "Managing hypertension" || got.Region != "na" || !got.IsFavorite || !got.UpdatedAt.Equal(remoteAt) {
		t.Fatalf("remote-owned fields not applied: %+v", got)
	}
	// Messages stay local; summaries carry no bodies.
	if len(got.Messages) != len(localMsgs) || got.Messages[0].Text != "local message" {
		t.Fatalf("merge clobbered local messages")
	}
}

func TestMergeRemoteInsertsPlaceholders(t *testing.T) {
	store := newFakeStore()
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	rec.MergeRemote([]adapter.SessionSummary{{ID: "remote-7", Title: "Old thread"}})
	h, ok := rec.HandleByID("remote-7")
	if !ok {
		t.Fatalf("remote-only session not inserted")
	}
	s, _ := rec.Session(h)
	if s.Load != model.LoadPlaceholder || len(s.Messages) != 0 {
		t.Fatalf("inserted session should be an empty placeholder: %+v", s)
	}
}

func TestMergeRemoteDropsAbsentButKeepsActive(t *testing.T) {
	store := newFakeStore()
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	hActive, active := rec.CreateSession(context.Background(), "u1", "", "")
	hOther, other := rec.CreateSession(context.Background(), "u1", "", "")
	rec.SetActive(hActive)

	// Remote returns neither: the active session survives, the other synced
	// one is dropped.
	rec.MergeRemote(nil)
	if _, ok := rec.Session(hActive); !ok {
		t.Fatalf("active session %s dropped by merge", active.ID)
	}
	if _, ok := rec.Session(hOther); ok {
		t.Fatalf("absent synced session %s survived merge", other.ID)
	}
}

func TestMergeRemoteKeepsLocallyOwned(t *testing.T) {
	store := newFakeStore()
	store.fail("CreateSession", errors.New("offline"))
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	hLocal, _ := rec.CreateSession(context.Background(), "u1", "", "")
	rec.CreateSession(context.Background(), "u1", "", "")
	rec.MergeRemote(nil) // second (synced, active) kept; first is locally owned

	if _, ok := rec.Session(hLocal); !ok {
		t.Fatalf("locally owned session dropped by merge")
	}
}

func TestLoadSessionStates(t *testing.T) {
	store := newFakeStore()
	store.messages["remote-7"] = []model.Message{model.NewUserMessage("hi")}
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	rec.MergeRemote([]adapter.SessionSummary{{ID: "remote-7"}})
	h, _ := rec.HandleByID("remote-7")

	if err := rec.LoadSession(context.Background(), h); err != nil {
		t.Fatalf("load: %v", err)
	}
	s, _ := rec.Session(h)
	if s.Load != model.LoadLoaded || len(s.Messages) != 1 {
		t.Fatalf("loaded state %v with %d messages", s.Load, len(s.Messages))
	}

	// Second load is a no-op.
	store.fail("GetMessages", errors.New("must not be called"))
	if err := rec.LoadSession(context.Background(), h); err != nil {
		t.Fatalf("reload of loaded session hit the store: %v", err)
	}
}

func TestLoadSessionFailureYieldsEmptyLoaded(t *testing.T) {
	store := newFakeStore()
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	rec.MergeRemote([]adapter.SessionSummary{{ID: "remote-7"}})
	h, _ := rec.HandleByID("remote-7")

	boom := errors.New("fetch failed")
	store.fail("GetMessages", boom)
	if err := rec.LoadSession(context.Background(), h); !errors.Is(err, boom) {
		t.Fatalf("want fetch error, got %v", err)
	}
	s, _ := rec.Session(h)
	// Never stuck in Loading: the failure leaves an explicit empty thread.
	if s.Load != model.LoadLoaded || s.Messages == nil || len(s.Messages) != 0 {
		t.Fatalf("failed load state: %v messages=%v", s.Load, s.Messages)
	}
}

func TestDeleteSessionOptimistic(t *testing.T) {
	store := newFakeStore()
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	h, s := rec.CreateSession(context.Background(), "u1", "", "")
	rec.DeleteSession(h)

	if _, ok := rec.Session(h); ok {
		t.Fatalf("session still present after delete")
	}
	if rec.Active() != 0 {
		t.Fatalf("deleted session still active")
	}
	if !waitFor(time.Second, func() bool { return len(store.deletedIDs()) == 1 }) {
		t.Fatalf("remote delete never fired")
	}
	if store.deletedIDs()[0] != s.ID {
		t.Fatalf("deleted wrong id %q", store.deletedIDs()[0])
	}
}

func TestDeleteLocallyOwnedSkipsRemote(t *testing.T) {
	store := newFakeStore()
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	h, _ := rec.CreateSession(context.Background(), "", "", "")
	rec.DeleteSession(h)

	time.Sleep(50 * time.Millisecond)
	if len(store.deletedIDs()) != 0 {
		t.Fatalf("locally owned delete reached the store")
	}
}

func TestPersistTurnBackground(t *testing.T) {
	store := newFakeStore()
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	h, s := rec.CreateSession(context.Background(), "u1", "eu", "de")
	rec.Append(h, model.NewUserMessage("q"))
	rec.PersistTurn(context.Background(), h, "u1", "eu", "de")

	if !waitFor(time.Second, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.messages[s.ID]) == 1
	}) {
		t.Fatalf("turn never persisted")
	}
}

func TestPersistTurnAdoptsDeferredCreate(t *testing.T) {
	store := newFakeStore()
	store.fail("CreateSession", errors.New("offline"))
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	h, s := rec.CreateSession(context.Background(), "u1", "", "")
	localID := s.ID
	if s.Sync != model.SyncLocallyOwned {
		t.Fatalf("precondition: session synced despite failed create")
	}

	// The store is reachable again for the next turn's persistence; the
	// session picks up its remote id with no duplicate list entry.
	rec.Append(h, model.NewUserMessage("q"))
	rec.PersistTurn(context.Background(), h, "u1", "", "")

	if !waitFor(time.Second, func() bool {
		_, ok := rec.HandleByID(localID)
		return !ok
	}) {
		t.Fatalf("deferred create never adopted")
	}
	if got, ok := rec.HandleByID("remote-1"); !ok || got != h {
		t.Fatalf("remote id not indexed after adopt")
	}
	if len(rec.List()) != 1 {
		t.Fatalf("duplicate session after adopt")
	}
}

func TestListOrdersByUpdatedAtDesc(t *testing.T) {
	store := newFakeStore()
	rec := NewSessionReconciler(store, testPool(t), testLogger())

	now := time.Now()
	rec.MergeRemote([]adapter.SessionSummary{
		{ID: "a", UpdatedAt: now.Add(-time.Hour)},
		{ID: "b", UpdatedAt: now},
		{ID: "c", UpdatedAt: now.Add(-time.Minute)},
	})
	got := rec.List()
	if len(got) != 3 || got[0].ID != "b" || got[1].ID != "c" || got[2].ID != "a" {
		ids := make([]string, len(got))
		for i, s := range got {
			ids[i] = s.ID
		}
		t.Fatalf("order %v", ids)
	}
}
