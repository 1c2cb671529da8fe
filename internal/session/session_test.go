package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable clock shared by a store under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func turn(conv, text string) domain.Turn {
	return domain.Turn{
		ID:           "act-" + text,
		Conversation: domain.Conversation{ID: conv, TenantID: "tenant"},
		From:         domain.Account{ID: "user-1", Name: "Alice"},
		Text:         text,
	}
}

type storeFactory func(t *testing.T, opts Options) domain.SessionStore

func factories(t *testing.T) map[string]storeFactory {
	t.Helper()
	f := map[string]storeFactory{
		"memory": func(t *testing.T, opts Options) domain.SessionStore {
			return NewMemoryStore(opts)
		},
		"sqlite": func(t *testing.T, opts Options) domain.SessionStore {
			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), opts, testLogger())
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
	return f
}

func TestStores_PutOverwritesAndClear(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range factories(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t, Options{})

			require.NoError(t, store.Put(ctx, "c1", turn("c1", "turnA")))
			require.NoError(t, store.Put(ctx, "c1", turn("c1", "turnB")))

			sess, ok, err := store.Get(ctx, "c1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "turnB", sess.Turn.Text)
			assert.Equal(t, "c1", sess.ConversationID)

			require.NoError(t, store.Clear(ctx, "c1"))
			_, ok, err = store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStores_MissingAndClearUnknown(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range factories(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t, Options{})
			_, ok, err := store.Get(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.NoError(t, store.Clear(ctx, "nope"))
		})
	}
}

func TestStores_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range factories(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			store := newStore(t, Options{TTL: time.Minute, Now: clock.Now})

			require.NoError(t, store.Put(ctx, "c1", turn("c1", "hello")))
			clock.Advance(30 * time.Second)
			_, ok, err := store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.True(t, ok)

			clock.Advance(31 * time.Second)
			_, ok, err = store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStores_Sweep(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range factories(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			store := newStore(t, Options{TTL: time.Minute, Now: clock.Now})

			require.NoError(t, store.Put(ctx, "old", turn("old", "a")))
			clock.Advance(2 * time.Minute)
			require.NoError(t, store.Put(ctx, "fresh", turn("fresh", "b")))

			n, err := store.(Sweeper).Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			count, err := store.(Counter).Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestMemoryStore_MaxEntriesEvictsOldest(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(Options{MaxEntries: 2, Now: clock.Now})

	require.NoError(t, store.Put(ctx, "c1", turn("c1", "1")))
	clock.Advance(time.Second)
	require.NoError(t, store.Put(ctx, "c2", turn("c2", "2")))
	clock.Advance(time.Second)
	// overwriting an existing id never evicts
	require.NoError(t, store.Put(ctx, "c1", turn("c1", "1b")))
	clock.Advance(time.Second)
	require.NoError(t, store.Put(ctx, "c3", turn("c3", "3")))

	_, ok, _ := store.Get(ctx, "c2")
	assert.False(t, ok, "c2 was the least recently updated")
	for _, id := range []string{"c1", "c3"} {
		_, ok, _ := store.Get(ctx, id)
		assert.True(t, ok, id)
	}
}

func TestMemoryStore_ConcurrentPutSameConversation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(Options{})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Put(ctx, "shared", turn("shared", fmt.Sprint(i)))
			store.Get(ctx, "shared")
		}(i)
	}
	wg.Wait()

	count, _ := store.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := NewSQLiteStore(path, Options{}, testLogger())
	require.NoError(t, err)
	tr := turn("c1", "persist me")
	tr.Attachments = []domain.Attachment{{ContentType: "application/pdf", ContentURL: "https://x/doc.pdf"}}
	require.NoError(t, store.Put(ctx, "c1", tr))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, Options{}, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	sess, ok, err := reopened.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persist me", sess.Turn.Text)
	require.Len(t, sess.Turn.Attachments, 1)
	assert.Equal(t, "https://x/doc.pdf", sess.Turn.Attachments[0].ContentURL)

	version, err := GetSchemaVersion(reopened.db)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := fmt.Sprintf("relaybot:test:%d:", time.Now().UnixNano())
	store, err := NewRedisStore(RedisConfig{Addr: addr, KeyPrefix: prefix}, Options{TTL: time.Minute})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(ctx, "c1", turn("c1", "turnA")))
	require.NoError(t, store.Put(ctx, "c1", turn("c1", "turnB")))
	sess, ok, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "turnB", sess.Turn.Text)

	ttl, err := store.client.TTL(ctx, store.key("c1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Clear(ctx, "c1"))
	_, ok, err = store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen_SelectsBackend(t *testing.T) {
	cfg := config.Defaults().Sessions
	store, err := Open(cfg, testLogger())
	require.NoError(t, err)
	_, isMemory := store.(*MemoryStore)
	assert.True(t, isMemory)

	cfg.Backend = "sqlite"
	cfg.DBPath = filepath.Join(t.TempDir(), "s.db")
	store, err = Open(cfg, testLogger())
	require.NoError(t, err)
	defer store.Close()
	_, isSQLite := store.(*SQLiteStore)
	assert.True(t, isSQLite)

	cfg.Backend = "etcd"
	_, err = Open(cfg, testLogger())
	assert.Error(t, err)
}

func TestRunJanitor_StopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(Options{TTL: time.Millisecond, Now: clock.Now})
	require.NoError(t, store.Put(context.Background(), "c1", turn("c1", "x")))
	clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunJanitor(ctx, store, 5*time.Millisecond, testLogger())
		close(done)
	}()

	require.Eventually(t, func() bool {
		n, _ := store.Count(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
