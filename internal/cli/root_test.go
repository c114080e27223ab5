package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"product-sync/internal/mirror"
	"product-sync/internal/products/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOutbox struct {
	stats repository.OutboxStats
	err   error
}

func (s stubOutbox) Stats(context.Context) (repository.OutboxStats, error) {
	return s.stats, s.err
}

type stubDeadLetters struct {
	depth      int
	moved      int
	replayErr  error
	gotLimit   int
	replayRuns int
}

func (s *stubDeadLetters) Name() string { return "products.sync.dlq" }

func (s *stubDeadLetters) Depth(context.Context) (int, error) { return s.depth, nil }

func (s *stubDeadLetters) Replay(_ context.Context, limit int) (int, error) {
	s.replayRuns++
	s.gotLimit = limit
	return s.moved, s.replayErr
}

type stubReader struct {
	docs map[int64]mirror.ProductDocument
}

func (s stubReader) FindByProductID(_ context.Context, id int64) (mirror.ProductDocument, error) {
	doc, ok := s.docs[id]
	if !ok {
		return mirror.ProductDocument{}, mirror.ErrDocumentNotFound
	}
	return doc, nil
}

type testEnv struct {
	migrated int
	released int
	outbox   stubOutbox
	dlq      *stubDeadLetters
	reader   stubReader
	backends Backends
}

func newTestEnv() *testEnv {
	env := &testEnv{
		dlq:    &stubDeadLetters{},
		reader: stubReader{docs: map[int64]mirror.ProductDocument{}},
	}
	release := func() { env.released++ }
	env.backends = Backends{
		Migrate: func(context.Context) error {
			env.migrated++
			return nil
		},
		Outbox: func(context.Context) (OutboxInspector, func(), error) {
			return env.outbox, release, nil
		},
		DeadLetters: func(context.Context) (DeadLetters, func(), error) {
			return env.dlq, release, nil
		},
		Mirror: func(context.Context) (DocumentReader, func(), error) {
			return env.reader, release, nil
		},
	}
	return env
}

func run(t *testing.T, b Backends, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(b)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCommand(Backends{})
	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}

	assert.Contains(t, names, "migrate")
	assert.Contains(t, names, "outbox")
	assert.Contains(t, names, "dlq")
	assert.Contains(t, names, "mirror")
}

func TestMigrateCmd(t *testing.T) {
	env := newTestEnv()

	out, err := run(t, env.backends, "migrate")
	require.NoError(t, err)
	assert.Equal(t, 1, env.migrated)
	assert.Contains(t, out, "Migrations applied")
}

func TestMigrateCmd_Error(t *testing.T) {
	env := newTestEnv()
	env.backends.Migrate = func(context.Context) error { return errors.New("DATABASE_URL is required") }

	_, err := run(t, env.backends, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestOutboxStatsCmd(t *testing.T) {
	env := newTestEnv()
	oldest := time.Now().Add(-90 * time.Second)
	env.outbox = stubOutbox{stats: repository.OutboxStats{Pending: 3, Published: 12, OldestPending: &oldest, MaxAttempts: 2}}

	out, err := run(t, env.backends, "outbox", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending:   3")
	assert.Contains(t, out, "Published: 12")
	assert.Contains(t, out, "Max attempts:   2")
	assert.Equal(t, 1, env.released)
}

func TestOutboxStatsCmd_Empty(t *testing.T) {
	env := newTestEnv()

	out, err := run(t, env.backends, "outbox", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending:   0")
	assert.NotContains(t, out, "Oldest pending")
}

func TestDLQStatsCmd(t *testing.T) {
	env := newTestEnv()
	env.dlq.depth = 5

	out, err := run(t, env.backends, "dlq", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "products.sync.dlq: 5 messages")
}

func TestDLQReplayCmd(t *testing.T) {
	t.Run("default limit", func(t *testing.T) {
		env := newTestEnv()
		env.dlq.moved = 2

		out, err := run(t, env.backends, "dlq", "replay")
		require.NoError(t, err)
		assert.Equal(t, defaultReplayLimit, env.dlq.gotLimit)
		assert.Contains(t, out, "Replayed 2 messages")
	})

	t.Run("custom limit", func(t *testing.T) {
		env := newTestEnv()

		_, err := run(t, env.backends, "dlq", "replay", "--limit", "7")
		require.NoError(t, err)
		assert.Equal(t, 7, env.dlq.gotLimit)
	})

	t.Run("rejects zero limit", func(t *testing.T) {
		env := newTestEnv()

		_, err := run(t, env.backends, "dlq", "replay", "-n", "0")
		require.Error(t, err)
		assert.Equal(t, 0, env.dlq.replayRuns)
	})

	t.Run("partial replay reports progress and error", func(t *testing.T) {
		env := newTestEnv()
		env.dlq.moved = 1
		env.dlq.replayErr = errors.New("nacked")

		out, err := run(t, env.backends, "dlq", "replay")
		require.Error(t, err)
		assert.Contains(t, out, "Replayed 1 messages")
		assert.Contains(t, err.Error(), "nacked")
	})
}

func TestMirrorShowCmd(t *testing.T) {
	env := newTestEnv()
	env.reader.docs[1] = mirror.ProductDocument{
		DocumentID: "65f0",
		ProductID:  1,
		Name:       "Widget",
		Price:      decimal.RequireFromString("9.99"),
	}

	t.Run("prints document", func(t *testing.T) {
		out, err := run(t, env.backends, "mirror", "show", "1")
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &doc))
		assert.Equal(t, "Widget", doc["name"])
		assert.Equal(t, "9.99", doc["price"])
		assert.Equal(t, float64(1), doc["productId"])
	})

	t.Run("not mirrored", func(t *testing.T) {
		_, err := run(t, env.backends, "mirror", "show", "2")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not mirrored")
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := run(t, env.backends, "mirror", "show", "abc")
		require.Error(t, err)
	})

	t.Run("requires one arg", func(t *testing.T) {
		_, err := run(t, env.backends, "mirror", "show")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "accepts 1 arg(s)")
	})
}
