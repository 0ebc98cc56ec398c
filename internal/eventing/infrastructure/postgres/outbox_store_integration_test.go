package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"equipment-maintops/internal/eventing"
	eventingpg "equipment-maintops/internal/eventing/infrastructure/postgres"
)

type recomputeFinished struct {
	EquipmentInstanceID string `json:"equipment_instance_id"`
}

func TestOutboxRoundTrip_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	table := "event_outbox_it_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	store := eventingpg.NewOutboxStore(db, eventingpg.WithOutboxTable(table))
	require.NoError(t, store.EnsureTable(ctx))
	t.Cleanup(func() { _, _ = db.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+table) })

	bus := eventing.NewInMemoryBus()
	var delivered []string
	bus.Subscribe(eventing.EventTypeOf[recomputeFinished](), func(ctx context.Context, env eventing.Envelope) error {
		event, err := eventing.DecodePayload[recomputeFinished](env)
		if err != nil {
			return err
		}
		delivered = append(delivered, event.EquipmentInstanceID)
		return nil
	})

	ctx = eventing.WithCorrelationID(ctx, "run-it")
	publisher, err := eventing.NewOutboxPublisher(store, nil)
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, recomputeFinished{EquipmentInstanceID: "pump-1"}))

	counts, err := store.CountByState(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"pending": 1}, counts)

	require.NoError(t, eventing.NewDispatcher(bus, store, nil).Dispatch(ctx, 10))
	require.Equal(t, []string{"pump-1"}, delivered)

	counts, err = store.CountByState(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"sent": 1}, counts)
}

func TestOutboxRetriesUntilDead_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	table := "event_outbox_it_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	store := eventingpg.NewOutboxStore(db, eventingpg.WithOutboxTable(table), eventingpg.WithMaxAttempts(2))
	require.NoError(t, store.EnsureTable(ctx))
	t.Cleanup(func() { _, _ = db.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+table) })

	env, err := eventing.BuildEnvelope(recomputeFinished{EquipmentInstanceID: "pump-2"}, eventing.Meta{})
	require.NoError(t, err)
	id, err := store.Insert(ctx, env)
	require.NoError(t, err)
	again, err := store.Insert(ctx, env)
	require.NoError(t, err)
	require.Equal(t, id, again)

	claimed, err := store.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, store.MarkFailed(ctx, id))

	claimed, err = store.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, store.MarkFailed(ctx, id))

	claimed, err = store.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, claimed)

	counts, err := store.CountByState(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"dead": 1}, counts)
}

func openOutbox(t *testing.T, opts ...eventingpg.OutboxOption) *eventingpg.OutboxStore {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	table := "event_outbox_it_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	store := eventingpg.NewOutboxStore(db, append([]eventingpg.OutboxOption{eventingpg.WithOutboxTable(table)}, opts...)...)
	require.NoError(t, store.EnsureTable(context.Background()))
	t.Cleanup(func() { _, _ = db.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+table) })
	return store
}

func TestOutboxConcurrentClaimsAreDisjoint_Postgres(t *testing.T) {
	store := openOutbox(t)
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		env, err := eventing.BuildEnvelope(recomputeFinished{EquipmentInstanceID: fmt.Sprintf("pump-%d", i)}, eventing.Meta{})
		require.NoError(t, err)
		_, err = store.Insert(ctx, env)
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	errs := make(chan error, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := store.ClaimPending(ctx, 3)
				if err != nil {
					errs <- err
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, record := range claimed {
					seen[record.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, seen, 40)
	for id, n := range seen {
		require.Equal(t, 1, n, "record %s claimed twice", id)
	}
}

func TestOutboxReclaimsExpiredClaims_Postgres(t *testing.T) {
	store := openOutbox(t, eventingpg.WithClaimLease(time.Millisecond))
	ctx := context.Background()
	env, err := eventing.BuildEnvelope(recomputeFinished{EquipmentInstanceID: "pump-3"}, eventing.Meta{})
	require.NoError(t, err)
	_, err = store.Insert(ctx, env)
	require.NoError(t, err)

	claimed, err := store.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	time.Sleep(20 * time.Millisecond)
	again, err := store.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, claimed[0].ID, again[0].ID)
}

func TestOutboxStoreNilDB(t *testing.T) {
	store := eventingpg.NewOutboxStore(nil)
	require.Error(t, store.EnsureTable(context.Background()))
	_, err := store.ClaimPending(context.Background(), 1)
	require.Error(t, err)
	_, err = store.CountByState(context.Background())
	require.Error(t, err)
}
