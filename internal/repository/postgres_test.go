package repository_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// POSTGRES_TEST_DSN points the tests at an existing database. Without it a
// throwaway container is started, and the tests skip when docker is missing.
const testDSNEnv = "POSTGRES_TEST_DSN"

type pgFixture struct {
	pool      *pgxpool.Pool
	store     *repository.PostgresStore
	areaID    int64
	requester int64
	techs     []int64
}

func postgresDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv(testDSNEnv); dsn != "" {
		return dsn
	}
	if testing.Short() {
		t.Skipf("set %s or run without -short to start a postgres container", testDSNEnv)
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("helpdesk"),
		tcpostgres.WithUsername("helpdesk"),
		tcpostgres.WithPassword("helpdesk"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, postgresDSN(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, persistence.RunMigrations(ctx, pool, zap.NewNop()))
	_, err = pool.Exec(ctx, `TRUNCATE ticket_surveys, ticket_attachments, ticket_notes,
        ticket_technicians, tickets, users, areas RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	f := &pgFixture{pool: pool, store: repository.NewPostgresStore(pool)}
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO areas (name) VALUES ('Contabilidad') RETURNING id`).Scan(&f.areaID))
	f.requester = f.insertUser(t, "ana", domain.RoleRequester)
	for _, name := range []string{"tomas", "teresa", "ulises", "valeria"} {
		f.techs = append(f.techs, f.insertUser(t, name, domain.RoleTechnician))
	}
	return f
}

func (f *pgFixture) insertUser(t *testing.T, username string, role domain.Role) int64 {
	t.Helper()
	var id int64
	err := f.pool.QueryRow(context.Background(),
		`INSERT INTO users (username, password_hash, role, area_id) VALUES ($1, 'x', $2, $3) RETURNING id`,
		username, string(role), f.areaID).Scan(&id)
	require.NoError(t, err)
	return id
}

func (f *pgFixture) createTicket(t *testing.T, subject string, at time.Time) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		OwnerID:       f.requester,
		AreaID:        f.areaID,
		RequesterName: "Ana Perez",
		Subject:       subject,
		Description:   "no funciona",
		State:         domain.TicketStatePending,
		CreatedAt:     at,
	}
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, repos repository.Repositories) error {
		return repos.Tickets.Create(ctx, ticket)
	})
	require.NoError(t, err)
	return ticket
}

func (f *pgFixture) claim(ctx context.Context, ticketID, techID int64, at time.Time) (bool, error) {
	var added bool
	err := f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		if added, err = repos.Assignments.Add(ctx, ticketID, techID, at); err != nil {
			return err
		}
		return repos.Tickets.MarkClaimed(ctx, ticketID, techID)
	})
	return added, err
}

func (f *pgFixture) ticket(t *testing.T, id int64) *domain.Ticket {
	t.Helper()
	var ticket *domain.Ticket
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, repos repository.Repositories) error {
		var err error
		ticket, err = repos.Tickets.GetByID(ctx, id)
		return err
	})
	require.NoError(t, err)
	return ticket
}

func (f *pgFixture) list(t *testing.T, filter repository.TicketFilter) []int64 {
	t.Helper()
	var ids []int64
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, repos repository.Repositories) error {
		tickets, err := repos.Tickets.List(ctx, filter)
		for _, ticket := range tickets {
			ids = append(ids, ticket.ID)
		}
		return err
	})
	require.NoError(t, err)
	return ids
}

func TestPostgresConcurrentClaimsKeepSinglePrimary(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	ticket := f.createTicket(t, "Impresoras", now)

	var wg sync.WaitGroup
	errs := make([]error, len(f.techs))
	for i, techID := range f.techs {
		wg.Add(1)
		go func(i int, techID int64) {
			defer wg.Done()
			_, errs[i] = f.claim(ctx, ticket.ID, techID, now)
		}(i, techID)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	claimed := f.ticket(t, ticket.ID)
	assert.Equal(t, domain.TicketStateInProgress, claimed.State)
	require.NotNil(t, claimed.PrimaryTechnicianID)
	assert.Contains(t, f.techs, *claimed.PrimaryTechnicianID)
	assert.Equal(t, []string{"teresa", "tomas", "ulises", "valeria"}, claimed.Technicians)
	primary := *claimed.PrimaryTechnicianID

	for _, techID := range f.techs {
		added, err := f.claim(ctx, ticket.ID, techID, now.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, added, "second claim by %d", techID)
	}

	again := f.ticket(t, ticket.ID)
	require.NotNil(t, again.PrimaryTechnicianID)
	assert.Equal(t, primary, *again.PrimaryTechnicianID)
	assert.Len(t, again.Technicians, len(f.techs))

	err := f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		first, err := repos.Assignments.FirstAssignedAt(ctx, ticket.ID)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.True(t, first.Equal(now), "first assignment at %s", first)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresClaimLeavesTerminalState(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	ticket := f.createTicket(t, "Correo", now)

	err := f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Tickets.UpdateState(ctx, ticket.ID, domain.TicketStateCancelled, &now)
	})
	require.NoError(t, err)

	_, err = f.claim(ctx, ticket.ID, f.techs[0], now)
	require.NoError(t, err)
	got := f.ticket(t, ticket.ID)
	assert.Equal(t, domain.TicketStateCancelled, got.State)
	require.NotNil(t, got.ClosedAt)

	err = f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Tickets.MarkClaimed(ctx, 999999, f.techs[0])
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPostgresDuplicateSurveyIsRejected(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	ticket := f.createTicket(t, "Impresoras", now)
	open := f.createTicket(t, "Red", now.Add(time.Second))

	err := f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Tickets.UpdateState(ctx, ticket.ID, domain.TicketStateResolved, &now)
	})
	require.NoError(t, err)

	pending := func() []domain.Ticket {
		var out []domain.Ticket
		err := f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			var err error
			out, err = repos.Surveys.ListPending(ctx, f.requester, domain.TerminalStates)
			return err
		})
		require.NoError(t, err)
		return out
	}
	require.Len(t, pending(), 1)
	assert.Equal(t, ticket.ID, pending()[0].ID)

	five, yes := 5, "si"
	newSurvey := func() *domain.Survey {
		return &domain.Survey{
			TicketID:       ticket.ID,
			Attended:       domain.AttendedYes,
			P2:             &five,
			Identification: &yes,
			Suggestions:    "ninguna",
			CreatedAt:      now,
		}
	}

	first := newSurvey()
	err = f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Surveys.Create(ctx, first)
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	err = f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Surveys.Create(ctx, newSurvey())
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	assert.Empty(t, pending())
	assert.True(t, f.ticket(t, ticket.ID).Surveyed)
	assert.False(t, f.ticket(t, open.ID).Surveyed)
}

func TestPostgresTechnicianScopes(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tech, other := f.techs[0], f.techs[1]

	available := f.createTicket(t, "Disponible", now)
	mine := f.createTicket(t, "Asignado", now.Add(time.Second))
	theirs := f.createTicket(t, "Ajeno", now.Add(2*time.Second))
	closed := f.createTicket(t, "Cerrado", now.Add(3*time.Second))
	cancelledUnclaimed := f.createTicket(t, "Anulado", now.Add(4*time.Second))

	for _, c := range []struct{ ticket, tech int64 }{{mine.ID, tech}, {theirs.ID, other}, {closed.ID, tech}} {
		_, err := f.claim(ctx, c.ticket, c.tech, now)
		require.NoError(t, err)
	}
	err := f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Tickets.UpdateState(ctx, closed.ID, domain.TicketStateResolved, &now); err != nil {
			return err
		}
		return repos.Tickets.UpdateState(ctx, cancelledUnclaimed.ID, domain.TicketStateCancelled, &now)
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{available.ID},
		f.list(t, repository.TicketFilter{Unassigned: true, States: []domain.TicketState{domain.TicketStatePending}}))
	assert.Equal(t, []int64{mine.ID},
		f.list(t, repository.TicketFilter{TechnicianID: &tech, States: domain.OpenStates}))
	assert.Equal(t, []int64{closed.ID},
		f.list(t, repository.TicketFilter{TechnicianID: &tech, States: domain.TerminalStates}))

	owner := f.requester
	assert.Equal(t, []int64{cancelledUnclaimed.ID, closed.ID, theirs.ID, mine.ID, available.ID},
		f.list(t, repository.TicketFilter{OwnerID: &owner}))
	assert.Equal(t, []int64{cancelledUnclaimed.ID, closed.ID},
		f.list(t, repository.TicketFilter{OwnerID: &owner, States: domain.TerminalStates, Limit: 2}))
}

func TestPostgresLockForUpdateSerializesWriters(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}

	locked := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			if err := repos.Users.LockForUpdate(ctx, f.requester); err != nil {
				return err
			}
			close(locked)
			time.Sleep(200 * time.Millisecond)
			record("first")
			return nil
		})
	}()

	<-locked
	err := f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Users.LockForUpdate(ctx, f.requester); err != nil {
			return err
		}
		record("second")
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"first", "second"}, order)

	err = f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Users.LockForUpdate(ctx, 999999)
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
