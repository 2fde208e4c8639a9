package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
	"github.com/spec-kit/helpdesk-service/internal/storage"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) record(_ context.Context, ev events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func (l *eventLog) last() events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

type fixture struct {
	store  *memory.Store
	blobs  *storage.MemoryBlobStore
	clock  *fakeClock
	events *eventLog

	registry    *TicketRegistry
	gate        *SurveyGate
	ledger      *AssignmentLedger
	attachments *AttachmentCatalog

	area      domain.Area
	requester domain.Principal
	other     domain.Principal
	tech      domain.Principal
	tech2     domain.Principal
}

type fixtureOption func(*fixtureSettings)

type fixtureSettings struct {
	tickets config.TicketConfig
	blobs   storage.BlobStore
	wrap    func(*memory.Store) repository.Store
}

func withTicketConfig(cfg config.TicketConfig) fixtureOption {
	return func(s *fixtureSettings) { s.tickets = cfg }
}

func withBlobStore(blobs storage.BlobStore) fixtureOption {
	return func(s *fixtureSettings) { s.blobs = blobs }
}

func withStoreWrapper(wrap func(*memory.Store) repository.Store) fixtureOption {
	return func(s *fixtureSettings) { s.wrap = wrap }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	mem := memory.NewStore()
	f := &fixture{
		store:  mem,
		blobs:  storage.NewMemoryBlobStore("/uploads/tickets"),
		clock:  newFakeClock(),
		events: &eventLog{},
	}

	settings := fixtureSettings{
		tickets: config.TicketConfig{MaxTotalTickets: 2},
		blobs:   f.blobs,
	}
	for _, opt := range opts {
		opt(&settings)
	}
	var store repository.Store = mem
	if settings.wrap != nil {
		store = settings.wrap(mem)
	}

	f.area = mem.AddArea("Contabilidad")
	areaID := f.area.ID
	f.requester = principalOf(mem.AddUser(domain.User{Username: "ana", Role: domain.RoleRequester, Active: true, AreaID: &areaID}))
	f.other = principalOf(mem.AddUser(domain.User{Username: "bruno", Role: domain.RoleRequester, Active: true, AreaID: &areaID}))
	f.tech = principalOf(mem.AddUser(domain.User{Username: "tomas", Role: domain.RoleTechnician, Active: true}))
	f.tech2 = principalOf(mem.AddUser(domain.User{Username: "teresa", Role: domain.RoleTechnician, Active: true}))

	dispatcher := events.NewInMemoryDispatcher()
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, f.events.record)
	}

	var nonce int
	var nonceMu sync.Mutex
	f.gate = NewSurveyGate(SurveyGateDependencies{
		Store:            store,
		Dispatcher:       dispatcher,
		Clock:            f.clock.Now,
		IncludeCancelled: settings.tickets.SurveyRequiredForCancelled,
	})
	f.attachments = NewAttachmentCatalog(AttachmentCatalogDependencies{
		Store:      store,
		Blobs:      settings.blobs,
		Dispatcher: dispatcher,
		Clock:      f.clock.Now,
		Nonce: func() string {
			nonceMu.Lock()
			defer nonceMu.Unlock()
			nonce++
			return fmt.Sprintf("n%d", nonce)
		},
	})
	f.registry = NewTicketRegistry(TicketRegistryDependencies{
		Store:       store,
		SurveyGate:  f.gate,
		Attachments: f.attachments,
		Dispatcher:  dispatcher,
		Config:      settings.tickets,
		Clock:       f.clock.Now,
	})
	f.ledger = NewAssignmentLedger(AssignmentLedgerDependencies{
		Store:      store,
		Dispatcher: dispatcher,
		Clock:      f.clock.Now,
	})
	return f
}

func principalOf(u domain.User) domain.Principal {
	return domain.PrincipalFromUser(&u)
}

func ticketInput(requestType string, images ...ImageUpload) CreateTicketInput {
	return CreateTicketInput{
		RequestType:   requestType,
		Description:   "la impresora no imprime",
		RequesterName: "Ana Perez",
		Images:        images,
	}
}

func imageUpload(name, contentType, body string) ImageUpload {
	return ImageUpload{
		FileName:    name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func (f *fixture) createTicket(t *testing.T, caller domain.Principal) *domain.Ticket {
	t.Helper()
	ticket, err := f.registry.CreateTicket(context.Background(), caller, ticketInput("Soporte de impresoras"))
	require.NoError(t, err)
	return ticket
}

// close claims the ticket with f.tech and moves it to a terminal state.
func (f *fixture) close(t *testing.T, ticketID int64, state domain.TicketState) *domain.Ticket {
	t.Helper()
	ctx := context.Background()
	_, err := f.registry.Claim(ctx, f.tech, ticketID)
	require.NoError(t, err)
	ticket, err := f.registry.ChangeState(ctx, f.tech, ticketID, string(state), "listo")
	require.NoError(t, err)
	return ticket
}

func assertCode(t *testing.T, err error, code string) *apperrors.DomainError {
	t.Helper()
	require.Error(t, err)
	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr), "expected domain error, got %v", err)
	assert.Equal(t, code, domainErr.Code, "message: %s", domainErr.Message)
	return domainErr
}

// failingBlobStore fails the nth Put.
type failingBlobStore struct {
	*storage.MemoryBlobStore
	mu     sync.Mutex
	puts   int
	failAt int
}

func (s *failingBlobStore) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	s.mu.Lock()
	s.puts++
	fail := s.puts == s.failAt
	s.mu.Unlock()
	if fail {
		return 0, errors.New("disk full")
	}
	return s.MemoryBlobStore.Put(ctx, key, contentType, r)
}
