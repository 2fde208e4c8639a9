// Package memory provides an in-process repository.Store used in development
// mode and tests. Writes become visible immediately and are undone when the
// surrounding transaction fails.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

var _ repository.Store = (*Store)(nil)

type assignmentKey struct {
	ticketID     int64
	technicianID int64
}

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	seq int64

	areas        map[int64]domain.Area
	users        map[int64]domain.User
	tickets      map[int64]domain.Ticket
	assignments  map[assignmentKey]time.Time
	notes        map[int64]domain.Note
	attachments  map[int64]domain.Attachment
	surveys      map[int64]domain.Survey
	requestTypes map[int64]domain.RequestType
	suggestions  map[int64]domain.ProblemSuggestion

	userLocks map[int64]*sync.Mutex
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		areas:        make(map[int64]domain.Area),
		users:        make(map[int64]domain.User),
		tickets:      make(map[int64]domain.Ticket),
		assignments:  make(map[assignmentKey]time.Time),
		notes:        make(map[int64]domain.Note),
		attachments:  make(map[int64]domain.Attachment),
		surveys:      make(map[int64]domain.Survey),
		requestTypes: make(map[int64]domain.RequestType),
		suggestions:  make(map[int64]domain.ProblemSuggestion),
		userLocks:    make(map[int64]*sync.Mutex),
	}
}

type tx struct {
	s      *Store
	undo   []func()
	locked map[int64]*sync.Mutex
}

// WithinTx runs fn and reverts its writes when it fails.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	t := &tx{s: s, locked: make(map[int64]*sync.Mutex)}
	defer t.release()

	err := fn(ctx, t.repositories())
	if err != nil {
		s.mu.Lock()
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		s.mu.Unlock()
	}
	return err
}

func (t *tx) release() {
	for _, m := range t.locked {
		m.Unlock()
	}
}

// record must be called with s.mu held.
func (t *tx) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *tx) repositories() repository.Repositories {
	return repository.Repositories{
		Users:       userRepo{t},
		Tickets:     ticketRepo{t},
		Assignments: assignmentRepo{t},
		Notes:       noteRepo{t},
		Attachments: attachmentRepo{t},
		Surveys:     surveyRepo{t},
		Catalog:     catalogRepo{t},
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// AddArea seeds an area.
func (s *Store) AddArea(name string) domain.Area {
	s.mu.Lock()
	defer s.mu.Unlock()
	area := domain.Area{ID: s.nextID(), Name: name}
	s.areas[area.ID] = area
	return area
}

// AddUser seeds an account and returns it with its assigned id.
func (s *Store) AddUser(user domain.User) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.ID = s.nextID()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return user
}

// SetUserActive toggles an account.
func (s *Store) SetUserActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Active = active
		s.users[id] = u
	}
}

// AddRequestType seeds a catalog entry.
func (s *Store) AddRequestType(rt domain.RequestType) domain.RequestType {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt.ID = s.nextID()
	s.requestTypes[rt.ID] = rt
	return rt
}

// AddSuggestion seeds a problem suggestion.
func (s *Store) AddSuggestion(sg domain.ProblemSuggestion) domain.ProblemSuggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg.ID = s.nextID()
	s.suggestions[sg.ID] = sg
	return sg
}

// TicketCount reports how many tickets exist.
func (s *Store) TicketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

// AttachmentCount reports how many attachment rows exist.
func (s *Store) AttachmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attachments)
}

// readTicket builds the read model; s.mu must be held.
func (s *Store) readTicket(t domain.Ticket) domain.Ticket {
	if area, ok := s.areas[t.AreaID]; ok {
		t.AreaName = area.Name
	}
	t.Technicians = []string{}
	for key := range s.assignments {
		if key.ticketID == t.ID {
			t.Technicians = append(t.Technicians, s.users[key.technicianID].Username)
		}
	}
	sort.Strings(t.Technicians)
	_, t.Surveyed = s.surveys[t.ID]
	return t
}

type userRepo struct{ t *tx }

func (r userRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.withArea(u), nil
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return s.withArea(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) withArea(u domain.User) *domain.User {
	if u.AreaID != nil {
		u.AreaName = s.areas[*u.AreaID].Name
	}
	return &u
}

func (r userRepo) ListActiveTechnicians(_ context.Context) ([]domain.TechnicianRef, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TechnicianRef
	for _, u := range s.users {
		if u.Role == domain.RoleTechnician && u.Active {
			out = append(out, domain.TechnicianRef{ID: u.ID, Username: u.Username})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (r userRepo) LockForUpdate(ctx context.Context, id int64) error {
	s := r.t.s
	s.mu.Lock()
	if _, ok := s.users[id]; !ok {
		s.mu.Unlock()
		return repository.ErrNotFound
	}
	if _, held := r.t.locked[id]; held {
		s.mu.Unlock()
		return nil
	}
	m, ok := s.userLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.userLocks[id] = m
	}
	s.mu.Unlock()

	m.Lock()
	if err := ctx.Err(); err != nil {
		m.Unlock()
		return err
	}
	r.t.locked[id] = m
	return nil
}

type ticketRepo struct{ t *tx }

func (r ticketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket.ID = s.nextID()
	stored := *ticket
	stored.Technicians = nil
	s.tickets[ticket.ID] = stored
	id := ticket.ID
	r.t.record(func() { delete(s.tickets, id) })
	return nil
}

func (r ticketRepo) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := s.readTicket(t)
	return &out, nil
}

func (r ticketRepo) CountByOwner(_ context.Context, ownerID int64) (int, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.tickets {
		if t.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

func (r ticketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Ticket
	for _, t := range s.tickets {
		if filter.OwnerID != nil && t.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.TechnicianID != nil {
			if _, ok := s.assignments[assignmentKey{t.ID, *filter.TechnicianID}]; !ok {
				continue
			}
		}
		if len(filter.States) > 0 && !containsState(filter.States, t.State) {
			continue
		}
		view := s.readTicket(t)
		if filter.Unassigned && len(view.Technicians) > 0 {
			continue
		}
		out = append(out, view)
	}
	sortNewestFirst(out)

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r ticketRepo) UpdateState(_ context.Context, id int64, state domain.TicketState, closedAt *time.Time) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.tickets[id]
	if !ok {
		return repository.ErrNotFound
	}
	next := prev
	next.State = state
	next.ClosedAt = closedAt
	s.tickets[id] = next
	r.t.record(func() { s.tickets[id] = prev })
	return nil
}

func (r ticketRepo) MarkClaimed(_ context.Context, id, technicianID int64) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.tickets[id]
	if !ok {
		return repository.ErrNotFound
	}
	next := prev
	if next.State == domain.TicketStatePending {
		next.State = domain.TicketStateInProgress
	}
	if next.PrimaryTechnicianID == nil {
		tech := technicianID
		next.PrimaryTechnicianID = &tech
	}
	s.tickets[id] = next
	r.t.record(func() { s.tickets[id] = prev })
	return nil
}

type assignmentRepo struct{ t *tx }

func (r assignmentRepo) Add(_ context.Context, ticketID, technicianID int64, at time.Time) (bool, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey{ticketID, technicianID}
	if _, ok := s.assignments[key]; ok {
		return false, nil
	}
	s.assignments[key] = at
	r.t.record(func() { delete(s.assignments, key) })
	return true, nil
}

func (r assignmentRepo) Exists(_ context.Context, ticketID, technicianID int64) (bool, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assignments[assignmentKey{ticketID, technicianID}]
	return ok, nil
}

func (r assignmentRepo) ListTechnicians(_ context.Context, ticketID int64) ([]domain.TechnicianRef, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TechnicianRef
	for key := range s.assignments {
		if key.ticketID == ticketID {
			out = append(out, domain.TechnicianRef{ID: key.technicianID, Username: s.users[key.technicianID].Username})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (r assignmentRepo) FirstAssignedAt(_ context.Context, ticketID int64) (*time.Time, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var first *time.Time
	for key, at := range s.assignments {
		if key.ticketID != ticketID {
			continue
		}
		if first == nil || at.Before(*first) {
			at := at
			first = &at
		}
	}
	return first, nil
}

type noteRepo struct{ t *tx }

func (r noteRepo) Create(_ context.Context, note *domain.Note) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	note.ID = s.nextID()
	s.notes[note.ID] = *note
	id := note.ID
	r.t.record(func() { delete(s.notes, id) })
	return nil
}

func (r noteRepo) ListByTicket(_ context.Context, ticketID int64) ([]domain.Note, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Note
	for _, n := range s.notes {
		if n.TicketID == ticketID {
			n.AuthorUsername = s.users[n.AuthorID].Username
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

type attachmentRepo struct{ t *tx }

func (r attachmentRepo) Create(_ context.Context, att *domain.Attachment) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	att.ID = s.nextID()
	s.attachments[att.ID] = *att
	id := att.ID
	r.t.record(func() { delete(s.attachments, id) })
	return nil
}

func (r attachmentRepo) ListByTicket(_ context.Context, ticketID int64) ([]domain.Attachment, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Attachment
	for _, a := range s.attachments {
		if a.TicketID == ticketID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type surveyRepo struct{ t *tx }

func (r surveyRepo) Create(_ context.Context, survey *domain.Survey) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.surveys[survey.TicketID]; ok {
		return repository.ErrDuplicate
	}
	survey.ID = s.nextID()
	s.surveys[survey.TicketID] = *survey
	ticketID := survey.TicketID
	r.t.record(func() { delete(s.surveys, ticketID) })
	return nil
}

func (r surveyRepo) ListPending(_ context.Context, ownerID int64, states []domain.TicketState) ([]domain.Ticket, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.OwnerID != ownerID || !containsState(states, t.State) {
			continue
		}
		if _, ok := s.surveys[t.ID]; ok {
			continue
		}
		out = append(out, s.readTicket(t))
	}
	sortNewestFirst(out)
	return out, nil
}

type catalogRepo struct{ t *tx }

func (r catalogRepo) ListRequestTypes(_ context.Context) ([]domain.RequestType, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RequestType
	for _, rt := range s.requestTypes {
		if rt.Active {
			out = append(out, rt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r catalogRepo) ListSuggestions(_ context.Context, query repository.SuggestionQuery) ([]domain.ProblemSuggestion, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := func(rt domain.RequestType) bool {
		if query.TypeID != nil {
			return rt.ID == *query.TypeID
		}
		return rt.Slug == query.Key || rt.Name == query.Key
	}

	var out []domain.ProblemSuggestion
	for _, sg := range s.suggestions {
		rt, ok := s.requestTypes[sg.RequestTypeID]
		if !ok || !rt.Active || !sg.Active || !matches(rt) {
			continue
		}
		out = append(out, sg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func containsState(states []domain.TicketState, state domain.TicketState) bool {
	for _, s := range states {
		if strings.EqualFold(string(s), string(state)) {
			return true
		}
	}
	return false
}

func sortNewestFirst(tickets []domain.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		if !tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
		}
		return tickets[i].ID > tickets[j].ID
	})
}
