package entity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the entity store port used by actors. Implementations must be safe
// for concurrent use by many actors.
type Store interface {
	InsertEmployee(ctx context.Context, e Employee) (Employee, error)
	GetEmployee(ctx context.Context, id string) (Employee, error)
	UpdateEmployee(ctx context.Context, e Employee) error
	ListEmployees(ctx context.Context, f EmployeeFilter) ([]Employee, error)

	InsertTask(ctx context.Context, t Task) (Task, error)
	GetTask(ctx context.Context, id string) (Task, error)
	UpdateTask(ctx context.Context, t Task) error
	ListTasks(ctx context.Context, f TaskFilter) ([]Task, error)

	InsertDeliverable(ctx context.Context, d Deliverable) (Deliverable, error)
	UpdateDeliverable(ctx context.Context, d Deliverable) error
	ListDeliverables(ctx context.Context, f DeliverableFilter) ([]Deliverable, error)

	InsertMemory(ctx context.Context, m Memory) (Memory, error)
	ListMemories(ctx context.Context, f MemoryFilter) ([]Memory, error)

	InsertMeeting(ctx context.Context, m Meeting) (Meeting, error)
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	ListMeetings(ctx context.Context, f MeetingFilter) ([]Meeting, error)

	InsertCost(ctx context.Context, c Cost) (Cost, error)
	ListCosts(ctx context.Context, f CostFilter) ([]Cost, error)
}

type keyed interface {
	key() string
}

// table keeps rows in insertion order with an ID index.
type table[T keyed] struct {
	rows []T
	pos  map[string]int
}

func newTable[T keyed](rows []T) table[T] {
	t := table[T]{pos: make(map[string]int, len(rows))}
	for _, row := range rows {
		if row.key() == "" {
			continue
		}
		if _, dup := t.pos[row.key()]; dup {
			continue
		}
		t.pos[row.key()] = len(t.rows)
		t.rows = append(t.rows, row)
	}
	return t
}

func (t *table[T]) insert(row T) error {
	if _, exists := t.pos[row.key()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, row.key())
	}
	t.pos[row.key()] = len(t.rows)
	t.rows = append(t.rows, row)
	return nil
}

func (t *table[T]) get(id string) (T, error) {
	idx, ok := t.pos[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.rows[idx], nil
}

func (t *table[T]) update(row T) error {
	idx, ok := t.pos[row.key()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, row.key())
	}
	t.rows[idx] = row
	return nil
}

func (t *table[T]) list(match func(T) bool) []T {
	out := make([]T, 0)
	for _, row := range t.rows {
		if match(row) {
			out = append(out, row)
		}
	}
	return out
}

// Option customizes a Repository.
type Option func(*Repository)

// WithClock injects the clock used to stamp created rows.
func WithClock(clock func() time.Time) Option {
	return func(r *Repository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// Repository is the in-process Store. With a persist hook attached (see
// OpenTOML) every successful mutation is flushed before it returns.
type Repository struct {
	mu      sync.RWMutex
	clock   func() time.Time
	persist func(snapshot) error

	employees    table[Employee]
	tasks        table[Task]
	deliverables table[Deliverable]
	memories     table[Memory]
	meetings     table[Meeting]
	costs        table[Cost]
}

var _ Store = (*Repository)(nil)

type snapshot struct {
	Employees    []Employee
	Tasks        []Task
	Deliverables []Deliverable
	Memories     []Memory
	Meetings     []Meeting
	Costs        []Cost
}

// NewMemory returns an empty in-memory repository.
func NewMemory(opts ...Option) *Repository {
	return newRepository(snapshot{}, opts...)
}

func newRepository(s snapshot, opts ...Option) *Repository {
	r := &Repository{
		clock:        time.Now,
		employees:    newTable(s.Employees),
		tasks:        newTable(s.Tasks),
		deliverables: newTable(s.Deliverables),
		memories:     newTable(s.Memories),
		meetings:     newTable(s.Meetings),
		costs:        newTable(s.Costs),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Repository) snapshotLocked() snapshot {
	return snapshot{
		Employees:    append([]Employee(nil), r.employees.rows...),
		Tasks:        append([]Task(nil), r.tasks.rows...),
		Deliverables: append([]Deliverable(nil), r.deliverables.rows...),
		Memories:     append([]Memory(nil), r.memories.rows...),
		Meetings:     append([]Meeting(nil), r.meetings.rows...),
		Costs:        append([]Cost(nil), r.costs.rows...),
	}
}

// mutate applies fn under the write lock and flushes on success.
func (r *Repository) mutate(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	if r.persist != nil {
		if err := r.persist(r.snapshotLocked()); err != nil {
			return fmt.Errorf("entity: persist: %w", err)
		}
	}
	return nil
}

func (r *Repository) read(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn()
	return nil
}

func (r *Repository) now() time.Time {
	return r.clock().UTC()
}

func newID(id string) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return uuid.NewString()
}

// InsertEmployee stores e, assigning an ID and hire time when missing.
func (r *Repository) InsertEmployee(ctx context.Context, e Employee) (Employee, error) {
	e.ID = newID(e.ID)
	if e.HiredAt.IsZero() {
		e.HiredAt = r.now()
	}
	if e.Status == "" {
		e.Status = "active"
	}
	err := r.mutate(ctx, func() error { return r.employees.insert(e) })
	return e, err
}

// GetEmployee returns the employee with id.
func (r *Repository) GetEmployee(ctx context.Context, id string) (Employee, error) {
	var out Employee
	var err error
	if rerr := r.read(ctx, func() { out, err = r.employees.get(id) }); rerr != nil {
		return Employee{}, rerr
	}
	return out, err
}

// UpdateEmployee replaces an existing employee.
func (r *Repository) UpdateEmployee(ctx context.Context, e Employee) error {
	return r.mutate(ctx, func() error { return r.employees.update(e) })
}

// ListEmployees returns employees matching f in hire order.
func (r *Repository) ListEmployees(ctx context.Context, f EmployeeFilter) ([]Employee, error) {
	var out []Employee
	err := r.read(ctx, func() { out = r.employees.list(f.match) })
	return out, err
}

// InsertTask stores t with pending status unless one is set.
func (r *Repository) InsertTask(ctx context.Context, t Task) (Task, error) {
	t.ID = newID(t.ID)
	now := r.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = TaskPending
	}
	err := r.mutate(ctx, func() error { return r.tasks.insert(t) })
	return t, err
}

// GetTask returns the task with id.
func (r *Repository) GetTask(ctx context.Context, id string) (Task, error) {
	var out Task
	var err error
	if rerr := r.read(ctx, func() { out, err = r.tasks.get(id) }); rerr != nil {
		return Task{}, rerr
	}
	return out, err
}

// UpdateTask replaces an existing task and bumps UpdatedAt.
func (r *Repository) UpdateTask(ctx context.Context, t Task) error {
	t.UpdatedAt = r.now()
	return r.mutate(ctx, func() error { return r.tasks.update(t) })
}

// ListTasks returns tasks matching f in creation order.
func (r *Repository) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	var out []Task
	err := r.read(ctx, func() { out = r.tasks.list(f.match) })
	return out, err
}

// InsertDeliverable stores d.
func (r *Repository) InsertDeliverable(ctx context.Context, d Deliverable) (Deliverable, error) {
	d.ID = newID(d.ID)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now()
	}
	err := r.mutate(ctx, func() error { return r.deliverables.insert(d) })
	return d, err
}

// UpdateDeliverable replaces an existing deliverable.
func (r *Repository) UpdateDeliverable(ctx context.Context, d Deliverable) error {
	return r.mutate(ctx, func() error { return r.deliverables.update(d) })
}

// ListDeliverables returns deliverables matching f.
func (r *Repository) ListDeliverables(ctx context.Context, f DeliverableFilter) ([]Deliverable, error) {
	var out []Deliverable
	err := r.read(ctx, func() { out = r.deliverables.list(f.match) })
	return out, err
}

// InsertMemory stores m.
func (r *Repository) InsertMemory(ctx context.Context, m Memory) (Memory, error) {
	m.ID = newID(m.ID)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	err := r.mutate(ctx, func() error { return r.memories.insert(m) })
	return m, err
}

// ListMemories returns memories matching f.
func (r *Repository) ListMemories(ctx context.Context, f MemoryFilter) ([]Memory, error) {
	var out []Memory
	err := r.read(ctx, func() { out = r.memories.list(f.match) })
	return out, err
}

// InsertMeeting stores m.
func (r *Repository) InsertMeeting(ctx context.Context, m Meeting) (Meeting, error) {
	m.ID = newID(m.ID)
	if m.StartedAt.IsZero() {
		m.StartedAt = r.now()
	}
	m.Participants = append([]string(nil), m.Participants...)
	err := r.mutate(ctx, func() error { return r.meetings.insert(m) })
	return m, err
}

// GetMeeting returns the meeting with id.
func (r *Repository) GetMeeting(ctx context.Context, id string) (Meeting, error) {
	var out Meeting
	var err error
	if rerr := r.read(ctx, func() { out, err = r.meetings.get(id) }); rerr != nil {
		return Meeting{}, rerr
	}
	return out, err
}

// ListMeetings returns meetings matching f ordered by start time.
func (r *Repository) ListMeetings(ctx context.Context, f MeetingFilter) ([]Meeting, error) {
	var out []Meeting
	err := r.read(ctx, func() { out = r.meetings.list(f.match) })
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, err
}

// InsertCost stores c.
func (r *Repository) InsertCost(ctx context.Context, c Cost) (Cost, error) {
	c.ID = newID(c.ID)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	err := r.mutate(ctx, func() error { return r.costs.insert(c) })
	return c, err
}

// ListCosts returns cost records matching f.
func (r *Repository) ListCosts(ctx context.Context, f CostFilter) ([]Cost, error) {
	var out []Cost
	err := r.read(ctx, func() { out = r.costs.list(f.match) })
	return out, err
}
