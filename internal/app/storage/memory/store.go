// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is intended for tests and local
// development. Transactions are serialised and rolled back from a snapshot.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/domain/ledger"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/domain/ticket"
	"github.com/R3E-Network/agentbank/internal/app/storage"
)

type state struct {
	users        map[string]identity.User
	userByIdent  map[string]string
	credentials  map[string]identity.Credential
	bindings     map[string][]identity.RoleBinding
	agencies     map[string]identity.Agency
	agencyByCode map[string]string
	types        map[string]operation.Type
	typeByName   map[string]string
	rules        map[string]commission.Rule
	ruleOrder    []string
	operations   map[string]operation.Operation
	opOrder      []string
	entries      []ledger.Entry
	records      map[string]commission.Record
	recordOrder  []string
	transfers    []commission.Transfer
	tickets      map[string]ticket.Ticket
	comments     []ticket.Comment
}

func newState() *state {
	return &state{
		users:        make(map[string]identity.User),
		userByIdent:  make(map[string]string),
		credentials:  make(map[string]identity.Credential),
		bindings:     make(map[string][]identity.RoleBinding),
		agencies:     make(map[string]identity.Agency),
		agencyByCode: make(map[string]string),
		types:        make(map[string]operation.Type),
		typeByName:   make(map[string]string),
		rules:        make(map[string]commission.Rule),
		operations:   make(map[string]operation.Operation),
		records:      make(map[string]commission.Record),
		tickets:      make(map[string]ticket.Ticket),
	}
}

func (st *state) clone() *state {
	bindings := make(map[string][]identity.RoleBinding, len(st.bindings))
	for k, v := range st.bindings {
		bindings[k] = slices.Clone(v)
	}
	return &state{
		users:        maps.Clone(st.users),
		userByIdent:  maps.Clone(st.userByIdent),
		credentials:  maps.Clone(st.credentials),
		bindings:     bindings,
		agencies:     maps.Clone(st.agencies),
		agencyByCode: maps.Clone(st.agencyByCode),
		types:        maps.Clone(st.types),
		typeByName:   maps.Clone(st.typeByName),
		rules:        maps.Clone(st.rules),
		ruleOrder:    slices.Clone(st.ruleOrder),
		operations:   maps.Clone(st.operations),
		opOrder:      slices.Clone(st.opOrder),
		entries:      slices.Clone(st.entries),
		records:      maps.Clone(st.records),
		recordOrder:  slices.Clone(st.recordOrder),
		transfers:    slices.Clone(st.transfers),
		tickets:      maps.Clone(st.tickets),
		comments:     slices.Clone(st.comments),
	}
}

// tx carries the store methods. Outside a transaction every call takes the
// store mutex; inside Atomic the mutex is already held.
type tx struct {
	s    *Store
	held bool
}

func (t *tx) lock() func() {
	if t.held {
		return func() {}
	}
	t.s.mu.Lock()
	return t.s.mu.Unlock
}

func (t *tx) st() *state { return t.s.st }

// Store is an in-memory storage.Store.
type Store struct {
	tx
	mu sync.Mutex
	st *state
}

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = (*tx)(nil)

// New creates an empty store.
func New() *Store {
	s := &Store{st: newState()}
	s.tx = tx{s: s}
	return s
}

// Atomic runs fn with exclusive access. On error or panic the state is
// restored to what it was before fn ran.
func (s *Store) Atomic(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if r := recover(); r != nil {
			s.st = snapshot
			panic(r)
		}
	}()
	if err = fn(&tx{s: s, held: true}); err != nil {
		s.st = snapshot
	}
	return err
}

func newID() string { return uuid.NewString() }
