// Package fake provides in-memory implementations of the collaborator
// service ports, intended for local development and tests only. Each
// fake keeps its state in a map behind a mutex and can be scripted to
// fail specific methods.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackvest/strategy-sagas/internal/clients"
	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

// Compile-time port assertions.
var (
	_ clients.Strategy  = (*Strategy)(nil)
	_ clients.Portfolio = (*Portfolio)(nil)
	_ clients.Execution = (*Execution)(nil)
	_ clients.Risk      = (*Risk)(nil)
	_ clients.Account   = (*Account)(nil)
)

// failures scripts per-method errors: Fail("ValidatePlan", err) makes
// the next calls to that method return err until cleared.
type failures struct {
	mu   sync.Mutex
	errs map[string]error
}

func (f *failures) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	f.errs[method] = err
}

func (f *failures) Clear(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, method)
}

func (f *failures) check(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[method]
}

// Strategy is an in-memory strategy service.
type Strategy struct {
	failures
	mu       sync.Mutex
	statuses map[string]string // plan id -> status
}

func NewStrategy() *Strategy {
	return &Strategy{statuses: make(map[string]string)}
}

func (s *Strategy) ValidatePlan(ctx context.Context, plan clients.Plan) error {
	if err := s.check("ValidatePlan"); err != nil {
		return err
	}
	if plan.ID == "" || plan.UserID == "" {
		return fault.InvalidInput("plan id and user id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[plan.ID] = "validated"
	return nil
}

func (s *Strategy) CancelPlan(ctx context.Context, userID, planID string) error {
	if err := s.check("CancelPlan"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[planID] = "cancelled"
	return nil
}

// PlanStatus exposes the fake's internal state for test assertions.
func (s *Strategy) PlanStatus(planID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[planID]
}

// Portfolio is an in-memory portfolio/ledger service.
type Portfolio struct {
	failures
	mu       sync.Mutex
	views    map[string]clients.PortfolioView
	recorded map[string][]clients.TxRecord
}

func NewPortfolio() *Portfolio {
	return &Portfolio{
		views:    make(map[string]clients.PortfolioView),
		recorded: make(map[string][]clients.TxRecord),
	}
}

// Seed installs a portfolio snapshot for a user.
func (p *Portfolio) Seed(view clients.PortfolioView) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views[view.UserID] = view
}

func (p *Portfolio) GetPortfolio(ctx context.Context, userID string) (clients.PortfolioView, error) {
	if err := p.check("GetPortfolio"); err != nil {
		return clients.PortfolioView{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	view, ok := p.views[userID]
	if !ok {
		// Unknown users get an empty funded portfolio rather than an
		// error, matching a freshly registered account.
		return clients.PortfolioView{UserID: userID}, nil
	}
	return view, nil
}

func (p *Portfolio) RecordTransaction(ctx context.Context, userID string, rec clients.TxRecord) error {
	if err := p.check("RecordTransaction"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded[userID] = append(p.recorded[userID], rec)
	return nil
}

// Recorded returns the transactions recorded for a user.
func (p *Portfolio) Recorded(userID string) []clients.TxRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]clients.TxRecord, len(p.recorded[userID]))
	copy(out, p.recorded[userID])
	return out
}

// Execution is an in-memory transaction-execution service.
type Execution struct {
	failures
	mu        sync.Mutex
	executed  map[string][]string // plan id -> tx ids
	cancelled map[string]bool
}

func NewExecution() *Execution {
	return &Execution{
		executed:  make(map[string][]string),
		cancelled: make(map[string]bool),
	}
}

func (e *Execution) ExecutePlan(ctx context.Context, plan clients.Plan) ([]string, error) {
	if err := e.check("ExecutePlan"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	txIDs := []string{uuid.NewString()}
	e.executed[plan.ID] = txIDs
	return txIDs, nil
}

func (e *Execution) CancelExecution(ctx context.Context, planID string) error {
	if err := e.check("CancelExecution"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[planID] = true
	return nil
}

func (e *Execution) TxStatus(ctx context.Context, txID string) (clients.TxStatus, error) {
	if err := e.check("TxStatus"); err != nil {
		return clients.TxStatus{}, err
	}
	return clients.TxStatus{TxID: txID, Confirmations: 1, State: "confirmed"}, nil
}

// Cancelled reports whether an execution was cancelled.
func (e *Execution) Cancelled(planID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[planID]
}

// Risk is an in-memory risk service returning scripted intents.
type Risk struct {
	failures
	mu      sync.Mutex
	intents []clients.ProtectiveIntent
}

func NewRisk() *Risk {
	return &Risk{}
}

// SetIntents scripts the intents the next evaluation returns.
func (r *Risk) SetIntents(intents []clients.ProtectiveIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = intents
}

func (r *Risk) EvaluatePortfolio(ctx context.Context, userID string) ([]clients.ProtectiveIntent, error) {
	if err := r.check("EvaluatePortfolio"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]clients.ProtectiveIntent, len(r.intents))
	copy(out, r.intents)
	return out, nil
}

// Account is an in-memory user/account service.
type Account struct {
	failures
	mu            sync.Mutex
	notifications map[string][]string
	delay         time.Duration
}

func NewAccount() *Account {
	return &Account{notifications: make(map[string][]string)}
}

// SetDelay makes NotifyUser block for d (or until ctx expires), used to
// exercise call timeouts.
func (a *Account) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

func (a *Account) NotifyUser(ctx context.Context, userID, message string) error {
	if err := a.check("NotifyUser"); err != nil {
		return err
	}
	a.mu.Lock()
	delay := a.delay
	a.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifications[userID] = append(a.notifications[userID], message)
	return nil
}

// Notifications returns the messages delivered to a user.
func (a *Account) Notifications(userID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.notifications[userID]))
	copy(out, a.notifications[userID])
	return out
}

// NewSet bundles one fake per collaborator.
func NewSet() (clients.Set, *Strategy, *Portfolio, *Execution, *Risk, *Account) {
	st, pf, ex, rk, ac := NewStrategy(), NewPortfolio(), NewExecution(), NewRisk(), NewAccount()
	return clients.Set{
		Strategy:  st,
		Portfolio: pf,
		Execution: ex,
		Risk:      rk,
		Account:   ac,
	}, st, pf, ex, rk, ac
}
