package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Единица работы
// выполняется под одним мьютексом, при ошибке состояние откатывается к снимку.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	seq          int64
	users        map[int64]model.User
	jobs         map[int64]model.Job
	bids         map[int64]model.Bid
	projects     map[int64]model.Project
	contracts    map[int64]model.Contract
	transactions map[uuid.UUID]model.Transaction
	txOrder      []uuid.UUID
	deposits     map[int64]model.Deposit
	events       map[string]string
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			users:        make(map[int64]model.User),
			jobs:         make(map[int64]model.Job),
			bids:         make(map[int64]model.Bid),
			projects:     make(map[int64]model.Project),
			contracts:    make(map[int64]model.Contract),
			transactions: make(map[uuid.UUID]model.Transaction),
			deposits:     make(map[int64]model.Deposit),
			events:       make(map[string]string),
		},
		now: time.Now,
	}
}

var _ Store = (*MemoryRepository)(nil)

// SetClock подменяет источник времени для CreatedAt.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (s *memState) clone() *memState {
	c := &memState{
		seq:          s.seq,
		users:        make(map[int64]model.User, len(s.users)),
		jobs:         make(map[int64]model.Job, len(s.jobs)),
		bids:         make(map[int64]model.Bid, len(s.bids)),
		projects:     make(map[int64]model.Project, len(s.projects)),
		contracts:    make(map[int64]model.Contract, len(s.contracts)),
		transactions: make(map[uuid.UUID]model.Transaction, len(s.transactions)),
		txOrder:      append([]uuid.UUID(nil), s.txOrder...),
		deposits:     make(map[int64]model.Deposit, len(s.deposits)),
		events:       make(map[string]string, len(s.events)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.bids {
		c.bids[k] = v
	}
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.contracts {
		c.contracts[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.deposits {
		c.deposits[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

func (s *memState) nextID() int64 {
	s.seq++
	return s.seq
}

// WithinTx выполняет fn атомарно относительно остальных операций хранилища.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	if err := fn(&memTx{st: r.state, now: r.now}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *MemoryRepository) CreateUser(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u.ID = r.state.nextID()
	u.CreatedAt = r.now()
	r.state.users[u.ID] = *u
	return nil
}

// GetUser возвращает пользователя по ID.
func (r *MemoryRepository) GetUser(_ context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.state.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	return &u, nil
}

// CreateJob сохраняет заказ.
func (r *MemoryRepository) CreateJob(_ context.Context, j *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.users[j.EmployerID]; !ok {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, j.EmployerID)
	}
	j.ID = r.state.nextID()
	j.CreatedAt = r.now()
	r.state.jobs[j.ID] = *j
	return nil
}

// GetJob возвращает заказ по ID.
func (r *MemoryRepository) GetJob(_ context.Context, id int64) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.state.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %d", model.ErrNotFound, id)
	}
	return &j, nil
}

// GetBid возвращает ставку по ID.
func (r *MemoryRepository) GetBid(_ context.Context, id int64) (*model.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.state.bids[id]
	if !ok {
		return nil, fmt.Errorf("%w: bid %d", model.ErrNotFound, id)
	}
	return &b, nil
}

// ListBidsByJob возвращает ставки по заказу в порядке подачи.
func (r *MemoryRepository) ListBidsByJob(_ context.Context, jobID int64) ([]model.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Bid
	for _, b := range r.state.bids {
		if b.JobID == jobID {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// GetProject возвращает проект по ID.
func (r *MemoryRepository) GetProject(_ context.Context, id int64) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.state.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: project %d", model.ErrNotFound, id)
	}
	return &p, nil
}

// GetContractByProject возвращает контракт проекта.
func (r *MemoryRepository) GetContractByProject(_ context.Context, projectID int64) (*model.Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.state.contracts {
		if c.ProjectID == projectID {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: contract for project %d", model.ErrNotFound, projectID)
}

// GetTransaction возвращает транзакцию по ID.
func (r *MemoryRepository) GetTransaction(_ context.Context, id uuid.UUID) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.state.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", model.ErrNotFound, id)
	}
	return &t, nil
}

// FindTransactionByGatewayRef ищет последнюю транзакцию с указанной ссылкой шлюза.
func (r *MemoryRepository) FindTransactionByGatewayRef(_ context.Context, ref string) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.state.txOrder) - 1; i >= 0; i-- {
		t := r.state.transactions[r.state.txOrder[i]]
		if ref != "" && t.GatewayRef == ref {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: transaction with gateway ref %s", model.ErrNotFound, ref)
}

// ListTransactionsByProject возвращает леджер проекта в хронологическом порядке.
func (r *MemoryRepository) ListTransactionsByProject(_ context.Context, projectID int64) ([]model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Transaction
	for _, id := range r.state.txOrder {
		t := r.state.transactions[id]
		if t.ProjectID == projectID {
			res = append(res, t)
		}
	}
	return res, nil
}

// ListPendingPayouts возвращает зависшие выплаты и возвраты.
func (r *MemoryRepository) ListPendingPayouts(_ context.Context, createdBefore time.Time, limit int) ([]model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Transaction
	for _, id := range r.state.txOrder {
		if limit > 0 && len(res) >= limit {
			break
		}
		t := r.state.transactions[id]
		if t.Status == model.TransactionStatusPending && t.Type.IsPayout() && t.CreatedAt.Before(createdBefore) {
			res = append(res, t)
		}
	}
	return res, nil
}

type memTx struct {
	st  *memState
	now func() time.Time
}

var _ Tx = (*memTx)(nil)

func (t *memTx) LockUser(_ context.Context, id int64) (*model.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	return &u, nil
}

func (t *memTx) SetEscrowBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	u, ok := t.st.users[id]
	if !ok {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	if balance.IsNegative() {
		return fmt.Errorf("%w: negative escrow balance for user %d", model.ErrInsufficientEscrow, id)
	}
	u.EscrowBalance = balance
	t.st.users[id] = u
	return nil
}

func (t *memTx) AddEarnings(_ context.Context, id int64, amount decimal.Decimal) error {
	u, ok := t.st.users[id]
	if !ok {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	u.TotalEarnings = u.TotalEarnings.Add(amount)
	t.st.users[id] = u
	return nil
}

func (t *memTx) LockJob(_ context.Context, id int64) (*model.Job, error) {
	j, ok := t.st.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %d", model.ErrNotFound, id)
	}
	return &j, nil
}

func (t *memTx) SetJobStatus(_ context.Context, id int64, status model.JobStatus) error {
	j, ok := t.st.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %d", model.ErrNotFound, id)
	}
	j.Status = status
	t.st.jobs[id] = j
	return nil
}

func (t *memTx) CreateBid(_ context.Context, b *model.Bid) error {
	if _, ok := t.st.jobs[b.JobID]; !ok {
		return fmt.Errorf("%w: job %d", model.ErrNotFound, b.JobID)
	}
	for _, existing := range t.st.bids {
		if existing.JobID == b.JobID && existing.WorkerID == b.WorkerID {
			return fmt.Errorf("%w: worker %d on job %d", model.ErrDuplicateBid, b.WorkerID, b.JobID)
		}
	}
	b.ID = t.st.nextID()
	b.CreatedAt = t.now()
	t.st.bids[b.ID] = *b
	return nil
}

func (t *memTx) LockBid(_ context.Context, id int64) (*model.Bid, error) {
	b, ok := t.st.bids[id]
	if !ok {
		return nil, fmt.Errorf("%w: bid %d", model.ErrNotFound, id)
	}
	return &b, nil
}

func (t *memTx) SetBidStatus(_ context.Context, id int64, status model.BidStatus) error {
	b, ok := t.st.bids[id]
	if !ok {
		return fmt.Errorf("%w: bid %d", model.ErrNotFound, id)
	}
	if status == model.BidStatusAccepted {
		for _, other := range t.st.bids {
			if other.JobID == b.JobID && other.ID != id && other.Status == model.BidStatusAccepted {
				return fmt.Errorf("%w: job %d already has an accepted bid", model.ErrInvalidStateTransition, b.JobID)
			}
		}
	}
	b.Status = status
	t.st.bids[id] = b
	return nil
}

func (t *memTx) RejectPendingBids(_ context.Context, jobID, exceptBidID int64) (int64, error) {
	var n int64
	for id, b := range t.st.bids {
		if b.JobID == jobID && id != exceptBidID && b.Status == model.BidStatusPending {
			b.Status = model.BidStatusRejected
			t.st.bids[id] = b
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateProject(_ context.Context, p *model.Project) error {
	for _, existing := range t.st.projects {
		if existing.BidID == p.BidID {
			return fmt.Errorf("%w: bid %d already has a project", model.ErrInvalidStateTransition, p.BidID)
		}
	}
	if !p.PlatformFee.Add(p.NetAmount).Equal(p.AgreedAmount) {
		return fmt.Errorf("project amounts do not add up: %s + %s != %s", p.PlatformFee, p.NetAmount, p.AgreedAmount)
	}
	p.ID = t.st.nextID()
	p.CreatedAt = t.now()
	t.st.projects[p.ID] = *p
	return nil
}

func (t *memTx) LockProject(_ context.Context, id int64) (*model.Project, error) {
	p, ok := t.st.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: project %d", model.ErrNotFound, id)
	}
	return &p, nil
}

func (t *memTx) UpdateProject(_ context.Context, p *model.Project) error {
	if _, ok := t.st.projects[p.ID]; !ok {
		return fmt.Errorf("%w: project %d", model.ErrNotFound, p.ID)
	}
	t.st.projects[p.ID] = *p
	return nil
}

func (t *memTx) CreateContract(_ context.Context, c *model.Contract) error {
	for _, existing := range t.st.contracts {
		if existing.ProjectID == c.ProjectID {
			return fmt.Errorf("%w: project %d already has a contract", model.ErrInvalidStateTransition, c.ProjectID)
		}
	}
	c.ID = t.st.nextID()
	c.CreatedAt = t.now()
	t.st.contracts[c.ID] = *c
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *model.Transaction) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	if !tr.PlatformFee.Add(tr.NetAmount).Equal(tr.Amount) {
		return fmt.Errorf("transaction amounts do not add up: %s + %s != %s", tr.PlatformFee, tr.NetAmount, tr.Amount)
	}
	for _, existing := range t.st.transactions {
		if existing.ProjectID != tr.ProjectID {
			continue
		}
		if tr.Type == model.TransactionTypeEscrow && existing.Type == model.TransactionTypeEscrow {
			return fmt.Errorf("%w: project %d already has an escrow", model.ErrInvalidStateTransition, tr.ProjectID)
		}
		if tr.Type.IsPayout() && existing.Type.IsPayout() && existing.Status != model.TransactionStatusFailed {
			return fmt.Errorf("%w: project %d", model.ErrPayoutInProgress, tr.ProjectID)
		}
	}
	tr.CreatedAt = t.now()
	t.st.transactions[tr.ID] = *tr
	t.st.txOrder = append(t.st.txOrder, tr.ID)
	return nil
}

func (t *memTx) LockTransaction(_ context.Context, id uuid.UUID) (*model.Transaction, error) {
	tr, ok := t.st.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", model.ErrNotFound, id)
	}
	return &tr, nil
}

func (t *memTx) ActivePayout(_ context.Context, projectID int64) (*model.Transaction, error) {
	for _, tr := range t.st.transactions {
		if tr.ProjectID == projectID && tr.Type.IsPayout() && tr.Status != model.TransactionStatusFailed {
			return &tr, nil
		}
	}
	return nil, fmt.Errorf("%w: active payout for project %d", model.ErrNotFound, projectID)
}

func (t *memTx) FinalizeTransaction(_ context.Context, tr *model.Transaction) (bool, error) {
	existing, ok := t.st.transactions[tr.ID]
	if !ok {
		return false, fmt.Errorf("%w: transaction %s", model.ErrNotFound, tr.ID)
	}
	if existing.Status != model.TransactionStatusPending {
		return false, nil
	}
	existing.Status = tr.Status
	existing.GatewayRef = tr.GatewayRef
	existing.FailureReason = tr.FailureReason
	existing.ProcessedAt = tr.ProcessedAt
	t.st.transactions[tr.ID] = existing
	return true, nil
}

func (t *memTx) SetTransactionGatewayRef(_ context.Context, id uuid.UUID, ref string) error {
	tr, ok := t.st.transactions[id]
	if !ok {
		return fmt.Errorf("%w: transaction %s", model.ErrNotFound, id)
	}
	tr.GatewayRef = ref
	t.st.transactions[id] = tr
	return nil
}

func (t *memTx) CreateDeposit(ctx context.Context, d *model.Deposit) error {
	if d.PaymentIntentID != "" {
		for _, existing := range t.st.deposits {
			if existing.PaymentIntentID == d.PaymentIntentID {
				return fmt.Errorf("%w: deposit for payment intent %s exists", model.ErrInvalidStateTransition, d.PaymentIntentID)
			}
		}
	}
	if d.ProjectID != 0 {
		if _, err := t.LockProjectDeposit(ctx, d.ProjectID); err == nil {
			return fmt.Errorf("%w: project %d already has an active payment intent", model.ErrInvalidStateTransition, d.ProjectID)
		}
	}
	d.ID = t.st.nextID()
	d.CreatedAt = t.now()
	t.st.deposits[d.ID] = *d
	return nil
}

func (t *memTx) LockDeposit(_ context.Context, id int64) (*model.Deposit, error) {
	d, ok := t.st.deposits[id]
	if !ok {
		return nil, fmt.Errorf("%w: deposit %d", model.ErrNotFound, id)
	}
	return &d, nil
}

func (t *memTx) LockDepositByIntent(_ context.Context, intentID string) (*model.Deposit, error) {
	for _, d := range t.st.deposits {
		if intentID != "" && d.PaymentIntentID == intentID {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%w: deposit with payment intent %s", model.ErrNotFound, intentID)
}

func (t *memTx) LockProjectDeposit(_ context.Context, projectID int64) (*model.Deposit, error) {
	for _, d := range t.st.deposits {
		if d.ProjectID == projectID && d.Status != model.DepositStatusFailed {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%w: active deposit for project %d", model.ErrNotFound, projectID)
}

func (t *memTx) UpdateDeposit(_ context.Context, d *model.Deposit) error {
	if _, ok := t.st.deposits[d.ID]; !ok {
		return fmt.Errorf("%w: deposit %d", model.ErrNotFound, d.ID)
	}
	t.st.deposits[d.ID] = *d
	return nil
}

func (t *memTx) MarkEventProcessed(_ context.Context, eventID, eventType string) (bool, error) {
	if _, ok := t.st.events[eventID]; ok {
		return false, nil
	}
	t.st.events[eventID] = eventType
	return true, nil
}
