package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	defaultTxRetries = 3
	retryBaseDelay   = 50 * time.Millisecond
	retryMaxDelay    = time.Second
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool       *pgxpool.Pool
	maxRetries uint64
}

var _ Store = (*PostgresRepository)(nil)

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, maxRetries: defaultTxRetries}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликте сериализации, дедлоке и обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(retryBaseDelay)
	b = retry.WithCappedDuration(retryMaxDelay, b)
	b = retry.WithMaxRetries(r.maxRetries, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %v", model.ErrNotFound, what, id)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithinTx выполняет fn в транзакции БД. При конфликте транзакция
// повторяется целиком, поэтому fn не должна иметь внешних побочных эффектов.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	userColumns        = `id, name, role, escrow_balance, total_earnings, created_at`
	jobColumns         = `id, employer_id, title, description, budget_min, budget_max, status, created_at`
	bidColumns         = `id, job_id, worker_id, amount, proposal, status, created_at`
	projectColumns     = `id, bid_id, job_id, employer_id, worker_id, agreed_amount, platform_fee, net_amount, payment_released, payment_intent_id, status, started_at, completed_at, completion_notes, created_at`
	contractColumns    = `id, project_id, job_id, employer_id, worker_id, created_at`
	transactionColumns = `id, project_id, payer_id, payee_id, amount, platform_fee, net_amount, type, status, gateway_ref, failure_reason, processed_at, created_at`
	depositColumns     = `id, user_id, COALESCE(project_id, 0), amount, status, payment_intent_id, created_at, completed_at`
)

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u                model.User
		role             string
		escrow, earnings int64
	)
	if err := row.Scan(&u.ID, &u.Name, &role, &escrow, &earnings, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.EscrowBalance = fromCents(escrow)
	u.TotalEarnings = fromCents(earnings)
	return &u, nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j                    model.Job
		status               string
		budgetMin, budgetMax int64
	)
	if err := row.Scan(&j.ID, &j.EmployerID, &j.Title, &j.Description, &budgetMin, &budgetMax, &status, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.BudgetMin = fromCents(budgetMin)
	j.BudgetMax = fromCents(budgetMax)
	j.Status = model.JobStatus(status)
	return &j, nil
}

func scanBid(row pgx.Row) (*model.Bid, error) {
	var (
		b      model.Bid
		amount int64
		status string
	)
	if err := row.Scan(&b.ID, &b.JobID, &b.WorkerID, &amount, &b.Proposal, &status, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Amount = fromCents(amount)
	b.Status = model.BidStatus(status)
	return &b, nil
}

func scanProject(row pgx.Row) (*model.Project, error) {
	var (
		p                model.Project
		agreed, fee, net int64
		status           string
	)
	err := row.Scan(&p.ID, &p.BidID, &p.JobID, &p.EmployerID, &p.WorkerID,
		&agreed, &fee, &net, &p.PaymentReleased, &p.PaymentIntentID, &status,
		&p.StartedAt, &p.CompletedAt, &p.CompletionNotes, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.AgreedAmount = fromCents(agreed)
	p.PlatformFee = fromCents(fee)
	p.NetAmount = fromCents(net)
	p.Status = model.ProjectStatus(status)
	return &p, nil
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var (
		t                model.Transaction
		amount, fee, net int64
		typ, status      string
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.PayerID, &t.PayeeID, &amount, &fee, &net,
		&typ, &status, &t.GatewayRef, &t.FailureReason, &t.ProcessedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Amount = fromCents(amount)
	t.PlatformFee = fromCents(fee)
	t.NetAmount = fromCents(net)
	t.Type = model.TransactionType(typ)
	t.Status = model.TransactionStatus(status)
	return &t, nil
}

func scanDeposit(row pgx.Row) (*model.Deposit, error) {
	var (
		d      model.Deposit
		amount int64
		status string
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.ProjectID, &amount, &status, &d.PaymentIntentID, &d.CreatedAt, &d.CompletedAt); err != nil {
		return nil, err
	}
	d.Amount = fromCents(amount)
	d.Status = model.DepositStatus(status)
	return &d, nil
}

func collectTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateUser создаёт нового пользователя и заполняет ID и CreatedAt.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) error {
	c, err := centsOf(u.EscrowBalance, u.TotalEarnings)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO users (name, role, escrow_balance, total_earnings) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		u.Name, string(u.Role), c[0], c[1],
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser возвращает пользователя по ID.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

// CreateJob сохраняет заказ.
func (r *PostgresRepository) CreateJob(ctx context.Context, j *model.Job) error {
	c, err := centsOf(j.BudgetMin, j.BudgetMax)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO jobs (employer_id, title, description, budget_min, budget_max, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		j.EmployerID, j.Title, j.Description, c[0], c[1], string(j.Status),
	).Scan(&j.ID, &j.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob возвращает заказ по ID.
func (r *PostgresRepository) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "job", id)
	}
	return j, nil
}

// GetBid возвращает ставку по ID.
func (r *PostgresRepository) GetBid(ctx context.Context, id int64) (*model.Bid, error) {
	b, err := scanBid(r.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "bid", id)
	}
	return b, nil
}

// ListBidsByJob возвращает ставки по заказу в порядке подачи.
func (r *PostgresRepository) ListBidsByJob(ctx context.Context, jobID int64) ([]model.Bid, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+bidColumns+` FROM bids WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select bids: %w", err)
	}
	defer rows.Close()

	var res []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		res = append(res, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetProject возвращает проект по ID.
func (r *PostgresRepository) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "project", id)
	}
	return p, nil
}

// GetContractByProject возвращает контракт проекта.
func (r *PostgresRepository) GetContractByProject(ctx context.Context, projectID int64) (*model.Contract, error) {
	var c model.Contract
	err := r.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE project_id = $1`, projectID).
		Scan(&c.ID, &c.ProjectID, &c.JobID, &c.EmployerID, &c.WorkerID, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, "contract for project", projectID)
	}
	return &c, nil
}

// GetTransaction возвращает транзакцию по ID.
func (r *PostgresRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return t, nil
}

// FindTransactionByGatewayRef ищет транзакцию по идентификатору во внешнем шлюзе.
func (r *PostgresRepository) FindTransactionByGatewayRef(ctx context.Context, ref string) (*model.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE gateway_ref = $1 ORDER BY created_at DESC LIMIT 1`, ref))
	if err != nil {
		return nil, notFound(err, "transaction with gateway ref", ref)
	}
	return t, nil
}

// ListTransactionsByProject возвращает леджер проекта в хронологическом порядке.
func (r *PostgresRepository) ListTransactionsByProject(ctx context.Context, projectID int64) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE project_id = $1 ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ListPendingPayouts возвращает зависшие выплаты и возвраты, созданные раньше createdBefore.
func (r *PostgresRepository) ListPendingPayouts(ctx context.Context, createdBefore time.Time, limit int) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE status = $1 AND type IN ($2, $3) AND created_at < $4
		 ORDER BY created_at
		 LIMIT $5`,
		string(model.TransactionStatusPending),
		string(model.TransactionTypePayment),
		string(model.TransactionTypeRefund),
		createdBefore,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending payouts: %w", err)
	}
	return collectTransactions(rows)
}

type pgTx struct {
	tx pgx.Tx
}

var _ Tx = (*pgTx)(nil)

func (t *pgTx) LockUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (t *pgTx) SetEscrowBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	c, err := toCents(balance)
	if err != nil {
		return err
	}
	return execOne(ctx, t.tx, "set escrow balance",
		`UPDATE users SET escrow_balance = $2 WHERE id = $1`, id, c)
}

func (t *pgTx) AddEarnings(ctx context.Context, id int64, amount decimal.Decimal) error {
	c, err := toCents(amount)
	if err != nil {
		return err
	}
	return execOne(ctx, t.tx, "add earnings",
		`UPDATE users SET total_earnings = total_earnings + $2 WHERE id = $1`, id, c)
}

func (t *pgTx) LockJob(ctx context.Context, id int64) (*model.Job, error) {
	j, err := scanJob(t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "job", id)
	}
	return j, nil
}

func (t *pgTx) SetJobStatus(ctx context.Context, id int64, status model.JobStatus) error {
	return execOne(ctx, t.tx, "set job status",
		`UPDATE jobs SET status = $2 WHERE id = $1`, id, string(status))
}

func (t *pgTx) CreateBid(ctx context.Context, b *model.Bid) error {
	amount, err := toCents(b.Amount)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO bids (job_id, worker_id, amount, proposal, status) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		b.JobID, b.WorkerID, amount, b.Proposal, string(b.Status),
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "bids_job_id_worker_id_key") {
			return fmt.Errorf("%w: worker %d on job %d", model.ErrDuplicateBid, b.WorkerID, b.JobID)
		}
		return fmt.Errorf("create bid: %w", err)
	}
	return nil
}

func (t *pgTx) LockBid(ctx context.Context, id int64) (*model.Bid, error) {
	b, err := scanBid(t.tx.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "bid", id)
	}
	return b, nil
}

func (t *pgTx) SetBidStatus(ctx context.Context, id int64, status model.BidStatus) error {
	return execOne(ctx, t.tx, "set bid status",
		`UPDATE bids SET status = $2 WHERE id = $1`, id, string(status))
}

func (t *pgTx) RejectPendingBids(ctx context.Context, jobID, exceptBidID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE bids SET status = $3 WHERE job_id = $1 AND id <> $2 AND status = $4`,
		jobID, exceptBidID, string(model.BidStatusRejected), string(model.BidStatusPending))
	if err != nil {
		return 0, fmt.Errorf("reject pending bids: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) CreateProject(ctx context.Context, p *model.Project) error {
	c, err := centsOf(p.AgreedAmount, p.PlatformFee, p.NetAmount)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO projects (bid_id, job_id, employer_id, worker_id, agreed_amount, platform_fee, net_amount,
		                       payment_released, payment_intent_id, status, started_at, completed_at, completion_notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at`,
		p.BidID, p.JobID, p.EmployerID, p.WorkerID, c[0], c[1], c[2],
		p.PaymentReleased, p.PaymentIntentID, string(p.Status), p.StartedAt, p.CompletedAt, p.CompletionNotes,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "projects_bid_id_key") {
			return fmt.Errorf("%w: bid %d already has a project", model.ErrInvalidStateTransition, p.BidID)
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (t *pgTx) LockProject(ctx context.Context, id int64) (*model.Project, error) {
	p, err := scanProject(t.tx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "project", id)
	}
	return p, nil
}

func (t *pgTx) UpdateProject(ctx context.Context, p *model.Project) error {
	return execOne(ctx, t.tx, "update project",
		`UPDATE projects
		 SET payment_released = $2, payment_intent_id = $3, status = $4,
		     started_at = $5, completed_at = $6, completion_notes = $7
		 WHERE id = $1`,
		p.ID, p.PaymentReleased, p.PaymentIntentID, string(p.Status), p.StartedAt, p.CompletedAt, p.CompletionNotes)
}

func (t *pgTx) CreateContract(ctx context.Context, c *model.Contract) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO contracts (project_id, job_id, employer_id, worker_id) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		c.ProjectID, c.JobID, c.EmployerID, c.WorkerID,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create contract: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	c, err := centsOf(tr.Amount, tr.PlatformFee, tr.NetAmount)
	if err != nil {
		return err
	}
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO transactions (id, project_id, payer_id, payee_id, amount, platform_fee, net_amount,
		                           type, status, gateway_ref, failure_reason, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at`,
		tr.ID, tr.ProjectID, tr.PayerID, tr.PayeeID, c[0], c[1], c[2],
		string(tr.Type), string(tr.Status), tr.GatewayRef, tr.FailureReason, tr.ProcessedAt,
	).Scan(&tr.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "transactions_one_active_payout") {
			return fmt.Errorf("%w: project %d", model.ErrPayoutInProgress, tr.ProjectID)
		}
		if isUniqueViolation(err, "transactions_one_escrow_per_project") {
			return fmt.Errorf("%w: project %d already has an escrow", model.ErrInvalidStateTransition, tr.ProjectID)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (t *pgTx) LockTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	tr, err := scanTransaction(t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return tr, nil
}

func (t *pgTx) ActivePayout(ctx context.Context, projectID int64) (*model.Transaction, error) {
	tr, err := scanTransaction(t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE project_id = $1 AND type IN ($2, $3) AND status <> $4
		 FOR UPDATE`,
		projectID, string(model.TransactionTypePayment), string(model.TransactionTypeRefund),
		string(model.TransactionStatusFailed)))
	if err != nil {
		return nil, notFound(err, "active payout for project", projectID)
	}
	return tr, nil
}

func (t *pgTx) FinalizeTransaction(ctx context.Context, tr *model.Transaction) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE transactions
		 SET status = $2, gateway_ref = $3, failure_reason = $4, processed_at = $5
		 WHERE id = $1 AND status = $6`,
		tr.ID, string(tr.Status), tr.GatewayRef, tr.FailureReason, tr.ProcessedAt,
		string(model.TransactionStatusPending))
	if err != nil {
		return false, fmt.Errorf("finalize transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) SetTransactionGatewayRef(ctx context.Context, id uuid.UUID, ref string) error {
	return execOne(ctx, t.tx, "set gateway ref",
		`UPDATE transactions SET gateway_ref = $2 WHERE id = $1`, id, ref)
}

func (t *pgTx) CreateDeposit(ctx context.Context, d *model.Deposit) error {
	amount, err := toCents(d.Amount)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO deposits (user_id, project_id, amount, status, payment_intent_id)
		 VALUES ($1, NULLIF($2::bigint, 0), $3, $4, $5) RETURNING id, created_at`,
		d.UserID, d.ProjectID, amount, string(d.Status), d.PaymentIntentID,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "deposits_one_active_per_project") {
			return fmt.Errorf("%w: project %d already has an active payment intent", model.ErrInvalidStateTransition, d.ProjectID)
		}
		return fmt.Errorf("create deposit: %w", err)
	}
	return nil
}

func (t *pgTx) LockDeposit(ctx context.Context, id int64) (*model.Deposit, error) {
	d, err := scanDeposit(t.tx.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "deposit", id)
	}
	return d, nil
}

func (t *pgTx) LockDepositByIntent(ctx context.Context, intentID string) (*model.Deposit, error) {
	d, err := scanDeposit(t.tx.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE payment_intent_id = $1 AND payment_intent_id <> '' FOR UPDATE`, intentID))
	if err != nil {
		return nil, notFound(err, "deposit with payment intent", intentID)
	}
	return d, nil
}

func (t *pgTx) LockProjectDeposit(ctx context.Context, projectID int64) (*model.Deposit, error) {
	d, err := scanDeposit(t.tx.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE project_id = $1 AND status <> $2 FOR UPDATE`,
		projectID, string(model.DepositStatusFailed)))
	if err != nil {
		return nil, notFound(err, "active deposit for project", projectID)
	}
	return d, nil
}

func (t *pgTx) UpdateDeposit(ctx context.Context, d *model.Deposit) error {
	return execOne(ctx, t.tx, "update deposit",
		`UPDATE deposits SET status = $2, payment_intent_id = $3, completed_at = $4 WHERE id = $1`,
		d.ID, string(d.Status), d.PaymentIntentID, d.CompletedAt)
}

func (t *pgTx) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func execOne(ctx context.Context, q execer, op, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, op)
	}
	return nil
}
