package pg

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/drnhhl/terragon/common"
	db "github.com/drnhhl/terragon/interface/database"
	"github.com/lib/pq"
)

//go:embed db.sql
var schema string

// pgInterface allows to use either a sql.DB or a sql.Tx
type pgInterface interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// BackendTx implements WorkflowTxBackend
type BackendTx struct {
	*sql.Tx
	Backend
}

// BackendDB implements WorkflowDBBackend
type BackendDB struct {
	*sql.DB
	Backend
}

// Backend implements WorkflowBackend
type Backend struct {
	pgInterface
}

/* http://www.postgresql.org/docs/9.3/static/errcodes-appendix.html */
const (
	noError         = "00000"
	uniqueViolation = "23505"

	notPqError = "X"
)

func pqErrorCode(err error) pq.ErrorCode {
	if err == nil {
		return noError
	}
	var pqerr *pq.Error
	if errors.As(err, &pqerr) {
		return pqerr.Code
	}
	return notPqError
}

// StartTransaction implements WorkflowDBBackend
func (bdb BackendDB) StartTransaction(ctx context.Context) (db.WorkflowTxBackend, error) {
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return BackendTx{}, err
	}
	return BackendTx{tx, Backend{pgInterface: tx}}, nil
}

// Rollback overloads sql.Tx.Rollback to be idempotent
func (btx BackendTx) Rollback() error {
	err := btx.Tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// New creates a new backend using Postgres
func New(ctx context.Context, dbConnection string) (*BackendDB, error) {
	db, err := sql.Open("postgres", dbConnection)
	if err != nil {
		return nil, fmt.Errorf("sql.open: %w", err)
	}
	return &BackendDB{db, Backend{pgInterface: db}}, nil
}

// CreateSchema creates the tables if they do not exist
func (bdb BackendDB) CreateSchema(ctx context.Context) error {
	if _, err := bdb.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("CreateSchema: %w", err)
	}
	return nil
}

// CreateJob implements WorkflowBackend
func (b Backend) CreateJob(ctx context.Context, job common.MinicubeJob, status common.Status, retryCount int) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("CreateJob.Marshal: %w", err)
	}
	_, err = b.ExecContext(ctx, "insert into job(id,status,payload,retry_countdown) values($1,$2,$3,$4)",
		job.ID, status, payload, retryCount)
	switch pqErrorCode(err) {
	case noError:
		return nil
	case uniqueViolation:
		return db.ErrAlreadyExists{Type: "job", ID: job.ID}
	}
	return fmt.Errorf("CreateJob: %w", err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const jobColumns = "id,status,message,manifest,retry_countdown,payload,created,updated"

func scanJob(row rowScanner) (db.Job, error) {
	job := db.Job{}
	var payload []byte
	if err := row.Scan(&job.ID, &job.Status, &job.Message, &job.Manifest, &job.RetryCountDown, &payload, &job.Created, &job.Updated); err != nil {
		return job, err
	}
	if err := json.Unmarshal(payload, &job.Payload); err != nil {
		return job, fmt.Errorf("payload of job %s: %w", job.ID, err)
	}
	return job, nil
}

// Job implements WorkflowBackend
func (b Backend) Job(ctx context.Context, id string) (db.Job, error) {
	job, err := scanJob(b.QueryRowContext(ctx, "select "+jobColumns+" from job where id=$1", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return job, db.ErrNotFound{Type: "job", ID: id}
		}
		return job, fmt.Errorf("Job.QueryRowContext: %w", err)
	}
	return job, nil
}

// Jobs implements WorkflowBackend
func (b Backend) Jobs(ctx context.Context, pattern, status string, page, limit int) ([]db.Job, error) {
	where := clauses{}
	if pattern != "" {
		like, operator := parseLike(pattern)
		where.add("id "+operator+" ?", like)
	}
	if status != "" {
		s, err := common.StatusString(status)
		if err != nil {
			return nil, fmt.Errorf("Jobs: %w", err)
		}
		where.add("status=?", s)
	}

	rows, err := b.QueryContext(ctx, "select "+jobColumns+" from job"+where.join(" WHERE ", " AND ")+" ORDER BY created, id"+limitOffsetClause(page, limit), where.params...)
	if err != nil {
		return nil, fmt.Errorf("Jobs.QueryContext: %w", err)
	}
	defer rows.Close()
	jobs := make([]db.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("Jobs.Scan: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Jobs.rows.err: %w", err)
	}
	return jobs, nil
}

// JobsStatus implements WorkflowBackend
func (b Backend) JobsStatus(ctx context.Context) (db.Status, error) {
	s := db.Status{}
	rows, err := b.QueryContext(ctx, "select status, count(status) from job group by status")
	if err != nil {
		return s, fmt.Errorf("JobsStatus.QueryContext: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status common.Status
		var nb int64
		if err := rows.Scan(&status, &nb); err != nil {
			return s, fmt.Errorf("JobsStatus.Scan: %w", err)
		}
		s.Set(status, nb)
	}
	if err := rows.Err(); err != nil {
		return s, fmt.Errorf("JobsStatus.rows.err: %w", err)
	}
	return s, nil
}

// updateJobQuery returns the query and its parameters
func updateJobQuery(id string, status common.Status, update db.JobUpdate) (string, []interface{}) {
	set := clauses{}
	set.add("status=?", status)
	if update.Message != nil {
		set.add("message=?", *update.Message)
	}
	if update.Manifest != nil {
		set.add("manifest=?", *update.Manifest)
	}
	if status == common.StatusPENDING {
		set.add("retry_countdown=retry_countdown-1")
	}
	set.add("updated=now()")
	query := "update job" + set.join(" SET ", ", ")
	set.exprs = nil
	set.add("id=?", id)
	return query + set.join(" WHERE ", " AND "), set.params
}

// UpdateJob implements WorkflowBackend
func (b Backend) UpdateJob(ctx context.Context, id string, status common.Status, update db.JobUpdate) error {
	query, params := updateJobQuery(id, status, update)
	res, err := b.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("UpdateJob: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return db.ErrNotFound{Type: "job", ID: id}
	}
	return nil
}

// DeleteJob implements WorkflowBackend
func (b Backend) DeleteJob(ctx context.Context, id string) error {
	res, err := b.ExecContext(ctx, "delete from job where id=$1", id)
	if err != nil {
		return fmt.Errorf("DeleteJob: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return db.ErrNotFound{Type: "job", ID: id}
	}
	return nil
}
