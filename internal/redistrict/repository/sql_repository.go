package repository

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/avast/retry-go"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/giants/redistrict/internal/common/database"
	"github.com/giants/redistrict/internal/common/redistricterrors"
	"github.com/giants/redistrict/internal/redistrict/domain"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	transactionAttempts = 3
	transactionDelay    = 20 * time.Millisecond
)

var activeStatuses = []interface{}{string(domain.JobWaiting), string(domain.JobRunning)}

// SQLJobRepository stores jobs in sqlite or Postgres.
type SQLJobRepository struct {
	sqlDb *sql.DB
	db    *goqu.Database
	clock clock.Clock
}

// NewSQLJobRepository wraps db, which must have been opened for dialect (database.DialectSqlite or
// database.DialectPostgres).
func NewSQLJobRepository(db *sql.DB, dialect string, clock clock.Clock) *SQLJobRepository {
	return &SQLJobRepository{sqlDb: db, db: goqu.New(dialect, db), clock: clock}
}

// Migrate brings the schema up to date.
func (r *SQLJobRepository) Migrate(ctx context.Context) error {
	migrations, err := database.ReadMigrations(migrationFS, "migrations")
	if err != nil {
		return err
	}
	return database.UpdateDatabase(ctx, r.sqlDb, migrations)
}

// withTx runs fn in a transaction that is committed if fn succeeds and rolled back otherwise. Transactions
// aborted by Postgres serialization failures or deadlocks are retried.
func (r *SQLJobRepository) withTx(ctx context.Context, operation string, fn func(tx *goqu.TxDatabase) error) error {
	var lastErr error
	err := retry.Do(
		func() error {
			tx, err := r.db.BeginTx(ctx, nil)
			if err != nil {
				lastErr = errors.WithStack(err)
				return lastErr
			}
			lastErr = tx.Wrap(func() error { return fn(tx) })
			return lastErr
		},
		retry.Attempts(transactionAttempts),
		retry.Delay(transactionDelay),
		retry.RetryIf(database.IsTransient),
	)
	if err != nil {
		return redistricterrors.NewPersistence(operation, lastErr)
	}
	return nil
}

func (r *SQLJobRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	return r.withTx(ctx, "create job", func(tx *goqu.TxDatabase) error {
		_, err := tx.Insert(jobsTable).Rows(jobRecord(job)).Prepared(true).Executor().ExecContext(ctx)
		if database.IsUniqueViolation(err) {
			return errors.Errorf("job %s already exists", job.Id)
		}
		return errors.WithStack(err)
	})
}

func (r *SQLJobRepository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	found, err := r.db.From(jobsTable).Where(goqu.C("id").Eq(id)).Prepared(true).ScanStructContext(ctx, &row)
	if err != nil {
		return nil, redistricterrors.NewPersistence("get job", errors.WithStack(err))
	}
	if !found {
		return nil, &redistricterrors.ErrNotFound{Type: "job", Value: id}
	}
	return row.toJob(), nil
}

func (r *SQLJobRepository) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	return r.listJobs(ctx, "list jobs", r.db.From(jobsTable))
}

func (r *SQLJobRepository) ListActiveJobs(ctx context.Context) ([]*domain.Job, error) {
	return r.listJobs(ctx, "list active jobs", r.db.From(jobsTable).Where(goqu.C("status").In(activeStatuses...)))
}

func (r *SQLJobRepository) listJobs(ctx context.Context, operation string, ds *goqu.SelectDataset) ([]*domain.Job, error) {
	var rows []jobRow
	err := ds.Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).Prepared(true).ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, redistricterrors.NewPersistence(operation, errors.WithStack(err))
	}
	jobs := make([]*domain.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toJob()
	}
	return jobs, nil
}

func (r *SQLJobRepository) TransitionStatus(ctx context.Context, id string, from domain.JobStatus, to domain.JobStatus, reason string) error {
	if !domain.CanTransition(from, to) {
		return errors.Errorf("job %s cannot move from %s to %s", id, from, to)
	}
	set := goqu.Record{
		"status":     string(to),
		"updated_at": r.clock.Now().UnixNano(),
	}
	if to == domain.JobFailed {
		set["failure_reason"] = reason
	}
	return r.withTx(ctx, "transition job status", func(tx *goqu.TxDatabase) error {
		return compareAndSet(ctx, tx, id, from, set)
	})
}

func (r *SQLJobRepository) RequestCancel(ctx context.Context, id string, at time.Time) (*domain.Job, error) {
	var job *domain.Job
	err := r.withTx(ctx, "request cancel", func(tx *goqu.TxDatabase) error {
		_, err := tx.Update(jobsTable).
			Set(goqu.Record{"cancel_requested_at": at.UnixNano(), "updated_at": r.clock.Now().UnixNano()}).
			Where(
				goqu.C("id").Eq(id),
				goqu.C("status").In(activeStatuses...),
				goqu.C("cancel_requested_at").Eq(0),
			).
			Prepared(true).Executor().ExecContext(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		var row jobRow
		found, err := tx.From(jobsTable).Where(goqu.C("id").Eq(id)).Prepared(true).ScanStructContext(ctx, &row)
		if err != nil {
			return errors.WithStack(err)
		}
		if !found {
			return &redistricterrors.ErrNotFound{Type: "job", Value: id}
		}
		job = row.toJob()
		if job.Status.IsTerminal() {
			return &redistricterrors.ErrStaleStatus{JobId: id, Expected: "WAITING or RUNNING"}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *SQLJobRepository) CompleteJob(ctx context.Context, id string, from domain.JobStatus, results *domain.JobResults) error {
	if !domain.CanTransition(from, domain.JobCompleted) {
		return errors.Errorf("job %s cannot move from %s to %s", id, from, domain.JobCompleted)
	}
	return r.withTx(ctx, "complete job", func(tx *goqu.TxDatabase) error {
		err := compareAndSet(ctx, tx, id, from, goqu.Record{
			"status":           string(domain.JobCompleted),
			"average_state_id": results.Average.Id,
			"extreme_state_id": results.Extreme.Id,
			"result_document":  results.ResultDocument,
			"updated_at":       r.clock.Now().UnixNano(),
		}, goqu.C("cancel_requested_at").Eq(0))
		if err != nil {
			return err
		}
		for _, state := range resultStates(results) {
			if err := insertState(ctx, tx, id, state); err != nil {
				return err
			}
		}
		if len(results.CountyCounts) > 0 {
			rows := make([]interface{}, len(results.CountyCounts))
			for i, c := range results.CountyCounts {
				rows[i] = goqu.Record{"job_id": id, "county": c.County, "occurrences": c.Occurrences}
			}
			if _, err := tx.Insert(countyCountsTable).Rows(rows...).Prepared(true).Executor().ExecContext(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
		if len(results.BoxWhiskers) > 0 {
			rows := make([]interface{}, len(results.BoxWhiskers))
			for i, b := range results.BoxWhiskers {
				rows[i] = goqu.Record{
					"job_id":         id,
					"ethnicity":      string(b.Ethnicity),
					"district_rank":  b.DistrictRank,
					"minimum":        b.Minimum,
					"lower_quartile": b.LowerQuartile,
					"median":         b.Median,
					"upper_quartile": b.UpperQuartile,
					"maximum":        b.Maximum,
				}
			}
			if _, err := tx.Insert(boxWhiskersTable).Rows(rows...).Prepared(true).Executor().ExecContext(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

func insertState(ctx context.Context, tx *goqu.TxDatabase, jobId string, state *domain.State) error {
	_, err := tx.Insert(statesTable).Rows(goqu.Record{
		"id":                        state.Id,
		"job_id":                    jobId,
		"max_population_difference": state.MaxPopulationDifference,
		"overall_compactness":       state.OverallCompactness,
	}).Prepared(true).Executor().ExecContext(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if len(state.Districts) == 0 {
		return nil
	}
	rows := make([]interface{}, len(state.Districts))
	for i, d := range state.Districts {
		record, err := districtRecord(d, state.Id)
		if err != nil {
			return err
		}
		rows[i] = record
	}
	_, err = tx.Insert(districtsTable).Rows(rows...).Prepared(true).Executor().ExecContext(ctx)
	return errors.WithStack(err)
}

// compareAndSet applies set to the job only if its stored status is still expected and every condition holds.
// A job that fails a condition is reported as stale.
func compareAndSet(
	ctx context.Context,
	tx *goqu.TxDatabase,
	id string,
	expected domain.JobStatus,
	set goqu.Record,
	conditions ...exp.Expression,
) error {
	where := append([]exp.Expression{goqu.C("id").Eq(id), goqu.C("status").Eq(string(expected))}, conditions...)
	result, err := tx.Update(jobsTable).
		Set(set).
		Where(where...).
		Prepared(true).Executor().ExecContext(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	found, err := tx.From(jobsTable).Select("status").Where(goqu.C("id").Eq(id)).Prepared(true).ScanValContext(ctx, &status)
	if err != nil {
		return errors.WithStack(err)
	}
	if !found {
		return &redistricterrors.ErrNotFound{Type: "job", Value: id}
	}
	return &redistricterrors.ErrStaleStatus{JobId: id, Expected: string(expected)}
}

func (r *SQLJobRepository) DeleteJob(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := r.withTx(ctx, "delete job", func(tx *goqu.TxDatabase) error {
		var stateIds []string
		err := tx.From(statesTable).Select("id").Where(goqu.C("job_id").Eq(id)).Prepared(true).ScanValsContext(ctx, &stateIds)
		if err != nil {
			return errors.WithStack(err)
		}
		deletes := []*goqu.DeleteDataset{
			tx.Delete(statesTable).Where(goqu.C("job_id").Eq(id)),
			tx.Delete(countyCountsTable).Where(goqu.C("job_id").Eq(id)),
			tx.Delete(boxWhiskersTable).Where(goqu.C("job_id").Eq(id)),
		}
		if len(stateIds) > 0 {
			deletes = append(deletes, tx.Delete(districtsTable).Where(goqu.C("state_id").In(stateIds)))
		}
		for _, ds := range deletes {
			if _, err := ds.Prepared(true).Executor().ExecContext(ctx); err != nil {
				return errors.WithStack(err)
			}
		}

		result, err := tx.Delete(jobsTable).Where(goqu.C("id").Eq(id)).Prepared(true).Executor().ExecContext(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		deleted = affected > 0
		return nil
	})
	return deleted, err
}

func (r *SQLJobRepository) GetState(ctx context.Context, stateId string) (*domain.State, error) {
	var row stateRow
	found, err := r.db.From(statesTable).Where(goqu.C("id").Eq(stateId)).Prepared(true).ScanStructContext(ctx, &row)
	if err != nil {
		return nil, redistricterrors.NewPersistence("get state", errors.WithStack(err))
	}
	if !found {
		return nil, &redistricterrors.ErrNotFound{Type: "state", Value: stateId}
	}
	districts, err := r.GetDistricts(ctx, stateId)
	if err != nil {
		return nil, err
	}
	return &domain.State{
		Id:                      row.Id,
		JobId:                   row.JobId,
		MaxPopulationDifference: row.MaxPopulationDifference,
		OverallCompactness:      row.OverallCompactness,
		Districts:               districts,
	}, nil
}

func (r *SQLJobRepository) GetDistricts(ctx context.Context, stateId string) ([]*domain.District, error) {
	var rows []districtRow
	err := r.db.From(districtsTable).
		Where(goqu.C("state_id").Eq(stateId)).
		Order(goqu.C("number").Asc()).
		Prepared(true).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, redistricterrors.NewPersistence("get districts", errors.WithStack(err))
	}
	districts := make([]*domain.District, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toDistrict()
		if err != nil {
			return nil, redistricterrors.NewPersistence("get districts", err)
		}
		districts = append(districts, d)
	}
	return districts, nil
}

func (r *SQLJobRepository) GetCountyCounts(ctx context.Context, jobId string) ([]domain.CountyCount, error) {
	var rows []countyCountRow
	err := r.db.From(countyCountsTable).
		Where(goqu.C("job_id").Eq(jobId)).
		Order(goqu.C("county").Asc()).
		Prepared(true).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, redistricterrors.NewPersistence("get county counts", errors.WithStack(err))
	}
	counts := make([]domain.CountyCount, len(rows))
	for i, row := range rows {
		counts[i] = domain.CountyCount{County: row.County, Occurrences: row.Occurrences}
	}
	return counts, nil
}

func (r *SQLJobRepository) GetBoxWhiskers(ctx context.Context, jobId string) ([]domain.BoxWhisker, error) {
	var rows []boxWhiskerRow
	err := r.db.From(boxWhiskersTable).
		Where(goqu.C("job_id").Eq(jobId)).
		Order(goqu.C("ethnicity").Asc(), goqu.C("district_rank").Asc()).
		Prepared(true).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, redistricterrors.NewPersistence("get box whiskers", errors.WithStack(err))
	}
	boxWhiskers := make([]domain.BoxWhisker, len(rows))
	for i, row := range rows {
		boxWhiskers[i] = domain.BoxWhisker{
			Ethnicity:     domain.Ethnicity(row.Ethnicity),
			DistrictRank:  row.DistrictRank,
			Minimum:       row.Minimum,
			LowerQuartile: row.LowerQuartile,
			Median:        row.Median,
			UpperQuartile: row.UpperQuartile,
			Maximum:       row.Maximum,
		}
	}
	return boxWhiskers, nil
}

func (r *SQLJobRepository) HealthCheck(ctx context.Context) error {
	return errors.Wrap(r.sqlDb.PingContext(ctx), "database ping failed")
}
