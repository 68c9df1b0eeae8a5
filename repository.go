package astra

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ajwheeler/astra/status"
	"github.com/ajwheeler/astra/util"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect the SQL differences between supported databases
type Dialect struct {
	Name string
	// column definition of an auto increment primary key
	AutoIncrementPK string
}

var (
	MySQL  = Dialect{Name: "mysql", AutoIncrementPK: "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"}
	SQLite = Dialect{Name: "sqlite", AutoIncrementPK: "INTEGER PRIMARY KEY AUTOINCREMENT"}
)

// DialectOf returns the dialect of a database/sql driver name
func DialectOf(driver string) (Dialect, bool) {
	switch driver {
	case "mysql":
		return MySQL, true
	case "sqlite", "sqlite3":
		return SQLite, true
	}
	return Dialect{}, false
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// SQLStore Store backed by a MySQL or SQLite database
type SQLStore struct {
	db        *sql.DB
	dialect   Dialect
	txManager TransactionManager
	q         querier
	tx        *sql.Tx
}

// NewSQLStore creates a store over db. A nil txManager uses NewTransactionManager(db).
func NewSQLStore(db *sql.DB, dialect Dialect, txManager TransactionManager) *SQLStore {
	if txManager == nil {
		txManager = NewTransactionManager(db)
	}
	return &SQLStore{db: db, dialect: dialect, txManager: txManager, q: db}
}

// DB the underlying database
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func dbErr(err error) error {
	if isDuplicate(err) {
		return errors.Wrap(ErrDuplicate, err.Error())
	}
	return NewError(ErrCodeDbFail, "%v", err.Error(), err)
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")
	}
	return false
}

func (s *SQLStore) Atomic(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}
	txi, be := s.txManager.BeginTx(ctx)
	if be != nil {
		return be
	}
	tx := txi.(*sql.Tx)
	bound := &SQLStore{db: s.db, dialect: s.dialect, txManager: s.txManager, q: tx, tx: tx}
	defer func() {
		if r := recover(); r != nil {
			s.txManager.Rollback(tx)
			panic(r)
		}
	}()
	if err = fn(bound); err != nil {
		if re := s.txManager.Rollback(tx); re != nil {
			logger.Error(ctx, "rollback failed, err:%v", re)
		}
		return err
	}
	if ce := s.txManager.Commit(tx); ce != nil {
		return ce
	}
	return nil
}

// CreateTables creates the astra tables if they do not exist and seeds the statuses
func (s *SQLStore) CreateTables(ctx context.Context) error {
	pk := s.dialect.AutoIncrementPK
	stmts := []string{
		"create table if not exists status(id " + pk + ", description VARCHAR(64) NOT NULL)",
		"create table if not exists task(id " + pk + ", name VARCHAR(255) NOT NULL, parameters TEXT, version VARCHAR(64), " +
			"status_id BIGINT NOT NULL DEFAULT 1, " +
			"time_total REAL, time_pre_execute REAL, time_execute REAL, time_post_execute REAL, " +
			"time_pre_execute_task REAL, time_execute_task REAL, time_post_execute_task REAL, " +
			"time_pre_execute_bundle REAL, time_execute_bundle REAL, time_post_execute_bundle REAL, " +
			"created DATETIME DEFAULT CURRENT_TIMESTAMP)",
		"create table if not exists bundle(id " + pk + ", status_id BIGINT NOT NULL DEFAULT 1, created DATETIME DEFAULT CURRENT_TIMESTAMP)",
		"create table if not exists task_bundle(id " + pk + ", task_id BIGINT NOT NULL, bundle_id BIGINT NOT NULL)",
		"create table if not exists data_product(id " + pk + ", data_release VARCHAR(255) NOT NULL DEFAULT '', filetype VARCHAR(255) NOT NULL, " +
			"kwargs TEXT, kwargs_hash VARCHAR(255) NOT NULL, created DATETIME DEFAULT CURRENT_TIMESTAMP, " +
			"UNIQUE (data_release, filetype, kwargs_hash))",
		"create table if not exists task_input(id " + pk + ", task_id BIGINT NOT NULL, data_product_id BIGINT NOT NULL)",
		"create table if not exists output(id " + pk + ", created DATETIME DEFAULT CURRENT_TIMESTAMP)",
		"create table if not exists task_output(id " + pk + ", task_id BIGINT NOT NULL, output_id BIGINT NOT NULL)",
	}
	return s.Atomic(ctx, func(tx Store) error {
		q := tx.(*SQLStore).q
		for _, stmt := range stmts {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return dbErr(err)
			}
		}
		count, err := queryInt(ctx, q, "select count(*) from status")
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for _, st := range status.All {
			if _, err := q.ExecContext(ctx, "insert into status(description) values(?)", string(st)); err != nil {
				return dbErr(err)
			}
		}
		return nil
	})
}

// CreateOutputTable creates the table of a pipeline output model if it does not exist
func (s *SQLStore) CreateOutputTable(ctx context.Context, model *OutputModel) error {
	buf := bytes.Buffer{}
	buf.WriteString("create table if not exists ")
	buf.WriteString(model.Table)
	buf.WriteString("(output_id BIGINT NOT NULL PRIMARY KEY, task_id BIGINT NOT NULL")
	for _, c := range model.Columns {
		buf.WriteString(", ")
		buf.WriteString(c.Name)
		buf.WriteString(" ")
		buf.WriteString(c.Type)
	}
	buf.WriteString(")")
	if _, err := s.q.ExecContext(ctx, buf.String()); err != nil {
		return dbErr(err)
	}
	return nil
}

func queryInt(ctx context.Context, q querier, query string, args ...interface{}) (int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, dbErr(err)
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err = rows.Scan(&n); err != nil {
			return 0, dbErr(err)
		}
	}
	if err = rows.Err(); err != nil {
		return 0, dbErr(err)
	}
	return n, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func (s *SQLStore) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, dbErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, dbErr(err)
	}
	return id, nil
}

func (s *SQLStore) CreateTask(ctx context.Context, task *TaskRow) error {
	params, err := util.JsonString(task.Parameters)
	if err != nil {
		return NewError(ErrCodeGeneral, "encode parameters of task %v failed", task.Name, err)
	}
	if task.StatusID == 0 {
		task.StatusID = 1
	}
	id, err := s.insert(ctx, "insert into task(name, parameters, version, status_id) values(?, ?, ?, ?)",
		task.Name, params, task.Version, task.StatusID)
	if err != nil {
		return err
	}
	task.ID = id
	return nil
}

const taskColumns = "t.id, t.name, t.parameters, t.version, t.status_id"

func (s *SQLStore) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*TaskRow, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	var tasks []*TaskRow
	for rows.Next() {
		task := &TaskRow{}
		var params, version sql.NullString
		if err = rows.Scan(&task.ID, &task.Name, &params, &version, &task.StatusID); err != nil {
			return nil, dbErr(err)
		}
		task.Version = version.String
		task.Parameters = make(map[string]interface{})
		if params.Valid && params.String != "" {
			if err = util.ParseJson(params.String, &task.Parameters); err != nil {
				return nil, NewError(ErrCodeDbFail, "decode parameters of task %d failed", task.ID, err)
			}
		}
		tasks = append(tasks, task)
	}
	if err = rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return tasks, nil
}

func (s *SQLStore) GetTask(ctx context.Context, id int64) (*TaskRow, error) {
	tasks, err := s.queryTasks(ctx, "select "+taskColumns+" from task t where t.id=?", id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, notFound("task", id)
	}
	return tasks[0], nil
}

func (s *SQLStore) UpdateTaskTiming(ctx context.Context, taskID int64, timing *TaskTiming) error {
	_, err := s.q.ExecContext(ctx, "update task set time_total=?, time_pre_execute=?, time_execute=?, time_post_execute=?, "+
		"time_pre_execute_task=?, time_execute_task=?, time_post_execute_task=?, "+
		"time_pre_execute_bundle=?, time_execute_bundle=?, time_post_execute_bundle=? where id=?",
		timing.Total, timing.PreExecute, timing.Execute, timing.PostExecute,
		timing.PreExecuteTask, timing.ExecuteTask, timing.PostExecuteTask,
		timing.PreExecuteBundle, timing.ExecuteBundle, timing.PostExecuteBundle, taskID)
	if err != nil {
		return dbErr(err)
	}
	return nil
}

func (s *SQLStore) CreateBundle(ctx context.Context, bundle *BundleRow) error {
	if bundle.StatusID == 0 {
		bundle.StatusID = 1
	}
	id, err := s.insert(ctx, "insert into bundle(status_id) values(?)", bundle.StatusID)
	if err != nil {
		return err
	}
	bundle.ID = id
	return nil
}

func (s *SQLStore) GetBundle(ctx context.Context, id int64) (*BundleRow, error) {
	rows, err := s.q.QueryContext(ctx, "select id, status_id from bundle where id=?", id)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, dbErr(err)
		}
		return nil, notFound("bundle", id)
	}
	bundle := &BundleRow{}
	if err = rows.Scan(&bundle.ID, &bundle.StatusID); err != nil {
		return nil, dbErr(err)
	}
	return bundle, nil
}

func (s *SQLStore) LinkTaskBundle(ctx context.Context, taskID, bundleID int64) error {
	_, err := s.insert(ctx, "insert into task_bundle(task_id, bundle_id) values(?, ?)", taskID, bundleID)
	return err
}

func (s *SQLStore) BundleTasks(ctx context.Context, bundleID int64) ([]*TaskRow, error) {
	return s.queryTasks(ctx, "select "+taskColumns+" from task t join task_bundle tb on tb.task_id = t.id "+
		"where tb.bundle_id=? order by t.id", bundleID)
}

func (s *SQLStore) LinkTaskInputs(ctx context.Context, taskID int64, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	buf := bytes.Buffer{}
	buf.WriteString("insert into task_input(task_id, data_product_id) values")
	args := make([]interface{}, 0, 2*len(productIDs))
	for i, id := range productIDs {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("(?, ?)")
		args = append(args, taskID, id)
	}
	if _, err := s.q.ExecContext(ctx, buf.String(), args...); err != nil {
		return dbErr(err)
	}
	return nil
}

const productColumns = "d.id, d.data_release, d.filetype, d.kwargs, d.kwargs_hash"

func (s *SQLStore) queryProducts(ctx context.Context, query string, args ...interface{}) ([]*DataProduct, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	var products []*DataProduct
	for rows.Next() {
		dp := &DataProduct{}
		var kwargs sql.NullString
		if err = rows.Scan(&dp.ID, &dp.Release, &dp.Filetype, &kwargs, &dp.KwargsHash); err != nil {
			return nil, dbErr(err)
		}
		dp.Kwargs = make(map[string]interface{})
		if kwargs.Valid && kwargs.String != "" {
			if err = util.ParseJson(kwargs.String, &dp.Kwargs); err != nil {
				return nil, NewError(ErrCodeDbFail, "decode keywords of data product %d failed", dp.ID, err)
			}
		}
		products = append(products, dp)
	}
	if err = rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return products, nil
}

func (s *SQLStore) TaskInputs(ctx context.Context, taskID int64) ([]*DataProduct, error) {
	return s.queryProducts(ctx, "select "+productColumns+" from data_product d join task_input ti on ti.data_product_id = d.id "+
		"where ti.task_id=? order by ti.id", taskID)
}

func (s *SQLStore) StatusID(ctx context.Context, description string) (int64, error) {
	rows, err := s.q.QueryContext(ctx, "select id from status where description=?", description)
	if err != nil {
		return 0, dbErr(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return 0, dbErr(err)
		}
		return 0, notFound("status", description)
	}
	var id int64
	if err = rows.Scan(&id); err != nil {
		return 0, dbErr(err)
	}
	return id, nil
}

func (s *SQLStore) updateStatus(ctx context.Context, table string, statusID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]interface{}{statusID}, int64Args(ids)...)
	res, err := s.q.ExecContext(ctx, fmt.Sprintf("update %s set status_id=? where id in (%s)", table, placeholders(len(ids))), args...)
	if err != nil {
		return 0, dbErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbErr(err)
	}
	return n, nil
}

func (s *SQLStore) UpdateTaskStatus(ctx context.Context, statusID int64, taskIDs []int64) (int64, error) {
	return s.updateStatus(ctx, "task", statusID, taskIDs)
}

func (s *SQLStore) UpdateBundleStatus(ctx context.Context, statusID int64, bundleIDs []int64) (int64, error) {
	return s.updateStatus(ctx, "bundle", statusID, bundleIDs)
}

func (s *SQLStore) GetDataProduct(ctx context.Context, id int64) (*DataProduct, error) {
	products, err := s.queryProducts(ctx, "select "+productColumns+" from data_product d where d.id=?", id)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, notFound("data product", id)
	}
	return products[0], nil
}

func (s *SQLStore) FindDataProduct(ctx context.Context, release, filetype, kwargsHash string) (*DataProduct, error) {
	products, err := s.queryProducts(ctx, "select "+productColumns+" from data_product d "+
		"where d.data_release=? and d.filetype=? and d.kwargs_hash=?", release, filetype, kwargsHash)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, notFound("data product", kwargsHash)
	}
	return products[0], nil
}

func (s *SQLStore) CreateDataProduct(ctx context.Context, dp *DataProduct) error {
	kwargs, err := util.JsonString(dp.Kwargs)
	if err != nil {
		return NewError(ErrCodeInput, "encode keywords failed", err)
	}
	id, err := s.insert(ctx, "insert into data_product(data_release, filetype, kwargs, kwargs_hash) values(?, ?, ?, ?)",
		dp.Release, dp.Filetype, kwargs, dp.KwargsHash)
	if err != nil {
		return err
	}
	dp.ID = id
	return nil
}

func (s *SQLStore) ListOutputs(ctx context.Context, model *OutputModel, taskID int64) ([]*OutputRow, error) {
	buf := bytes.Buffer{}
	buf.WriteString("select output_id, task_id")
	for _, c := range model.Columns {
		buf.WriteString(", ")
		buf.WriteString(c.Name)
	}
	buf.WriteString(" from ")
	buf.WriteString(model.Table)
	buf.WriteString(" where task_id=? order by output_id asc")
	rows, err := s.q.QueryContext(ctx, buf.String(), taskID)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	var result []*OutputRow
	for rows.Next() {
		row := &OutputRow{Fields: make(map[string]interface{}, len(model.Columns))}
		values := make([]interface{}, len(model.Columns))
		dest := make([]interface{}, 0, len(model.Columns)+2)
		dest = append(dest, &row.OutputID, &row.TaskID)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err = rows.Scan(dest...); err != nil {
			return nil, dbErr(err)
		}
		for i, c := range model.Columns {
			if b, ok := values[i].([]byte); ok {
				row.Fields[c.Name] = string(b)
			} else {
				row.Fields[c.Name] = values[i]
			}
		}
		result = append(result, row)
	}
	if err = rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return result, nil
}

// UpdateOutputs issues a single "update ... set col = case output_id when ? then ? ... end" statement
func (s *SQLStore) UpdateOutputs(ctx context.Context, model *OutputModel, rows []*OutputRow) error {
	if len(rows) == 0 {
		return nil
	}
	columns := fieldNames(rows)
	if len(columns) == 0 {
		return nil
	}
	buf := bytes.Buffer{}
	var args []interface{}
	buf.WriteString("update ")
	buf.WriteString(model.Table)
	buf.WriteString(" set ")
	for i, col := range columns {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(col)
		buf.WriteString(" = case output_id")
		for _, row := range rows {
			if v, ok := row.Fields[col]; ok {
				buf.WriteString(" when ? then ?")
				args = append(args, row.OutputID, v)
			}
		}
		buf.WriteString(" else ")
		buf.WriteString(col)
		buf.WriteString(" end")
	}
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.OutputID
	}
	buf.WriteString(" where output_id in (")
	buf.WriteString(placeholders(len(ids)))
	buf.WriteString(")")
	args = append(args, int64Args(ids)...)
	if _, err := s.q.ExecContext(ctx, buf.String(), args...); err != nil {
		return dbErr(err)
	}
	return nil
}

func fieldNames(rows []*OutputRow) []string {
	seen := make(map[string]bool)
	var names []string
	for _, row := range rows {
		for k := range row.Fields {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (s *SQLStore) CreateOutputIdentities(ctx context.Context, n int) ([]int64, error) {
	ids := make([]int64, 0, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		id, err := s.insert(ctx, "insert into output(created) values(?)", now)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *SQLStore) LinkTaskOutputs(ctx context.Context, taskID int64, outputIDs []int64) error {
	if len(outputIDs) == 0 {
		return nil
	}
	buf := bytes.Buffer{}
	buf.WriteString("insert into task_output(task_id, output_id) values")
	args := make([]interface{}, 0, 2*len(outputIDs))
	for i, id := range outputIDs {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("(?, ?)")
		args = append(args, taskID, id)
	}
	if _, err := s.q.ExecContext(ctx, buf.String(), args...); err != nil {
		return dbErr(err)
	}
	return nil
}

func (s *SQLStore) InsertOutputs(ctx context.Context, model *OutputModel, rows []*OutputRow) error {
	if len(rows) == 0 {
		return nil
	}
	columns := fieldNames(rows)
	buf := bytes.Buffer{}
	buf.WriteString("insert into ")
	buf.WriteString(model.Table)
	buf.WriteString("(output_id, task_id")
	for _, col := range columns {
		buf.WriteString(", ")
		buf.WriteString(col)
	}
	buf.WriteString(") values")
	args := make([]interface{}, 0, len(rows)*(len(columns)+2))
	for i, row := range rows {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("(")
		buf.WriteString(placeholders(len(columns) + 2))
		buf.WriteString(")")
		args = append(args, row.OutputID, row.TaskID)
		for _, col := range columns {
			args = append(args, row.Fields[col])
		}
	}
	if _, err := s.q.ExecContext(ctx, buf.String(), args...); err != nil {
		return dbErr(err)
	}
	return nil
}

func (s *SQLStore) DeleteOutputs(ctx context.Context, model *OutputModel, outputIDs []int64) (int64, error) {
	if len(outputIDs) == 0 {
		return 0, nil
	}
	in := placeholders(len(outputIDs))
	args := int64Args(outputIDs)
	if _, err := s.q.ExecContext(ctx, "delete from "+model.Table+" where output_id in ("+in+")", args...); err != nil {
		return 0, dbErr(err)
	}
	if _, err := s.q.ExecContext(ctx, "delete from task_output where output_id in ("+in+")", args...); err != nil {
		return 0, dbErr(err)
	}
	res, err := s.q.ExecContext(ctx, "delete from output where id in ("+in+")", args...)
	if err != nil {
		return 0, dbErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbErr(err)
	}
	return n, nil
}

func (s *SQLStore) CountBundleTasksWithOutputs(ctx context.Context, bundleID int64) (int64, error) {
	return queryInt(ctx, s.q, "select count(distinct tb.task_id) from task_bundle tb "+
		"join task_output tp on tp.task_id = tb.task_id where tb.bundle_id=?", bundleID)
}

func (s *SQLStore) CountTaskOutputs(ctx context.Context, taskID int64) (int64, error) {
	return queryInt(ctx, s.q, "select count(*) from task_output where task_id=?", taskID)
}

func (s *SQLStore) CountBundleInputs(ctx context.Context, bundleID int64) (int64, error) {
	return queryInt(ctx, s.q, "select count(*) from task_input ti "+
		"join task_bundle tb on tb.task_id = ti.task_id where tb.bundle_id=?", bundleID)
}
