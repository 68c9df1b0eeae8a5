package astra

import (
	"database/sql"
	"os"

	"github.com/ajwheeler/astra/internal/logs"
)

//log
var logger logs.Logger = logs.NewLogger(os.Stdout, logs.Info)

//SetLogger set a logger instance for astra
func SetLogger(l logs.Logger) {
	logger = l
}

//task pool
const (
	DefaultMaxRunningTasks = 10
)

var taskRunPool = newTaskPool(DefaultMaxRunningTasks)

//SetMaxRunningTasks set max number of task instances started in parallel by StartAsync
func SetMaxRunningTasks(size int) {
	taskRunPool.SetMaxSize(size)
}

//store
var defaultStore Store

//SetStore register the Store used by task instances created without WithStore
func SetStore(store Store) {
	if store == nil {
		panic("store must not be nil")
	}
	defaultStore = store
}

//SetDB register a *sql.DB instance for astra, backing the default store
func SetDB(sqlDb *sql.DB, dialect Dialect) {
	if sqlDb == nil {
		panic("sqlDb must not be nil")
	}
	defaultStore = NewSQLStore(sqlDb, dialect, txManager)
}

//transaction manager
var txManager TransactionManager

//SetTransactionManager register a TransactionManager instance for astra. It applies to stores
//created by later SetDB calls.
func SetTransactionManager(txMgr TransactionManager) {
	if txMgr == nil {
		panic("transaction manager must not be nil")
	}
	txManager = txMgr
}

//version
var version = "0.0.0"

//SetVersion set the version string recorded on every task created afterwards
func SetVersion(v string) {
	version = v
}

//Version the version string recorded on new tasks
func Version() string {
	return version
}
