package astra

import (
	"context"
	"sort"
	"sync"

	"github.com/ajwheeler/astra/status"
	"github.com/pkg/errors"
)

type link struct {
	from, to int64
}

type memState struct {
	seq         int64
	tasks       map[int64]TaskRow
	bundles     map[int64]BundleRow
	taskBundles []link
	taskInputs  []link
	products    map[int64]DataProduct
	statuses    []string
	outputs     map[int64]bool
	taskOutputs []link
	tables      map[string]map[int64]OutputRow
}

func (s *memState) clone() *memState {
	c := &memState{
		seq:         s.seq,
		tasks:       make(map[int64]TaskRow, len(s.tasks)),
		bundles:     make(map[int64]BundleRow, len(s.bundles)),
		taskBundles: append([]link(nil), s.taskBundles...),
		taskInputs:  append([]link(nil), s.taskInputs...),
		products:    make(map[int64]DataProduct, len(s.products)),
		statuses:    append([]string(nil), s.statuses...),
		outputs:     make(map[int64]bool, len(s.outputs)),
		taskOutputs: append([]link(nil), s.taskOutputs...),
		tables:      make(map[string]map[int64]OutputRow, len(s.tables)),
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.bundles {
		c.bundles[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.outputs {
		c.outputs[k] = v
	}
	for name, table := range s.tables {
		t := make(map[int64]OutputRow, len(table))
		for k, v := range table {
			t[k] = v
		}
		c.tables[name] = t
	}
	return c
}

func (s *memState) nextID() int64 {
	s.seq++
	return s.seq
}

// memView the Store operations over one memState. Outside a transaction it is the committed
// state, inside one a private copy.
type memView struct {
	mu    sync.RWMutex
	state *memState
}

// MemoryStore in-process Store. Rows are kept by value. Writes are serialized: every write runs in
// a transaction over a private copy of the state that replaces the committed state on success and
// is dropped on error or panic.
type MemoryStore struct {
	*memView
	txMu sync.Mutex
}

// NewMemoryStore creates an empty store seeded with the task statuses
func NewMemoryStore() *MemoryStore {
	st := &memState{
		tasks:    make(map[int64]TaskRow),
		bundles:  make(map[int64]BundleRow),
		products: make(map[int64]DataProduct),
		outputs:  make(map[int64]bool),
		tables:   make(map[string]map[int64]OutputRow),
	}
	for _, s := range status.All {
		st.statuses = append(st.statuses, string(s))
	}
	return &MemoryStore{memView: &memView{state: st}}
}

type memTx struct {
	*memView
}

func (tx *memTx) Atomic(ctx context.Context, fn func(tx Store) error) error {
	return fn(tx)
}

func (m *MemoryStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.RLock()
	work := &memTx{&memView{state: m.state.clone()}}
	m.mu.RUnlock()
	if err := fn(work); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = work.state
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CreateTask(ctx context.Context, task *TaskRow) error {
	return m.Atomic(ctx, func(tx Store) error {
		return tx.CreateTask(ctx, task)
	})
}

func (m *MemoryStore) UpdateTaskTiming(ctx context.Context, taskID int64, timing *TaskTiming) error {
	return m.Atomic(ctx, func(tx Store) error {
		return tx.UpdateTaskTiming(ctx, taskID, timing)
	})
}

func (m *MemoryStore) CreateBundle(ctx context.Context, bundle *BundleRow) error {
	return m.Atomic(ctx, func(tx Store) error {
		return tx.CreateBundle(ctx, bundle)
	})
}

func (m *MemoryStore) LinkTaskBundle(ctx context.Context, taskID, bundleID int64) error {
	return m.Atomic(ctx, func(tx Store) error {
		return tx.LinkTaskBundle(ctx, taskID, bundleID)
	})
}

func (m *MemoryStore) LinkTaskInputs(ctx context.Context, taskID int64, productIDs []int64) error {
	return m.Atomic(ctx, func(tx Store) error {
		return tx.LinkTaskInputs(ctx, taskID, productIDs)
	})
}

func (m *MemoryStore) UpdateTaskStatus(ctx context.Context, statusID int64, taskIDs []int64) (n int64, err error) {
	err = m.Atomic(ctx, func(tx Store) error {
		n, err = tx.UpdateTaskStatus(ctx, statusID, taskIDs)
		return err
	})
	return n, err
}

func (m *MemoryStore) UpdateBundleStatus(ctx context.Context, statusID int64, bundleIDs []int64) (n int64, err error) {
	err = m.Atomic(ctx, func(tx Store) error {
		n, err = tx.UpdateBundleStatus(ctx, statusID, bundleIDs)
		return err
	})
	return n, err
}

func (m *MemoryStore) CreateDataProduct(ctx context.Context, dp *DataProduct) error {
	return m.Atomic(ctx, func(tx Store) error {
		return tx.CreateDataProduct(ctx, dp)
	})
}

func (m *MemoryStore) UpdateOutputs(ctx context.Context, model *OutputModel, rows []*OutputRow) error {
	return m.Atomic(ctx, func(tx Store) error {
		return tx.UpdateOutputs(ctx, model, rows)
	})
}

func (m *MemoryStore) CreateOutputIdentities(ctx context.Context, n int) (ids []int64, err error) {
	err = m.Atomic(ctx, func(tx Store) error {
		ids, err = tx.CreateOutputIdentities(ctx, n)
		return err
	})
	return ids, err
}

func (m *MemoryStore) LinkTaskOutputs(ctx context.Context, taskID int64, outputIDs []int64) error {
	return m.Atomic(ctx, func(tx Store) error {
		return tx.LinkTaskOutputs(ctx, taskID, outputIDs)
	})
}

func (m *MemoryStore) InsertOutputs(ctx context.Context, model *OutputModel, rows []*OutputRow) error {
	return m.Atomic(ctx, func(tx Store) error {
		return tx.InsertOutputs(ctx, model, rows)
	})
}

func (m *MemoryStore) DeleteOutputs(ctx context.Context, model *OutputModel, outputIDs []int64) (n int64, err error) {
	err = m.Atomic(ctx, func(tx Store) error {
		n, err = tx.DeleteOutputs(ctx, model, outputIDs)
		return err
	})
	return n, err
}

func notFound(what string, id interface{}) error {
	return errors.Wrapf(ErrNotFound, "%s %v", what, id)
}

func (m *memView) CreateTask(ctx context.Context, task *TaskRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.ID = m.state.nextID()
	if task.StatusID == 0 {
		task.StatusID = 1
	}
	m.state.tasks[task.ID] = *task
	return nil
}

func (m *memView) GetTask(ctx context.Context, id int64) (*TaskRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.state.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	return &task, nil
}

func (m *memView) UpdateTaskTiming(ctx context.Context, taskID int64, timing *TaskTiming) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.state.tasks[taskID]
	if !ok {
		return notFound("task", taskID)
	}
	tt := *timing
	task.Timing = &tt
	m.state.tasks[taskID] = task
	return nil
}

func (m *memView) CreateBundle(ctx context.Context, bundle *BundleRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bundle.ID = m.state.nextID()
	if bundle.StatusID == 0 {
		bundle.StatusID = 1
	}
	m.state.bundles[bundle.ID] = *bundle
	return nil
}

func (m *memView) GetBundle(ctx context.Context, id int64) (*BundleRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bundle, ok := m.state.bundles[id]
	if !ok {
		return nil, notFound("bundle", id)
	}
	return &bundle, nil
}

func (m *memView) LinkTaskBundle(ctx context.Context, taskID, bundleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.taskBundles = append(m.state.taskBundles, link{taskID, bundleID})
	return nil
}

func (m *memView) BundleTasks(ctx context.Context, bundleID int64) ([]*TaskRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tasks []*TaskRow
	for _, l := range m.state.taskBundles {
		if l.to != bundleID {
			continue
		}
		if task, ok := m.state.tasks[l.from]; ok {
			tasks = append(tasks, &task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (m *memView) LinkTaskInputs(ctx context.Context, taskID int64, productIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range productIDs {
		m.state.taskInputs = append(m.state.taskInputs, link{taskID, id})
	}
	return nil
}

func (m *memView) TaskInputs(ctx context.Context, taskID int64) ([]*DataProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var products []*DataProduct
	for _, l := range m.state.taskInputs {
		if l.from != taskID {
			continue
		}
		if dp, ok := m.state.products[l.to]; ok {
			products = append(products, &dp)
		}
	}
	return products, nil
}

func (m *memView) StatusID(ctx context.Context, description string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, s := range m.state.statuses {
		if s == description {
			return int64(i + 1), nil
		}
	}
	return 0, notFound("status", description)
}

func (m *memView) UpdateTaskStatus(ctx context.Context, statusID int64, taskIDs []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range taskIDs {
		if task, ok := m.state.tasks[id]; ok {
			task.StatusID = statusID
			m.state.tasks[id] = task
			n++
		}
	}
	return n, nil
}

func (m *memView) UpdateBundleStatus(ctx context.Context, statusID int64, bundleIDs []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range bundleIDs {
		if bundle, ok := m.state.bundles[id]; ok {
			bundle.StatusID = statusID
			m.state.bundles[id] = bundle
			n++
		}
	}
	return n, nil
}

func (m *memView) GetDataProduct(ctx context.Context, id int64) (*DataProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dp, ok := m.state.products[id]
	if !ok {
		return nil, notFound("data product", id)
	}
	return &dp, nil
}

func (m *memView) FindDataProduct(ctx context.Context, release, filetype, kwargsHash string) (*DataProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, dp := range m.state.products {
		if dp.Release == release && dp.Filetype == filetype && dp.KwargsHash == kwargsHash {
			found := dp
			return &found, nil
		}
	}
	return nil, notFound("data product", kwargsHash)
}

func (m *memView) CreateDataProduct(ctx context.Context, dp *DataProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.state.products {
		if existing.Release == dp.Release && existing.Filetype == dp.Filetype && existing.KwargsHash == dp.KwargsHash {
			return errors.Wrapf(ErrDuplicate, "data product %v/%v/%v", dp.Release, dp.Filetype, dp.KwargsHash)
		}
	}
	dp.ID = m.state.nextID()
	m.state.products[dp.ID] = *dp
	return nil
}

func (m *memView) table(model *OutputModel) map[int64]OutputRow {
	t, ok := m.state.tables[model.Table]
	if !ok {
		t = make(map[int64]OutputRow)
		m.state.tables[model.Table] = t
	}
	return t
}

func (m *memView) ListOutputs(ctx context.Context, model *OutputModel, taskID int64) ([]*OutputRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []*OutputRow
	for _, row := range m.state.tables[model.Table] {
		if row.TaskID == taskID {
			r := row
			rows = append(rows, &r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].OutputID < rows[j].OutputID })
	return rows, nil
}

func (m *memView) UpdateOutputs(ctx context.Context, model *OutputModel, rows []*OutputRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(model)
	for _, row := range rows {
		existing, ok := t[row.OutputID]
		if !ok {
			continue
		}
		fields := make(map[string]interface{}, len(existing.Fields)+len(row.Fields))
		for k, v := range existing.Fields {
			fields[k] = v
		}
		for k, v := range row.Fields {
			fields[k] = v
		}
		existing.Fields = fields
		t[row.OutputID] = existing
	}
	return nil
}

func (m *memView) CreateOutputIdentities(ctx context.Context, n int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = m.state.nextID()
		m.state.outputs[ids[i]] = true
	}
	return ids, nil
}

func (m *memView) LinkTaskOutputs(ctx context.Context, taskID int64, outputIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range outputIDs {
		m.state.taskOutputs = append(m.state.taskOutputs, link{taskID, id})
	}
	return nil
}

func (m *memView) InsertOutputs(ctx context.Context, model *OutputModel, rows []*OutputRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(model)
	for _, row := range rows {
		if _, ok := t[row.OutputID]; ok {
			return errors.Wrapf(ErrDuplicate, "%s output %d", model.Table, row.OutputID)
		}
	}
	for _, row := range rows {
		fields := make(map[string]interface{}, len(row.Fields))
		for k, v := range row.Fields {
			fields[k] = v
		}
		t[row.OutputID] = OutputRow{OutputID: row.OutputID, TaskID: row.TaskID, Fields: fields}
	}
	return nil
}

func (m *memView) DeleteOutputs(ctx context.Context, model *OutputModel, outputIDs []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	remove := make(map[int64]bool, len(outputIDs))
	for _, id := range outputIDs {
		remove[id] = true
	}
	t := m.table(model)
	for id := range remove {
		delete(t, id)
	}
	kept := m.state.taskOutputs[:0]
	for _, l := range m.state.taskOutputs {
		if !remove[l.to] {
			kept = append(kept, l)
		}
	}
	m.state.taskOutputs = kept
	var n int64
	for id := range remove {
		if m.state.outputs[id] {
			delete(m.state.outputs, id)
			n++
		}
	}
	return n, nil
}

func (m *memView) CountBundleTasksWithOutputs(ctx context.Context, bundleID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	withOutputs := make(map[int64]bool)
	for _, l := range m.state.taskOutputs {
		withOutputs[l.from] = true
	}
	counted := make(map[int64]bool)
	for _, l := range m.state.taskBundles {
		if l.to == bundleID && withOutputs[l.from] {
			counted[l.from] = true
		}
	}
	return int64(len(counted)), nil
}

func (m *memView) CountTaskOutputs(ctx context.Context, taskID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, l := range m.state.taskOutputs {
		if l.from == taskID {
			n++
		}
	}
	return n, nil
}

func (m *memView) CountBundleInputs(ctx context.Context, bundleID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inBundle := make(map[int64]bool)
	for _, l := range m.state.taskBundles {
		if l.to == bundleID {
			inBundle[l.from] = true
		}
	}
	var n int64
	for _, l := range m.state.taskInputs {
		if inBundle[l.from] {
			n++
		}
	}
	return n, nil
}
