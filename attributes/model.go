// Package attributes holds the live method table of one remote node.
//
// The Model keeps one Row per method descriptor. Each row owns the params the user
// edited, the last outcome of calling the method, and the id of the call still in
// flight, if any. Calls go through a correlator.Issuer and complete asynchronously;
// every state change is announced to listeners, a RowChanged for exactly the row
// that changed or a Reset when the whole table is replaced.
//
// At most one call per row is authoritative. Invoking a row that is still waiting
// supersedes the earlier call: its request is forgotten and a late response for it
// changes nothing.
package attributes

import (
	"errors"
	"fmt"
	"shvattr/correlator"
	"shvattr/message"
	"shvattr/method"
	"shvattr/value"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrRowOutOfRange = errors.New("attributes: row out of range")
	ErrSignalMethod  = errors.New("attributes: signal methods cannot be invoked")
)

// Row is the state of one method. Params and Response are nil while unset;
// Pending is zero when no call is in flight.
type Row struct {
	Method   method.Descriptor
	Params   value.Value
	Response *message.Outcome
	Pending  message.RequestID
}

// Listener is told about table changes. Callbacks run without the model lock held
// and may query the model.
type Listener interface {
	RowChanged(row int)
	Reset()
}

// ListenerFuncs adapts two functions to Listener; nil fields are skipped.
type ListenerFuncs struct {
	OnRowChanged func(row int)
	OnReset      func()
}

func (l ListenerFuncs) RowChanged(row int) {
	if l.OnRowChanged != nil {
		l.OnRowChanged(row)
	}
}

func (l ListenerFuncs) Reset() {
	if l.OnReset != nil {
		l.OnReset()
	}
}

// Model is the attribute table of the node at Path.
type Model struct {
	issuer correlator.Issuer
	path   string

	mu         sync.Mutex
	rows       []Row
	generation uint64 // bumped whenever rows are replaced; completions from older rows are dropped
	listeners  []Listener
}

// New creates an empty model for the node at path.
func New(issuer correlator.Issuer, path string) *Model {
	return &Model{issuer: issuer, path: path}
}

// Subscribe adds a listener.
func (m *Model) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Path returns the owning node path.
func (m *Model) Path() string {
	return m.path
}

// Load replaces all rows with one per descriptor, in order, and then calls every
// auto-refresh accessor (the "get" method). Calls still pending on the old rows are forgotten.
func (m *Model) Load(descriptors []method.Descriptor) {
	m.mu.Lock()
	m.dropRowsLocked()
	m.rows = make([]Row, len(descriptors))
	var refresh []int
	for i, d := range descriptors {
		if d.Path == "" {
			d.Path = m.path
		}
		m.rows[i] = Row{Method: d}
		if d.IsAutoRefresh() {
			refresh = append(refresh, i)
		}
	}
	m.mu.Unlock()

	zap.L().Debug("attribute table loaded", zap.String("path", m.path), zap.Int("methods", len(descriptors)))
	m.notifyReset()

	for _, i := range refresh {
		if _, err := m.Invoke(i); err != nil {
			zap.L().Warn("auto refresh failed", zap.String("path", m.path), zap.Int("row", i), zap.Error(err))
		}
	}
}

// Detach drops every row and forgets pending calls.
func (m *Model) Detach() {
	m.mu.Lock()
	m.dropRowsLocked()
	m.rows = nil
	m.mu.Unlock()
	m.notifyReset()
}

func (m *Model) dropRowsLocked() {
	m.generation++
	for _, r := range m.rows {
		if r.Pending != 0 {
			m.issuer.Forget(r.Pending)
		}
	}
}

// SetParams parses text as the row's params. Empty (or blank) text clears them.
// On a parse error the previous params stay and the *value.ParseError is returned.
func (m *Model) SetParams(row int, text string) error {
	var params value.Value
	if strings.TrimSpace(text) != "" {
		v, err := value.Parse(text)
		if err != nil {
			zap.L().Warn("invalid method params", zap.String("path", m.path), zap.Int("row", row), zap.String("text", text))
			return fmt.Errorf("row %d params: %w", row, err)
		}
		params = v
	}

	m.mu.Lock()
	if row < 0 || row >= len(m.rows) {
		m.mu.Unlock()
		return ErrRowOutOfRange
	}
	m.rows[row].Params = params
	m.mu.Unlock()

	m.notifyRow(row)
	return nil
}

// Invoke calls the row's method with its current params and returns the request id.
// The outcome lands on the row asynchronously. A row already waiting is re-issued and
// the earlier call is superseded. Signal rows are never invoked.
func (m *Model) Invoke(row int) (message.RequestID, error) {
	m.mu.Lock()
	if row < 0 || row >= len(m.rows) {
		m.mu.Unlock()
		return 0, ErrRowOutOfRange
	}
	r := &m.rows[row]
	if r.Method.IsSignal() {
		m.mu.Unlock()
		return 0, ErrSignalMethod
	}
	if r.Pending != 0 {
		m.issuer.Forget(r.Pending)
		zap.L().Debug("superseding pending call", zap.String("method", r.Method.Name), zap.Uint64("requestId", uint64(r.Pending)))
	}

	gen := m.generation
	var id message.RequestID
	id = m.issuer.Issue(r.Method.Path, r.Method.Name, r.Params, r.Method.Access, func(out message.Outcome) {
		m.complete(row, gen, &id, out)
	})
	r.Pending = id
	m.mu.Unlock()

	m.notifyRow(row)
	return id, nil
}

// complete stores an outcome if it still belongs to the row's current call.
// id is read under the lock: Invoke assigns it after Issue returns.
func (m *Model) complete(row int, gen uint64, id *message.RequestID, out message.Outcome) {
	m.mu.Lock()
	if gen != m.generation || row >= len(m.rows) || m.rows[row].Pending != *id {
		m.mu.Unlock()
		return
	}
	r := &m.rows[row]
	r.Pending = 0
	r.Response = &out
	m.mu.Unlock()

	m.notifyRow(row)
}

// RowCount returns the number of rows.
func (m *Model) RowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Row returns a snapshot of one row.
func (m *Model) Row(row int) (Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row < 0 || row >= len(m.rows) {
		return Row{}, false
	}
	r := m.rows[row]
	if r.Response != nil {
		out := *r.Response
		r.Response = &out
	}
	return r, true
}

// Method returns the method name of a row, or "" if out of range.
func (m *Model) Method(row int) string {
	r, ok := m.Row(row)
	if !ok {
		return ""
	}
	return r.Method.Name
}

// IsPending reports whether the row has a call in flight.
func (m *Model) IsPending(row int) bool {
	r, ok := m.Row(row)
	return ok && r.Pending != 0
}

// RawResult returns the untruncated result of the row's last successful call,
// or nil when the row has no result or its last call failed.
func (m *Model) RawResult(row int) value.Value {
	r, ok := m.Row(row)
	if !ok || r.Response == nil || r.Response.IsError() {
		return nil
	}
	return r.Response.Result
}

// Outcome returns the row's last outcome, if any.
func (m *Model) Outcome(row int) (message.Outcome, bool) {
	r, ok := m.Row(row)
	if !ok || r.Response == nil {
		return message.Outcome{}, false
	}
	return *r.Response, true
}

// DisplayValue returns the display text of a cell; out of range cells are empty.
func (m *Model) DisplayValue(row int, col Column) string {
	r, ok := m.Row(row)
	if !ok {
		return ""
	}
	return DisplayValue(r, col)
}

// EditValue returns the editable text of a cell.
func (m *Model) EditValue(row int, col Column) string {
	r, ok := m.Row(row)
	if !ok {
		return ""
	}
	return EditValue(r, col)
}

// TooltipValue returns the tooltip text of a cell.
func (m *Model) TooltipValue(row int, col Column) string {
	r, ok := m.Row(row)
	if !ok {
		return ""
	}
	return TooltipValue(r, col)
}

// Affordance returns what the run cell of a row offers.
func (m *Model) Affordance(row int) Affordance {
	r, ok := m.Row(row)
	if !ok {
		return AffordanceNone
	}
	return RowAffordance(r)
}

func (m *Model) snapshotListeners() []Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Listener(nil), m.listeners...)
}

func (m *Model) notifyRow(row int) {
	for _, l := range m.snapshotListeners() {
		l.RowChanged(row)
	}
}

func (m *Model) notifyReset() {
	for _, l := range m.snapshotListeners() {
		l.Reset()
	}
}
