package spreadsheet

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/noaknobel/final-project/packages/config"
)

// Engine is the calculation engine. it combines storage, parsing,
// dependency tracking, and formula evaluation into a unified API. every
// method is safe for concurrent use; a write and the recalculation it
// triggers happen under one lock.
type Engine struct {
	mu sync.Mutex

	id        uuid.UUID
	storage   *Storage
	functions *BuiltInFunctions
	logger    *zap.Logger
	// base is the caller's logger before the sheet id is attached
	base *zap.Logger

	// rejected holds the error state left by writes that were refused. it
	// is kept apart from the cells so the prior content stays untouched.
	rejected map[Address]*CellError

	prefix        string
	numberFormat  *NumberFormat
	cacheSize     int
	maxRangeCells int
}

// Option configures an Engine
type Option func(*Engine) error

// WithLogger sets the logger, zap.NewNop() by default
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) error {
		if logger != nil {
			e.logger = logger
		}
		return nil
	}
}

// WithFormulaPrefix sets the character that marks input as a formula
func WithFormulaPrefix(prefix string) Option {
	return func(e *Engine) error {
		if utf8.RuneCountInString(prefix) != 1 {
			return NewApplicationError(InvalidArgument, fmt.Sprintf("formula prefix must be one character, got %q", prefix))
		}
		e.prefix = prefix
		return nil
	}
}

// WithNumberFormat sets the display format for numbers, e.g. "#,##0.00"
func WithNumberFormat(code string) Option {
	return func(e *Engine) error {
		nf, err := ParseNumberFormat(code)
		if err != nil {
			return NewApplicationError(InvalidArgument, err.Error())
		}
		e.numberFormat = nf
		return nil
	}
}

// WithParseCacheSize bounds the parsed-formula cache, 0 disables it
func WithParseCacheSize(size int) Option {
	return func(e *Engine) error {
		e.cacheSize = size
		return nil
	}
}

// WithMaxRangeCells bounds how many cells one range may cover
func WithMaxRangeCells(n int) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return NewApplicationError(InvalidArgument, fmt.Sprintf("max range cells must be positive, got %d", n))
		}
		e.maxRangeCells = n
		return nil
	}
}

// WithConfig applies the engine section of a configuration file
func WithConfig(c config.Engine) Option {
	return func(e *Engine) error {
		for _, opt := range []Option{
			WithFormulaPrefix(c.FormulaPrefix),
			WithNumberFormat(c.NumberFormat),
			WithParseCacheSize(c.ParseCacheSize),
			WithMaxRangeCells(c.MaxRangeCells),
		} {
			if err := opt(e); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithFunctions replaces the function library
func WithFunctions(functions *BuiltInFunctions) Option {
	return func(e *Engine) error {
		if functions != nil {
			e.functions = functions
		}
		return nil
	}
}

// New creates a new, empty engine
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		id:            uuid.New(),
		functions:     NewDefaultBuiltInFunctions(),
		logger:        zap.NewNop(),
		rejected:      make(map[Address]*CellError),
		prefix:        config.DefaultFormulaPrefix,
		cacheSize:     config.DefaultParseCacheSize,
		maxRangeCells: config.DefaultMaxRangeCells,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.storage = NewStorage(e.cacheSize)
	e.base = e.logger
	e.logger = e.base.With(zap.String("sheet", e.id.String()))
	return e, nil
}

// ID identifies the engine instance in logs
func (e *Engine) ID() uuid.UUID { return e.id }

// SetCell writes text to addr and recalculates everything depending on it.
// text starting with the formula prefix is parsed as a formula, anything
// else is a literal, and empty text clears the cell. a write that does not
// parse or that would close a cycle is refused: the cell keeps its previous
// content and value, its error state is set, and the *CellError is
// returned.
func (e *Engine) SetCell(addr Address, text string) error {
	if !addr.Valid() {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("invalid address %+v", addr))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if text == "" {
		e.clearLocked(addr)
		return nil
	}

	current := e.storage.worksheet.GetCell(addr)
	if current != nil && current.Raw == text && e.rejected[addr] == nil {
		return nil
	}

	cell := &Cell{Raw: text}
	if expr, ok := strings.CutPrefix(text, e.prefix); ok {
		tree, err := e.storage.formulas.Parse(expr)
		if err != nil {
			return e.reject(addr, shiftSyntaxError(err, utf8.RuneCountInString(e.prefix)))
		}
		refs, err := precedentsOf(tree, e.maxRangeCells)
		if err != nil {
			return e.reject(addr, shiftSyntaxError(err, utf8.RuneCountInString(e.prefix)))
		}
		if err := e.storage.dependencyGraph.SetEdges(addr, refs); err != nil {
			return e.reject(addr, err)
		}
		cell.Tree = tree
		if current != nil {
			cell.Value = current.Value
		}
	} else {
		e.storage.dependencyGraph.ClearDependencies(addr)
		cell.Value = ParseLiteral(text)
	}

	e.storage.worksheet.SetCell(addr, cell)
	delete(e.rejected, addr)
	n := e.recalculate(addr)

	e.logger.Debug("cell updated",
		zap.Stringer("cell", addr),
		zap.Bool("formula", cell.IsFormula()),
		zap.Int("recalculated", n))
	return nil
}

// SetCellRef is SetCell with a reference like "B2"
func (e *Engine) SetCellRef(ref, text string) error {
	addr, err := ParseAddress(ref)
	if err != nil {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("invalid address: %v", err))
	}
	return e.SetCell(addr, text)
}

// ClearCell empties addr and recalculates everything depending on it
func (e *Engine) ClearCell(addr Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked(addr)
}

func (e *Engine) clearLocked(addr Address) {
	e.storage.dependencyGraph.ClearDependencies(addr)
	e.storage.worksheet.RemoveCell(addr)
	delete(e.rejected, addr)
	n := e.recalculate(addr)
	e.logger.Debug("cell cleared", zap.Stringer("cell", addr), zap.Int("recalculated", n))
}

// reject records the error state of a refused write and returns it
func (e *Engine) reject(addr Address, err error) error {
	cellErr := cellErrorFrom(addr, err)
	e.rejected[addr] = cellErr
	e.logger.Warn("write rejected",
		zap.Stringer("cell", addr),
		zap.Stringer("kind", cellErr.Kind),
		zap.String("reason", cellErr.Message))
	return cellErr
}

// recalculate evaluates seed and every cell depending on it in topological
// order, each against the values already stored. it returns the number of
// formulas evaluated.
func (e *Engine) recalculate(seed Address) int {
	evaluator := NewEvaluator(e.functions, e.storage.worksheet)
	evaluated := 0
	for _, addr := range e.storage.dependencyGraph.TopologicalOrder(seed) {
		cell := e.storage.worksheet.GetCell(addr)
		if cell == nil {
			continue
		}
		if addr != seed {
			delete(e.rejected, addr)
		}
		if !cell.IsFormula() {
			cell.Err = nil
			continue
		}
		cell.Value = evaluator.Evaluate(cell.Tree)
		cell.Err = nil
		if cell.Value.IsError() {
			cell.Err = evalCellError(addr, cell.Value.Err)
		}
		evaluated++
	}
	return evaluated
}

// Value returns the computed value at addr
func (e *Engine) Value(addr Address) Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.storage.worksheet.Resolve(addr)
}

// Error returns the error state at addr, nil when the cell is healthy. a
// refused write takes precedence over an evaluation error.
func (e *Engine) Error(addr Address) *CellError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorLocked(addr)
}

func (e *Engine) errorLocked(addr Address) *CellError {
	if err := e.rejected[addr]; err != nil {
		return err
	}
	if cell := e.storage.worksheet.GetCell(addr); cell != nil {
		return cell.Err
	}
	return nil
}

// DisplayValue returns the text shown for addr: formatted numbers,
// TRUE/FALSE, text, or a short error code
func (e *Engine) DisplayValue(addr Address) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.displayLocked(addr, e.storage.worksheet.GetCell(addr))
}

func (e *Engine) displayLocked(addr Address, cell *Cell) string {
	if err := e.rejected[addr]; err != nil {
		return err.Code()
	}
	if cell == nil {
		return ""
	}
	return displayValue(cell.Value, e.numberFormat)
}

// RawContent returns the text last accepted for addr
func (e *Engine) RawContent(addr Address) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cell := e.storage.worksheet.GetCell(addr); cell != nil {
		return cell.Raw
	}
	return ""
}

// Precedents returns the cells the formula at addr reads, row-major
func (e *Engine) Precedents(addr Address) []Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.storage.dependencyGraph.GetDirectPrecedents(addr)
}

// Dependents returns the cells whose formulas read addr, row-major
func (e *Engine) Dependents(addr Address) []Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.storage.dependencyGraph.GetDirectDependents(addr)
}

// Stats describes the engine's contents
type Stats struct {
	Cells        int
	Formulas     int
	Errors       int
	GraphNodes   int
	GraphEdges   int
	CachedParses int
	CacheHits    uint64
	CacheMisses  uint64
}

// Stats returns counts over the engine's contents
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	formulas, errs := e.storage.worksheet.CellCounts()
	for addr := range e.rejected {
		if cell := e.storage.worksheet.GetCell(addr); cell == nil || cell.Err == nil {
			errs++
		}
	}
	hits, misses := e.storage.formulas.Stats()
	return Stats{
		Cells:        e.storage.worksheet.GetTotalCells(),
		Formulas:     formulas,
		Errors:       errs,
		GraphNodes:   e.storage.dependencyGraph.NodeCount(),
		GraphEdges:   e.storage.dependencyGraph.EdgeCount(),
		CachedParses: e.storage.formulas.Count(),
		CacheHits:    hits,
		CacheMisses:  misses,
	}
}

// Clone returns an independent copy of the engine with a new ID. edits to
// either copy never show in the other.
func (e *Engine) Clone() (*Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clone := &Engine{
		id:            uuid.New(),
		functions:     e.functions,
		rejected:      make(map[Address]*CellError, len(e.rejected)),
		prefix:        e.prefix,
		numberFormat:  e.numberFormat,
		cacheSize:     e.cacheSize,
		maxRangeCells: e.maxRangeCells,
		storage:       NewStorage(e.cacheSize),
	}
	clone.base = e.base
	clone.logger = e.base.With(zap.String("sheet", clone.id.String()))
	e.logger.Debug("engine cloned", zap.String("clone", clone.id.String()))

	var copyErr error
	e.storage.worksheet.Ascend(func(addr Address, cell *Cell) bool {
		var c *Cell
		if copyErr = deepcopy.Copy(&c, cell); copyErr != nil {
			return false
		}
		clone.storage.worksheet.SetCell(addr, c)
		return true
	})
	if copyErr != nil {
		return nil, NewApplicationError(Internal, fmt.Sprintf("copy cells: %v", copyErr))
	}
	for addr, err := range e.rejected {
		rejected := *err
		clone.rejected[addr] = &rejected
	}
	if err := clone.storage.rebuildGraph(clone.maxRangeCells); err != nil {
		return nil, NewApplicationError(Internal, fmt.Sprintf("rebuild dependencies: %v", err))
	}
	return clone, nil
}

// shiftSyntaxError moves a syntax error position from the expression to the
// full cell text
func shiftSyntaxError(err error, offset int) error {
	if se, ok := err.(*SyntaxError); ok {
		shifted := *se
		shifted.Pos += offset
		return &shifted
	}
	return err
}
