package entities

import (
	"fmt"
	"strings"

	pkgerrors "canvaschat/pkg/errors"
)

// Cell is one entry of a matrix. A cell that has streamed partial content
// but was stopped keeps its content with Filled false.
type Cell struct {
	Content string
	Filled  bool
	Error   string
}

// IsEmpty reports whether the cell has never received content.
func (c Cell) IsEmpty() bool {
	return c.Content == "" && !c.Filled
}

// CellRef addresses a cell by row and column index.
type CellRef struct {
	Row int
	Col int
}

// Key is the "row-col" form used for cell maps and operation sub-keys.
func (r CellRef) Key() string {
	return CellKey(r.Row, r.Col)
}

// CellKey formats a row/column pair as "row-col".
func CellKey(row, col int) string {
	return fmt.Sprintf("%d-%d", row, col)
}

// ParseCellKey is the inverse of CellKey.
func ParseCellKey(key string) (CellRef, error) {
	var ref CellRef
	if _, err := fmt.Sscanf(key, "%d-%d", &ref.Row, &ref.Col); err != nil {
		return CellRef{}, pkgerrors.NewValidationError(fmt.Sprintf("invalid cell key %q", key))
	}
	if CellKey(ref.Row, ref.Col) != key {
		return CellRef{}, pkgerrors.NewValidationError(fmt.Sprintf("invalid cell key %q", key))
	}
	return ref, nil
}

// Matrix is the payload of a matrix node: a question evaluated across
// ordered row and column labels, with a sparse cell map.
type Matrix struct {
	question string
	rows     []string
	columns  []string
	cells    map[string]Cell
}

// NewMatrix builds an empty matrix. Labels must be non-blank.
func NewMatrix(question string, rows, columns []string) (*Matrix, error) {
	for _, l := range append(append([]string{}, rows...), columns...) {
		if strings.TrimSpace(l) == "" {
			return nil, pkgerrors.NewValidationError("matrix labels cannot be blank")
		}
	}
	return &Matrix{
		question: question,
		rows:     append([]string{}, rows...),
		columns:  append([]string{}, columns...),
		cells:    make(map[string]Cell),
	}, nil
}

// ReconstructMatrix rebuilds a matrix from saved data. Cells whose key does not
// parse or falls outside the labels are dropped.
func ReconstructMatrix(question string, rows, columns []string, cells map[string]Cell) *Matrix {
	m := &Matrix{
		question: question,
		rows:     append([]string{}, rows...),
		columns:  append([]string{}, columns...),
		cells:    make(map[string]Cell, len(cells)),
	}
	for k, c := range cells {
		ref, err := ParseCellKey(k)
		if err != nil || !m.inRange(ref.Row, ref.Col) {
			continue
		}
		m.cells[k] = c
	}
	return m
}

func (m *Matrix) Question() string { return m.question }

func (m *Matrix) Rows() []string { return append([]string{}, m.rows...) }

func (m *Matrix) Columns() []string { return append([]string{}, m.columns...) }

// RowLabel returns the label at index row.
func (m *Matrix) RowLabel(row int) (string, bool) {
	if row < 0 || row >= len(m.rows) {
		return "", false
	}
	return m.rows[row], true
}

// ColumnLabel returns the label at index col.
func (m *Matrix) ColumnLabel(col int) (string, bool) {
	if col < 0 || col >= len(m.columns) {
		return "", false
	}
	return m.columns[col], true
}

// Cells returns a copy of the sparse cell map.
func (m *Matrix) Cells() map[string]Cell {
	out := make(map[string]Cell, len(m.cells))
	for k, v := range m.cells {
		out[k] = v
	}
	return out
}

// Cell returns the cell at row/col; ok is false when nothing is stored there.
func (m *Matrix) Cell(row, col int) (Cell, bool) {
	c, ok := m.cells[CellKey(row, col)]
	return c, ok
}

// SetCell stores c at row/col.
func (m *Matrix) SetCell(row, col int, c Cell) error {
	if !m.inRange(row, col) {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("cell %s", CellKey(row, col)))
	}
	m.cells[CellKey(row, col)] = c
	return nil
}

// ClearCell removes whatever is stored at row/col.
func (m *Matrix) ClearCell(row, col int) {
	delete(m.cells, CellKey(row, col))
}

// EmptyCells lists cells that have no content yet, row-major.
func (m *Matrix) EmptyCells() []CellRef {
	var refs []CellRef
	for r := range m.rows {
		for c := range m.columns {
			if cell, ok := m.cells[CellKey(r, c)]; ok && !cell.IsEmpty() {
				continue
			}
			refs = append(refs, CellRef{Row: r, Col: c})
		}
	}
	return refs
}

// AddRow appends a row and returns its index.
func (m *Matrix) AddRow(label string) (int, error) {
	if strings.TrimSpace(label) == "" {
		return 0, pkgerrors.NewValidationError("row label cannot be blank")
	}
	m.rows = append(m.rows, label)
	return len(m.rows) - 1, nil
}

// AddColumn appends a column and returns its index.
func (m *Matrix) AddColumn(label string) (int, error) {
	if strings.TrimSpace(label) == "" {
		return 0, pkgerrors.NewValidationError("column label cannot be blank")
	}
	m.columns = append(m.columns, label)
	return len(m.columns) - 1, nil
}

// RemoveRow deletes a row and shifts the cells of later rows up by one.
func (m *Matrix) RemoveRow(row int) error {
	if row < 0 || row >= len(m.rows) {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("row %d", row))
	}
	m.rows = append(m.rows[:row], m.rows[row+1:]...)
	m.reindex(func(ref CellRef) (CellRef, bool) {
		switch {
		case ref.Row == row:
			return ref, false
		case ref.Row > row:
			ref.Row--
		}
		return ref, true
	})
	return nil
}

// RemoveColumn deletes a column and shifts the cells of later columns left by one.
func (m *Matrix) RemoveColumn(col int) error {
	if col < 0 || col >= len(m.columns) {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("column %d", col))
	}
	m.columns = append(m.columns[:col], m.columns[col+1:]...)
	m.reindex(func(ref CellRef) (CellRef, bool) {
		switch {
		case ref.Col == col:
			return ref, false
		case ref.Col > col:
			ref.Col--
		}
		return ref, true
	})
	return nil
}

func (m *Matrix) reindex(move func(CellRef) (CellRef, bool)) {
	next := make(map[string]Cell, len(m.cells))
	for k, c := range m.cells {
		ref, err := ParseCellKey(k)
		if err != nil {
			continue
		}
		if ref, keep := move(ref); keep {
			next[ref.Key()] = c
		}
	}
	m.cells = next
}

// RowIndex finds the row carrying label. The hint is checked first; otherwise
// the label must appear exactly once.
func (m *Matrix) RowIndex(label string, hint int) (int, error) {
	return labelIndex(m.rows, label, hint, "row")
}

// ColumnIndex is RowIndex for columns.
func (m *Matrix) ColumnIndex(label string, hint int) (int, error) {
	return labelIndex(m.columns, label, hint, "column")
}

func labelIndex(labels []string, label string, hint int, kind string) (int, error) {
	if hint >= 0 && hint < len(labels) && labels[hint] == label {
		return hint, nil
	}
	found := -1
	for i, l := range labels {
		if l != label {
			continue
		}
		if found >= 0 {
			return -1, pkgerrors.NewConflictError(fmt.Sprintf("%s label %q is ambiguous", kind, label))
		}
		found = i
	}
	if found < 0 {
		return -1, pkgerrors.NewNotFoundError(fmt.Sprintf("%s %q", kind, label))
	}
	return found, nil
}

// RowContents returns the column label and cell content of every filled cell in a row.
func (m *Matrix) RowContents(row int) [][2]string {
	var out [][2]string
	for c, label := range m.columns {
		if cell, ok := m.cells[CellKey(row, c)]; ok && cell.Content != "" {
			out = append(out, [2]string{label, cell.Content})
		}
	}
	return out
}

// ColumnContents returns the row label and cell content of every filled cell in a column.
func (m *Matrix) ColumnContents(col int) [][2]string {
	var out [][2]string
	for r, label := range m.rows {
		if cell, ok := m.cells[CellKey(r, col)]; ok && cell.Content != "" {
			out = append(out, [2]string{label, cell.Content})
		}
	}
	return out
}

// FormatTable renders the matrix as a markdown table for model context.
func (m *Matrix) FormatTable() string {
	var b strings.Builder
	if m.question != "" {
		fmt.Fprintf(&b, "%s\n\n", m.question)
	}
	b.WriteString("| |")
	for _, c := range m.columns {
		fmt.Fprintf(&b, " %s |", flatten(c))
	}
	b.WriteString("\n|---|")
	b.WriteString(strings.Repeat("---|", len(m.columns)))
	for r, row := range m.rows {
		fmt.Fprintf(&b, "\n| %s |", flatten(row))
		for c := range m.columns {
			fmt.Fprintf(&b, " %s |", flatten(m.cells[CellKey(r, c)].Content))
		}
	}
	return b.String()
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	if m == nil {
		return nil
	}
	return &Matrix{
		question: m.question,
		rows:     m.Rows(),
		columns:  m.Columns(),
		cells:    m.Cells(),
	}
}

func (m *Matrix) inRange(row, col int) bool {
	return row >= 0 && row < len(m.rows) && col >= 0 && col < len(m.columns)
}

func flatten(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "\\|")
}
