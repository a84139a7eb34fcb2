package pty

import "strings"

// cell is one screen position. A wide rune occupies its own cell with
// width 2 and the following cell with width -1.
type cell struct {
	r     rune
	width int8
}

const continuation int8 = -1

type grid struct {
	rows, cols int
	cells      [][]cell
	// wrapped[i] reports that row i soft-wrapped into row i+1
	wrapped []bool
}

func newGrid(rows, cols int) *grid {
	g := &grid{rows: rows, cols: cols}
	g.cells = make([][]cell, rows)
	for i := range g.cells {
		g.cells[i] = make([]cell, cols)
	}
	g.wrapped = make([]bool, rows)
	return g
}

func (g *grid) resize(rows, cols int) {
	cells := make([][]cell, rows)
	wrapped := make([]bool, rows)
	for i := range cells {
		cells[i] = make([]cell, cols)
		if i < g.rows {
			copy(cells[i], g.cells[i])
			wrapped[i] = g.wrapped[i]
			// A wide rune cut in half at the new edge is dropped
			if cols < g.cols && cols > 0 && cells[i][cols-1].width == 2 {
				cells[i][cols-1] = cell{}
			}
		}
	}
	g.rows, g.cols, g.cells, g.wrapped = rows, cols, cells, wrapped
}

func (g *grid) put(row, col int, r rune, width int) {
	line := g.cells[row]
	g.unsplit(row, col)
	if width == 2 && col+1 < g.cols {
		g.unsplit(row, col+1)
		line[col+1] = cell{width: continuation}
	}
	line[col] = cell{r: r, width: int8(width)}
}

// unsplit blanks the other half of a wide rune about to be overwritten at col
func (g *grid) unsplit(row, col int) {
	line := g.cells[row]
	switch line[col].width {
	case continuation:
		if col > 0 {
			line[col-1] = cell{}
		}
	case 2:
		if col+1 < g.cols {
			line[col+1] = cell{}
		}
	}
}

// clearRow blanks columns [from, to) of row
func (g *grid) clearRow(row, from, to int) {
	from = clamp(from, 0, g.cols)
	to = clamp(to, 0, g.cols)
	if from >= to {
		return
	}
	if from > 0 {
		g.unsplit(row, from)
	}
	if to < g.cols {
		g.unsplit(row, to-1)
	}
	line := g.cells[row]
	for c := from; c < to; c++ {
		line[c] = cell{}
	}
}

func (g *grid) clearAll() {
	for r := 0; r < g.rows; r++ {
		g.clearRow(r, 0, g.cols)
		g.wrapped[r] = false
	}
}

func (g *grid) scrollUp(n int) {
	n = clamp(n, 0, g.rows)
	if n == 0 {
		return
	}
	recycled := append([][]cell(nil), g.cells[:n]...)
	copy(g.cells, g.cells[n:])
	copy(g.wrapped, g.wrapped[n:])
	for i, line := range recycled {
		for c := range line {
			line[c] = cell{}
		}
		g.cells[g.rows-n+i] = line
		g.wrapped[g.rows-n+i] = false
	}
}

func (g *grid) scrollDown(n int) {
	g.insertLines(0, n)
}

// insertLines shifts rows from row downward by n, dropping the bottom rows
func (g *grid) insertLines(row, n int) {
	n = clamp(n, 0, g.rows-row)
	if n == 0 {
		return
	}
	dropped := make([][]cell, n)
	copy(dropped, g.cells[g.rows-n:])
	copy(g.cells[row+n:], g.cells[row:g.rows-n])
	copy(g.wrapped[row+n:], g.wrapped[row:g.rows-n])
	for i, line := range dropped {
		for c := range line {
			line[c] = cell{}
		}
		g.cells[row+i] = line
		g.wrapped[row+i] = false
	}
}

// deleteLines removes n rows at row, pulling the rest up
func (g *grid) deleteLines(row, n int) {
	n = clamp(n, 0, g.rows-row)
	if n == 0 {
		return
	}
	removed := make([][]cell, n)
	copy(removed, g.cells[row:row+n])
	copy(g.cells[row:], g.cells[row+n:])
	copy(g.wrapped[row:], g.wrapped[row+n:])
	for i, line := range removed {
		for c := range line {
			line[c] = cell{}
		}
		g.cells[g.rows-n+i] = line
		g.wrapped[g.rows-n+i] = false
	}
}

// insertCells shifts the row right from col by n blank cells
func (g *grid) insertCells(row, col, n int) {
	n = clamp(n, 0, g.cols-col)
	if n == 0 {
		return
	}
	g.unsplit(row, col)
	line := g.cells[row]
	copy(line[col+n:], line[col:g.cols-n])
	for c := col; c < col+n; c++ {
		line[c] = cell{}
	}
	if line[g.cols-1].width == 2 {
		line[g.cols-1] = cell{}
	}
}

// deleteCells removes n cells at col, shifting the rest of the row left
func (g *grid) deleteCells(row, col, n int) {
	n = clamp(n, 0, g.cols-col)
	if n == 0 {
		return
	}
	g.unsplit(row, col)
	g.unsplit(row, col+n-1)
	line := g.cells[row]
	copy(line[col:], line[col+n:])
	for c := g.cols - n; c < g.cols; c++ {
		line[c] = cell{}
	}
}

func (g *grid) text(row int) string {
	var sb strings.Builder
	for _, c := range g.cells[row] {
		switch {
		case c.width == continuation:
		case c.r == 0:
			sb.WriteByte(' ')
		default:
			sb.WriteRune(c.r)
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
