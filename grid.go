package vanet

// grid.go holds the street lattice the OBUs drive on: which cells are streets,
// which cells follow a street cell under the one-way lane rule, and which OBU
// (if any) occupies each cell

import (
	"fmt"
)

// noOccupant marks a cell that no OBU is standing on
const noOccupant = -1

// Coordinate is a (row, column) cell index into the grid.  X is the row, Y the column
type Coordinate struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// SquareCoords is an axis-aligned box, inclusive on all four sides.  It is
// the cheap stand-in for the circular footprint of a transmission
type SquareCoords struct {
	X1, Y1, X2, Y2 int
}

// cellState is the state of one grid cell
type cellState struct {
	id       int          // unique id, row-major
	isStreet bool         // cell lies on a row or column street
	occupant int          // id of the OBU standing here, or noOccupant
	next     []Coordinate // legal successor cells, fixed once the lane graph is computed
}

// Grid is the square lattice of blocks separated by one-cell-wide streets
type Grid struct {
	blockSize       int
	blocksPerStreet int
	dimension       int
	streetCells     int
	occupied        int
	lanesComputed   bool
	cells           [][]cellState
}

// CreateGrid builds a grid of blocksPerStreet x blocksPerStreet square blocks,
// each blockSize cells on a side, with streets on every side of every block
func CreateGrid(blocksPerStreet, blockSize int) (*Grid, error) {
	if blocksPerStreet < 1 {
		return nil, fmt.Errorf("%w: blocks per street must be positive, got %d", ErrConfig, blocksPerStreet)
	}
	if blockSize < 1 {
		return nil, fmt.Errorf("%w: block size must be positive, got %d", ErrConfig, blockSize)
	}

	grid := new(Grid)
	grid.blockSize = blockSize
	grid.blocksPerStreet = blocksPerStreet

	// every block contributes blockSize cells, and every block is followed by a street,
	// plus the street closing the far edge
	grid.dimension = blocksPerStreet*blockSize + blocksPerStreet + 1

	id := 0
	grid.cells = make([][]cellState, grid.dimension)
	for i := 0; i < grid.dimension; i++ {
		grid.cells[i] = make([]cellState, grid.dimension)
		for j := 0; j < grid.dimension; j++ {
			street := grid.isStreetIdx(i) || grid.isStreetIdx(j)
			grid.cells[i][j] = cellState{id: id, isStreet: street, occupant: noOccupant}
			if street {
				grid.streetCells += 1
			}
			id += 1
		}
	}
	return grid, nil
}

// Dimension returns the number of cells on one side of the grid
func (grid *Grid) Dimension() int {
	return grid.dimension
}

// BlockSize returns the number of cells on one side of a block
func (grid *Grid) BlockSize() int {
	return grid.blockSize
}

// StreetCells returns the number of cells that are streets
func (grid *Grid) StreetCells() int {
	return grid.streetCells
}

// OccupiedCount returns the number of cells holding an OBU
func (grid *Grid) OccupiedCount() int {
	return grid.occupied
}

// InBounds reports whether c addresses a cell of the grid
func (grid *Grid) InBounds(c Coordinate) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < grid.dimension && c.Y < grid.dimension
}

// cell returns the state of the cell at c.  Addressing outside the grid
// means some phase built a coordinate it never should have
func (grid *Grid) cell(c Coordinate) *cellState {
	if !grid.InBounds(c) {
		panic(fmt.Errorf("coordinate %s outside grid of dimension %d", c, grid.dimension))
	}
	return &grid.cells[c.X][c.Y]
}

// isStreetIdx is true when row or column index i is a street
func (grid *Grid) isStreetIdx(i int) bool {
	return i%(grid.blockSize+1) == 0
}

// IsStreet reports whether the cell at c is a street cell
func (grid *Grid) IsStreet(c Coordinate) bool {
	return grid.cell(c).isStreet
}

// IsCrossing reports whether both the row and the column of c are streets
func (grid *Grid) IsCrossing(c Coordinate) bool {
	grid.cell(c)
	return grid.isStreetIdx(c.X) && grid.isStreetIdx(c.Y)
}

// CellID returns the unique row-major id of the cell at c
func (grid *Grid) CellID(c Coordinate) int {
	return grid.cell(c).id
}

// Occupant returns the id of the OBU at c and whether there is one
func (grid *Grid) Occupant(c Coordinate) (int, bool) {
	occ := grid.cell(c).occupant
	return occ, occ != noOccupant
}

// streetOrdinal is the position of street index i among the streets, 0 for the first
func (grid *Grid) streetOrdinal(i int) int {
	return i / (grid.blockSize + 1)
}

// rowFlowsFromZero gives the sense of the row street at index row:
// true means traffic moves toward increasing column
func (grid *Grid) rowFlowsFromZero(row int) bool {
	return grid.streetOrdinal(row)%2 == 0
}

// colFlowsFromZero gives the sense of the column street at index col:
// true means traffic moves toward increasing row.  It is the opposite
// of the row street carrying the same ordinal
func (grid *Grid) colFlowsFromZero(col int) bool {
	return grid.streetOrdinal(col)%2 == 1
}

// calculateNext computes the legal successors of a street cell under the lane rule
func (grid *Grid) calculateNext(c Coordinate) []Coordinate {
	next := make([]Coordinate, 0, 2)

	// movement along the row street
	if grid.isStreetIdx(c.X) {
		if grid.rowFlowsFromZero(c.X) {
			if c.Y < grid.dimension-1 {
				next = append(next, Coordinate{X: c.X, Y: c.Y + 1})
			}
		} else if c.Y > 0 {
			next = append(next, Coordinate{X: c.X, Y: c.Y - 1})
		}
	}

	// movement along the column street
	if grid.isStreetIdx(c.Y) {
		if grid.colFlowsFromZero(c.Y) {
			if c.X < grid.dimension-1 {
				next = append(next, Coordinate{X: c.X + 1, Y: c.Y})
			}
		} else if c.X > 0 {
			next = append(next, Coordinate{X: c.X - 1, Y: c.Y})
		}
	}
	return next
}

// ComputeLaneGraph stores the successor list of every street cell.  Called once
// when the simulation is initialized; later calls change nothing
func (grid *Grid) ComputeLaneGraph() {
	if grid.lanesComputed {
		return
	}
	for i := 0; i < grid.dimension; i++ {
		for j := 0; j < grid.dimension; j++ {
			if grid.cells[i][j].isStreet {
				grid.cells[i][j].next = grid.calculateNext(Coordinate{X: i, Y: j})
			}
		}
	}
	grid.lanesComputed = true
}

// Successors returns the precomputed successors of c, occupied or not
func (grid *Grid) Successors(c Coordinate) []Coordinate {
	if !grid.lanesComputed {
		panic(fmt.Errorf("lane graph requested before ComputeLaneGraph"))
	}
	next := grid.cell(c).next
	rtn := make([]Coordinate, len(next))
	copy(rtn, next)
	return rtn
}

// PossibleMoves returns the successors of c that no OBU occupies
func (grid *Grid) PossibleMoves(c Coordinate) []Coordinate {
	if !grid.lanesComputed {
		panic(fmt.Errorf("moves requested before ComputeLaneGraph"))
	}
	moves := make([]Coordinate, 0, 2)
	for _, nxt := range grid.cell(c).next {
		if grid.cell(nxt).occupant == noOccupant {
			moves = append(moves, nxt)
		}
	}
	return moves
}

// MoveOccupant moves the OBU standing on from onto the empty cell to
func (grid *Grid) MoveOccupant(from, to Coordinate) {
	src := grid.cell(from)
	dst := grid.cell(to)
	if src.occupant == noOccupant {
		panic(fmt.Errorf("move from unoccupied cell %s", from))
	}
	if dst.occupant != noOccupant {
		panic(fmt.Errorf("move of OBU %d onto cell %s held by OBU %d", src.occupant, to, dst.occupant))
	}
	dst.occupant, src.occupant = src.occupant, noOccupant
}

// place puts OBU id on the empty cell at c
func (grid *Grid) place(c Coordinate, id int) {
	cs := grid.cell(c)
	if cs.occupant != noOccupant {
		panic(fmt.Errorf("insertion of OBU %d onto cell %s held by OBU %d", id, c, cs.occupant))
	}
	cs.occupant = id
	grid.occupied += 1
}

// laneEntries returns the cells through which traffic enters the street
// at index s: first the column street's entry, then the row street's
func (grid *Grid) laneEntries(s int) [2]Coordinate {
	last := grid.dimension - 1

	colEntry := Coordinate{X: last, Y: s}
	if grid.colFlowsFromZero(s) {
		colEntry.X = 0
	}

	rowEntry := Coordinate{X: s, Y: last}
	if grid.rowFlowsFromZero(s) {
		rowEntry.Y = 0
	}
	return [2]Coordinate{colEntry, rowEntry}
}

// InsertAtFirstFreeLaneEntry places OBU id on the first free lane entry cell,
// scanning streets in ascending index order.  The second return is false when
// every lane entry is occupied
func (grid *Grid) InsertAtFirstFreeLaneEntry(id int) (Coordinate, bool) {
	for s := 0; s < grid.dimension; s += grid.blockSize + 1 {
		for _, entry := range grid.laneEntries(s) {
			if grid.cell(entry).occupant == noOccupant {
				grid.place(entry, id)
				return entry, true
			}
		}
	}
	return Coordinate{}, false
}

// CoverageBox returns the box of half-width rng-1 around c, clamped to the grid
func (grid *Grid) CoverageBox(c Coordinate, rng int) SquareCoords {
	half := rng - 1
	if half < 0 {
		half = 0
	}
	last := grid.dimension - 1
	return SquareCoords{
		X1: max(c.X-half, 0),
		Y1: max(c.Y-half, 0),
		X2: min(c.X+half, last),
		Y2: min(c.Y+half, last),
	}
}

// BoxesOverlap is true when boxes a and b share at least one cell
func BoxesOverlap(a, b SquareCoords) bool {
	// separated along the row axis
	if a.X2 < b.X1 || b.X2 < a.X1 {
		return false
	}
	// separated along the column axis
	if a.Y2 < b.Y1 || b.Y2 < a.Y1 {
		return false
	}
	return true
}
