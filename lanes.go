package vanet

// lanes.go converts the grid's one-way successor lists into a graph the gonum
// graph packages can analyze.  It answers questions the simulator asks once,
// at initialization: which street cells are dead ends, how many strongly connected
// pieces the street network falls into, and what the shortest lane route between
// two cells is.

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// LaneGraph is the directed graph of street cells, with an edge from every
// street cell to each of its lane successors.  Node ids are grid cell ids
type LaneGraph struct {
	grid  *Grid
	graph *simple.DirectedGraph

	// cachedSP saves shortest path trees, keyed by the cell id of the tree's root
	cachedSP map[int64]path.Shortest
}

// CreateLaneGraph builds the graph from a grid whose lane graph has been computed
func CreateLaneGraph(grid *Grid) *LaneGraph {
	if !grid.lanesComputed {
		panic(fmt.Errorf("lane graph built before ComputeLaneGraph"))
	}
	lg := new(LaneGraph)
	lg.grid = grid
	lg.graph = simple.NewDirectedGraph()
	lg.cachedSP = make(map[int64]path.Shortest)

	// every street cell is a node, even one with no successors
	for i := 0; i < grid.dimension; i++ {
		for j := 0; j < grid.dimension; j++ {
			if grid.cells[i][j].isStreet {
				lg.graph.AddNode(simple.Node(grid.cells[i][j].id))
			}
		}
	}

	// one edge per lane successor
	for i := 0; i < grid.dimension; i++ {
		for j := 0; j < grid.dimension; j++ {
			cs := grid.cells[i][j]
			for _, nxt := range cs.next {
				nxtID := grid.cells[nxt.X][nxt.Y].id
				lg.graph.SetEdge(simple.Edge{F: simple.Node(cs.id), T: simple.Node(nxtID)})
			}
		}
	}
	return lg
}

// coordOf maps a graph node back to the cell it stands for
func (lg *LaneGraph) coordOf(node graph.Node) Coordinate {
	id := int(node.ID())
	return Coordinate{X: id / lg.grid.dimension, Y: id % lg.grid.dimension}
}

// Nodes returns the number of street cells in the graph
func (lg *LaneGraph) Nodes() int {
	return lg.graph.Nodes().Len()
}

// Sinks returns the street cells an OBU can enter but never leave, in cell id order
func (lg *LaneGraph) Sinks() []Coordinate {
	sinks := []Coordinate{}
	for i := 0; i < lg.grid.dimension; i++ {
		for j := 0; j < lg.grid.dimension; j++ {
			cs := lg.grid.cells[i][j]
			if !cs.isStreet {
				continue
			}
			if lg.graph.From(int64(cs.id)).Len() == 0 {
				sinks = append(sinks, Coordinate{X: i, Y: j})
			}
		}
	}
	return sinks
}

// Components returns the number of strongly connected components of the street network
func (lg *LaneGraph) Components() int {
	return len(topo.TarjanSCC(lg.graph))
}

// getSPTree returns the shortest path tree rooted at cell id from, computing and caching it if needed
func (lg *LaneGraph) getSPTree(from int64) path.Shortest {
	spTree, present := lg.cachedSP[from]
	if present {
		return spTree
	}
	spTree = path.DijkstraFrom(simple.Node(from), lg.graph)
	lg.cachedSP[from] = spTree
	return spTree
}

// Reachable returns the number of street cells, from itself included, that an OBU starting at c can reach
func (lg *LaneGraph) Reachable(c Coordinate) int {
	if !lg.grid.IsStreet(c) {
		return 0
	}
	spTree := lg.getSPTree(int64(lg.grid.CellID(c)))

	reached := 0
	nodes := lg.graph.Nodes()
	for nodes.Next() {
		_, weight := spTree.To(nodes.Node().ID())
		if weight <= float64(lg.grid.streetCells) {
			reached += 1
		}
	}
	return reached
}

// Route returns the cells of a shortest lane route from src to dst, both
// included.  The result is nil when dst cannot be reached from src
func (lg *LaneGraph) Route(src, dst Coordinate) []Coordinate {
	if !lg.grid.IsStreet(src) || !lg.grid.IsStreet(dst) {
		return nil
	}
	spTree := lg.getSPTree(int64(lg.grid.CellID(src)))
	nodeSeq, _ := spTree.To(int64(lg.grid.CellID(dst)))
	if len(nodeSeq) == 0 {
		return nil
	}
	route := make([]Coordinate, 0, len(nodeSeq))
	for _, node := range nodeSeq {
		route = append(route, lg.coordOf(node))
	}
	return route
}
