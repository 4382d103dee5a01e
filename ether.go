package vanet

// ether.go holds the broadcast medium.  Messages collected at the end of a round
// sit in the Ether until they are delivered at the start of the next one

import (
	"math"
)

// NodeType identifies the kind of node that originated a message
type NodeType int

const (
	ObuNode NodeType = iota
	RsuNode
)

var nodeTypeToStr = map[NodeType]string{ObuNode: "OBU", RsuNode: "RSU"}

func (nt NodeType) String() string {
	return nodeTypeToStr[nt]
}

// Message is one beacon in flight.  Coordinate is where the sender claims to be,
// PhyCoord where it actually is.  Only the physical values decide who hears it
type Message struct {
	OriginID   int
	OriginType NodeType
	Coordinate Coordinate   // reported position
	PhyCoord   Coordinate   // true position of the transmitter
	PhyRange   int          // transmission range of the transmitter
	PhyArea    SquareCoords // coverage box computed from PhyCoord and PhyRange
}

// Neighbor is a node heard during the last delivery, at the position it reported
type Neighbor struct {
	ID         int
	Coordinate Coordinate
}

// Ether is the set of messages in flight for the current round
type Ether struct {
	messages []Message
}

// CreateEther is a constructor
func CreateEther() *Ether {
	ether := new(Ether)
	ether.messages = make([]Message, 0)
	return ether
}

// Send puts a message into the Ether
func (ether *Ether) Send(msg Message) {
	ether.messages = append(ether.messages, msg)
}

// Clear drops every message, done at the start of each collection phase
func (ether *Ether) Clear() {
	ether.messages = ether.messages[:0]
}

// Len returns the number of messages in flight
func (ether *Ether) Len() int {
	return len(ether.messages)
}

// Messages returns a copy of the messages in flight, in the order they were sent
func (ether *Ether) Messages() []Message {
	rtn := make([]Message, len(ether.messages))
	copy(rtn, ether.messages)
	return rtn
}

// IsReachable is the exact test: a receiver at rx hears a transmitter at tx
// when their Euclidean distance is at most txRange
func IsReachable(tx Coordinate, txRange int, rx Coordinate) bool {
	return distance(tx, rx) <= float64(txRange)
}

// distance is the Euclidean distance between two cells
func distance(a, b Coordinate) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// FalseNeighborRate measures what reception by coverage-box overlap costs.  Over
// every integer offset between a transmitter with range txRange and a receiver
// with range rxRange whose boxes overlap on an unbounded grid, it returns the
// share that the exact distance test would reject
func FalseNeighborRate(txRange, rxRange int) float64 {
	reach := max(txRange-1, 0) + max(rxRange-1, 0)

	accepted, rejected := 0, 0
	for dx := -reach; dx <= reach; dx++ {
		for dy := -reach; dy <= reach; dy++ {
			accepted += 1
			if !IsReachable(Coordinate{}, txRange, Coordinate{X: dx, Y: dy}) {
				rejected += 1
			}
		}
	}
	return float64(rejected) / float64(accepted)
}
