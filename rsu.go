package vanet

// rsu.go holds the road-side units and the manager that places them and gathers
// what they overhear.  Every delivery appends one round to the observation history
// that detect.go analyzes when the run finishes

import (
	"fmt"
)

// RoadSideUnit is a fixed listener.  Its coverage box never changes
type RoadSideUnit struct {
	id         int
	coordinate Coordinate
	area       SquareCoords

	// OBUs heard in the last delivery, at their reported positions.  Every
	// delivery installs a new list; lists from earlier rounds are never overwritten
	Neighbors []Neighbor
}

// createRoadSideUnit is a constructor
func createRoadSideUnit(id int, coordinate Coordinate, area SquareCoords) *RoadSideUnit {
	rsu := new(RoadSideUnit)
	rsu.id = id
	rsu.coordinate = coordinate
	rsu.area = area
	rsu.Neighbors = make([]Neighbor, 0)
	return rsu
}

// ID returns the RSU's id
func (rsu *RoadSideUnit) ID() int { return rsu.id }

// Coordinate returns where the RSU stands
func (rsu *RoadSideUnit) Coordinate() Coordinate { return rsu.coordinate }

// Area returns the RSU's reception box
func (rsu *RoadSideUnit) Area() SquareCoords { return rsu.area }

func (rsu *RoadSideUnit) String() string {
	return fmt.Sprintf("RSU[%d] at %s", rsu.id, rsu.coordinate)
}

// Sighting is one RSU hearing one OBU's beacon, at the position the OBU reported
type Sighting struct {
	Coordinate Coordinate `json:"coordinate" yaml:"coordinate"`
	RsuID      int        `json:"rsuid" yaml:"rsuid"`
}

// RoundObservations maps the id of every OBU heard in a round to its sightings
type RoundObservations map[int][]Sighting

// RsuManager owns the RSU lattice and the observation history
type RsuManager struct {
	cfg          RsuCfg
	grid         *Grid
	rsus         []*RoadSideUnit
	currentRound int

	// history[r] holds what the RSUs heard in the delivery of round r
	history []RoundObservations
}

// CreateRsuManager is a constructor
func CreateRsuManager(cfg RsuCfg) (*RsuManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rsm := new(RsuManager)
	rsm.cfg = cfg
	rsm.rsus = make([]*RoadSideUnit, 0)
	rsm.history = make([]RoundObservations, 0)
	return rsm, nil
}

// TxRange returns how far RSU beacons carry
func (rsm *RsuManager) TxRange() int { return rsm.cfg.TxRange }

// RxRange returns the RSU reception range
func (rsm *RsuManager) RxRange() int { return rsm.cfg.RxRange }

// Len returns the number of RSUs placed
func (rsm *RsuManager) Len() int { return len(rsm.rsus) }

// Rsus returns the RSUs in id order
func (rsm *RsuManager) Rsus() []*RoadSideUnit { return rsm.rsus }

// History returns the observation history, one entry per delivered round
func (rsm *RsuManager) History() []RoundObservations { return rsm.history }

// SetCurrentRound tells the manager which round is being simulated
func (rsm *RsuManager) SetCurrentRound(round int) {
	rsm.currentRound = round
}

// Rsu returns the RSU with the given id.  An unknown id means a sighting names an RSU that was never placed
func (rsm *RsuManager) Rsu(id int) *RoadSideUnit {
	if id < 0 || id >= len(rsm.rsus) {
		panic(fmt.Errorf("RSU %d does not exist", id))
	}
	return rsm.rsus[id]
}

// create adds an RSU at coordinate and returns it
func (rsm *RsuManager) create(coordinate Coordinate) *RoadSideUnit {
	rsu := createRoadSideUnit(len(rsm.rsus), coordinate, rsm.grid.CoverageBox(coordinate, rsm.cfg.RxRange))
	rsm.rsus = append(rsm.rsus, rsu)
	return rsu
}

// PlaceLattice tiles the grid with RSUs spaced 2*rxRange-1 apart on both axes,
// starting at (rxRange-1, rxRange-1).  When the regular spacing would step off the grid
// while the last row or column placed leaves the far edge out of reach, that row or
// column is repeated on the grid's last index instead
func (rsm *RsuManager) PlaceLattice(grid *Grid) {
	if len(rsm.rsus) > 0 {
		panic(fmt.Errorf("RSU lattice placed twice"))
	}
	rsm.grid = grid

	rng := rsm.cfg.RxRange
	dim := grid.Dimension()
	step := 2*rng - 1
	start := min(rng-1, dim-1)

	x := start
	for x < dim {
		y := start
		for y < dim {
			rsm.create(Coordinate{X: x, Y: y})
			lastY := y
			y += step

			// snap onto the border if the column just placed does not reach it
			if y >= dim && lastY+rng < dim {
				y = dim - 1
			}
		}

		lastX := x
		x += step
		if x >= dim && lastX+rng < dim {
			x = dim - 1
		}
	}

	logger.WithField("rsus", len(rsm.rsus)).Debug("placed RSU lattice")
}

// CollectMessages returns this round's RSU beacons, none unless beacons are switched on
func (rsm *RsuManager) CollectMessages() []Message {
	if !rsm.cfg.Beacon {
		return []Message{}
	}
	messages := make([]Message, 0, len(rsm.rsus))
	for _, rsu := range rsm.rsus {
		msg := Message{
			OriginID:   rsu.id,
			OriginType: RsuNode,
			Coordinate: rsu.coordinate,
			PhyCoord:   rsu.coordinate,
			PhyRange:   rsm.cfg.TxRange,
			PhyArea:    rsm.grid.CoverageBox(rsu.coordinate, rsm.cfg.TxRange),
		}
		messages = append(messages, msg)
	}
	return messages
}

// DeliverMessages replaces every RSU's neighbor list with the OBUs whose beacon
// boxes overlap the RSU's area, then records the round in the observation history
func (rsm *RsuManager) DeliverMessages(messages []Message) {
	for _, rsu := range rsm.rsus {
		rsu.Neighbors = make([]Neighbor, 0)
		for idx := range messages {
			msg := &messages[idx]
			if msg.OriginType != ObuNode {
				continue
			}
			if BoxesOverlap(msg.PhyArea, rsu.area) {
				rsu.Neighbors = append(rsu.Neighbors, Neighbor{ID: msg.OriginID, Coordinate: msg.Coordinate})
			}
		}
	}
	rsm.updateObservations()
}

// updateObservations appends the neighbors every RSU just heard as the history
// entry of the current round.  The history must hold exactly the earlier rounds;
// anything else means deliveries and round numbering fell out of step
func (rsm *RsuManager) updateObservations() {
	if len(rsm.history) != rsm.currentRound {
		panic(fmt.Errorf("observations for round %d appended to a history of %d rounds",
			rsm.currentRound, len(rsm.history)))
	}

	roundData := make(RoundObservations)
	for _, rsu := range rsm.rsus {
		heard := make(map[int]bool)
		for _, nbr := range rsu.Neighbors {
			// one sighting per OBU per RSU
			if heard[nbr.ID] {
				continue
			}
			heard[nbr.ID] = true
			roundData[nbr.ID] = append(roundData[nbr.ID], Sighting{Coordinate: nbr.Coordinate, RsuID: rsu.id})
		}
	}
	rsm.history = append(rsm.history, roundData)
}
