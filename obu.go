package vanet

// obu.go holds the on-board units and the manager that owns them.  The manager
// creates OBUs (deciding at creation which ones are faulty), collects their beacons
// at the end of a round, and delivers the previous round's beacons to them

import (
	"fmt"

	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
)

// spoofAttempts bounds the rejection sampling of a spoofed coordinate before
// the manager falls back to enumerating the qualifying cells
const spoofAttempts = 64

// OnBoardUnit is a vehicle.  Its faulty flag is ground truth, fixed at creation,
// and only used to score the detector
type OnBoardUnit struct {
	id             int
	coordinate     Coordinate
	commsRange     int
	txFailureRate  float64
	gpsFailureRate float64
	faulty         bool

	// OBUs heard in the last delivery, at their reported positions.  Every
	// delivery installs new lists here and in Rsus; earlier lists are never overwritten
	Neighbors []Neighbor

	// RSUs whose beacons were heard in the last delivery
	Rsus []Neighbor
}

// createOnBoardUnit is a constructor
func createOnBoardUnit(id int, coordinate Coordinate, commsRange int, txFailureRate, gpsFailureRate float64,
	faulty bool) *OnBoardUnit {
	obu := new(OnBoardUnit)
	obu.id = id
	obu.coordinate = coordinate
	obu.commsRange = commsRange
	obu.txFailureRate = txFailureRate
	obu.gpsFailureRate = gpsFailureRate
	obu.faulty = faulty
	obu.Neighbors = make([]Neighbor, 0)
	obu.Rsus = make([]Neighbor, 0)
	return obu
}

// ID returns the OBU's id
func (obu *OnBoardUnit) ID() int { return obu.id }

// Coordinate returns the OBU's true position
func (obu *OnBoardUnit) Coordinate() Coordinate { return obu.coordinate }

// CommsRange returns how far the OBU's beacons carry
func (obu *OnBoardUnit) CommsRange() int { return obu.commsRange }

// TxFailureRate returns the probability that a beacon is not sent
func (obu *OnBoardUnit) TxFailureRate() float64 { return obu.txFailureRate }

// GpsFailureRate returns the probability that a sent beacon reports a false position
func (obu *OnBoardUnit) GpsFailureRate() float64 { return obu.gpsFailureRate }

// IsFaulty reports the ground truth
func (obu *OnBoardUnit) IsFaulty() bool { return obu.faulty }

func (obu *OnBoardUnit) String() string {
	return fmt.Sprintf("OBU[%d] at %s faulty=%t", obu.id, obu.coordinate, obu.faulty)
}

// receive records a delivered message, ignoring the OBU's own beacon
func (obu *OnBoardUnit) receive(msg *Message) {
	switch msg.OriginType {
	case ObuNode:
		if msg.OriginID == obu.id {
			return
		}
		obu.Neighbors = append(obu.Neighbors, Neighbor{ID: msg.OriginID, Coordinate: msg.Coordinate})
	case RsuNode:
		obu.Rsus = append(obu.Rsus, Neighbor{ID: msg.OriginID, Coordinate: msg.Coordinate})
	}
}

// clearNeighbors starts both neighbor lists afresh, leaving lists handed out earlier untouched
func (obu *OnBoardUnit) clearNeighbors() {
	obu.Neighbors = make([]Neighbor, 0)
	obu.Rsus = make([]Neighbor, 0)
}

// ObuStats counts beacon attempts and outcomes over a run
type ObuStats struct {
	TotalTx          int `json:"totaltx" yaml:"totaltx"`
	TotalTxErrors    int `json:"totaltxerrors" yaml:"totaltxerrors"`
	NormalTx         int `json:"normaltx" yaml:"normaltx"`
	NormalTxErrors   int `json:"normaltxerrors" yaml:"normaltxerrors"`
	FaultyTx         int `json:"faultytx" yaml:"faultytx"`
	FaultyTxErrors   int `json:"faultytxerrors" yaml:"faultytxerrors"`
	NormalGpsSpoofed int `json:"normalgpsspoofed" yaml:"normalgpsspoofed"`
	FaultyGpsSpoofed int `json:"faultygpsspoofed" yaml:"faultygpsspoofed"`
}

// errorPct returns errors as a percentage of attempts, 0 when there were none
func errorPct(errors, attempts int) float64 {
	if attempts == 0 {
		return 0.0
	}
	return float64(errors) / float64(attempts) * 100.0
}

// ObuManager owns the OBU population.  OBUs are never removed, so the
// population is a slice indexed by id
type ObuManager struct {
	cfg          ObuCfg
	grid         *Grid
	obus         []*OnBoardUnit
	faultyAdded  int
	currentRound int
	stats        ObuStats

	// the random number generator stream used for failure trials and spoofing
	rngstrm *rngstream.RngStream
}

// CreateObuManager is a constructor.  The grid is used for coverage boxes and spoofing, never mutated
func CreateObuManager(cfg ObuCfg, grid *Grid) (*ObuManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	obm := new(ObuManager)
	obm.cfg = cfg
	obm.grid = grid
	obm.obus = make([]*OnBoardUnit, 0, cfg.MaxObus)
	obm.rngstrm = rngstream.New("obus")
	return obm, nil
}

// NextID returns the id the next created OBU will get
func (obm *ObuManager) NextID() int {
	return len(obm.obus)
}

// Len returns the number of OBUs created so far
func (obm *ObuManager) Len() int {
	return len(obm.obus)
}

// Cap returns the population cap
func (obm *ObuManager) Cap() int {
	return obm.cfg.MaxObus
}

// CommsRange returns the range every OBU transmits with
func (obm *ObuManager) CommsRange() int {
	return obm.cfg.CommsRange
}

// SetCurrentRound tells the manager which round is being simulated
func (obm *ObuManager) SetCurrentRound(round int) {
	obm.currentRound = round
}

// Stats returns the beacon counters gathered so far
func (obm *ObuManager) Stats() ObuStats {
	return obm.stats
}

// Obu returns the OBU with the given id.  Asking for an id that was never
// created means the caller lost track of the population
func (obm *ObuManager) Obu(id int) *OnBoardUnit {
	if id < 0 || id >= len(obm.obus) {
		panic(fmt.Errorf("OBU %d does not exist", id))
	}
	return obm.obus[id]
}

// Obus returns the population in id order
func (obm *ObuManager) Obus() []*OnBoardUnit {
	return obm.obus
}

// FaultyCount returns how many of the created OBUs are faulty
func (obm *ObuManager) FaultyCount() int {
	return obm.faultyAdded
}

// Create adds an OBU at coordinate and returns its id.  The second return is
// false, and nothing is created, once the population cap is reached
func (obm *ObuManager) Create(coordinate Coordinate) (int, bool) {
	if len(obm.obus) >= obm.cfg.MaxObus {
		return 0, false
	}
	id := len(obm.obus)

	// every (cap / faulty count)-th OBU created is faulty, until the faulty count is met
	txFailureRate := obm.cfg.TxBaseFailureRate
	gpsFailureRate := obm.cfg.GpsFailureRate
	faulty := false
	if obm.cfg.FaultyObuCount > 0 && obm.faultyAdded < obm.cfg.FaultyObuCount {
		every := obm.cfg.MaxObus / obm.cfg.FaultyObuCount
		if (id+1)%every == 0 {
			txFailureRate = obm.cfg.TxFaultyFailureRate
			gpsFailureRate = obm.cfg.GpsFaultyFailureRate
			faulty = true
			obm.faultyAdded += 1
		}
	}

	obu := createOnBoardUnit(id, coordinate, obm.cfg.CommsRange, txFailureRate, gpsFailureRate, faulty)
	obm.obus = append(obm.obus, obu)
	return id, true
}

// trial returns true with probability p
func (obm *ObuManager) trial(p float64) bool {
	return obm.rngstrm.RandU01() < p
}

// spoofCoordinate draws a cell uniformly from those farther than rng+2 from truth,
// a position the RSUs can tell is out of the true reach.  The second return is
// false when the grid has no such cell
func (obm *ObuManager) spoofCoordinate(truth Coordinate, rng int) (Coordinate, bool) {
	limit := float64(rng + 2)
	last := obm.grid.Dimension() - 1

	for attempt := 0; attempt < spoofAttempts; attempt++ {
		c := Coordinate{X: obm.rngstrm.RandInt(0, last), Y: obm.rngstrm.RandInt(0, last)}
		if distance(c, truth) > limit {
			return c, true
		}
	}

	// the qualifying region is small, enumerate it
	candidates := []Coordinate{}
	for x := 0; x <= last; x++ {
		for y := 0; y <= last; y++ {
			c := Coordinate{X: x, Y: y}
			if distance(c, truth) > limit {
				candidates = append(candidates, c)
			}
		}
	}
	if len(candidates) == 0 {
		return truth, false
	}
	return candidates[obm.rngstrm.RandInt(0, len(candidates)-1)], true
}

// CollectMessages asks every OBU, in id order, for this round's beacon.  A failed
// transmission trial means no beacon; a failed GPS trial means the beacon reports
// a spoofed position while still being sent from the true one
func (obm *ObuManager) CollectMessages() []Message {
	messages := make([]Message, 0, len(obm.obus))

	for _, obu := range obm.obus {
		obm.stats.TotalTx += 1
		if obu.faulty {
			obm.stats.FaultyTx += 1
		} else {
			obm.stats.NormalTx += 1
		}

		if obm.trial(obu.txFailureRate) {
			obm.stats.TotalTxErrors += 1
			if obu.faulty {
				obm.stats.FaultyTxErrors += 1
			} else {
				obm.stats.NormalTxErrors += 1
			}
			continue
		}

		reported := obu.coordinate
		if obm.trial(obu.gpsFailureRate) {
			spoofed, ok := obm.spoofCoordinate(obu.coordinate, obu.commsRange)
			if ok {
				reported = spoofed
				if obu.faulty {
					obm.stats.FaultyGpsSpoofed += 1
				} else {
					obm.stats.NormalGpsSpoofed += 1
				}
			}
		}

		msg := Message{
			OriginID:   obu.id,
			OriginType: ObuNode,
			Coordinate: reported,
			PhyCoord:   obu.coordinate,
			PhyRange:   obu.commsRange,
			PhyArea:    obm.grid.CoverageBox(obu.coordinate, obu.commsRange),
		}
		messages = append(messages, msg)
	}

	logger.WithFields(logrus.Fields{"round": obm.currentRound, "sent": len(messages),
		"obus": len(obm.obus)}).Debug("collected OBU beacons")
	return messages
}

// DeliverMessages replaces every OBU's neighbor lists with the senders of the
// messages whose coverage box overlaps the OBU's own
func (obm *ObuManager) DeliverMessages(messages []Message) {
	for _, obu := range obm.obus {
		obu.clearNeighbors()
		area := obm.grid.CoverageBox(obu.coordinate, obu.commsRange)

		for idx := range messages {
			if BoxesOverlap(messages[idx].PhyArea, area) {
				obu.receive(&messages[idx])
			}
		}
	}
}

// LogStats writes the beacon counters to the package logger
func (obm *ObuManager) LogStats() {
	st := obm.stats
	logger.Infof("total TX: %d / errors %d (%.2f%%)", st.TotalTx, st.TotalTxErrors, errorPct(st.TotalTxErrors, st.TotalTx))
	logger.Infof("normal OBU TX: %d / errors %d (%.2f%%), spoofed %d", st.NormalTx, st.NormalTxErrors,
		errorPct(st.NormalTxErrors, st.NormalTx), st.NormalGpsSpoofed)
	logger.Infof("faulty OBU TX: %d / errors %d (%.2f%%), spoofed %d", st.FaultyTx, st.FaultyTxErrors,
		errorPct(st.FaultyTxErrors, st.FaultyTx), st.FaultyGpsSpoofed)
}
