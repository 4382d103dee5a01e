package vanet

// simulator.go drives an experiment.  Init builds the static world: the lane
// successors, the RSU lattice, and the lane graph diagnostics.  Run then advances
// the world one round per event of an evtm event manager, each round going through
// the same five phases in the same order:
//
//	deliver the previous round's beacons -> move OBUs -> top up the population ->
//	advance the round counter -> collect this round's beacons
//
// Beacons collected at the end of round N are delivered at the start of round N+1;
// the RSU observation history depends on that one-round offset.

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// roundDuration is the virtual time between the events of consecutive rounds, in seconds
const roundDuration = 1.0

// ConfusionMatrix compares the detector's verdicts to the OBUs' ground truth
type ConfusionMatrix struct {
	TruePositive  int `json:"truepositive" yaml:"truepositive"`
	FalsePositive int `json:"falsepositive" yaml:"falsepositive"`
	TrueNegative  int `json:"truenegative" yaml:"truenegative"`
	FalseNegative int `json:"falsenegative" yaml:"falsenegative"`
}

// ratio divides, reporting 0 for an empty denominator
func ratio(num, denom int) float64 {
	if denom == 0 {
		return 0.0
	}
	return float64(num) / float64(denom)
}

// Total is the number of OBUs judged
func (cm ConfusionMatrix) Total() int {
	return cm.TruePositive + cm.FalsePositive + cm.TrueNegative + cm.FalseNegative
}

// DetectionRate is the share of OBUs judged correctly
func (cm ConfusionMatrix) DetectionRate() float64 {
	return ratio(cm.TruePositive+cm.TrueNegative, cm.Total())
}

// FalsePositiveRate is the share of healthy OBUs flagged
func (cm ConfusionMatrix) FalsePositiveRate() float64 {
	return ratio(cm.FalsePositive, cm.FalsePositive+cm.TrueNegative)
}

// FalseNegativeRate is the share of faulty OBUs missed
func (cm ConfusionMatrix) FalseNegativeRate() float64 {
	return ratio(cm.FalseNegative, cm.FalseNegative+cm.TruePositive)
}

// Report is the outcome of a run
type Report struct {
	RunID     string          `json:"runid" yaml:"runid"`
	Name      string          `json:"name" yaml:"name"`
	Rounds    int             `json:"rounds" yaml:"rounds"`
	Obus      int             `json:"obus" yaml:"obus"`
	Rsus      int             `json:"rsus" yaml:"rsus"`
	Flagged   []int           `json:"flagged" yaml:"flagged"`
	Ledger    []LedgerRecord  `json:"ledger" yaml:"ledger"`
	Summary   LedgerSummary   `json:"summary" yaml:"summary"`
	Confusion ConfusionMatrix `json:"confusion" yaml:"confusion"`
	ObuStats  ObuStats        `json:"obustats" yaml:"obustats"`
}

// Log writes the report's figures to the package logger
func (rpt *Report) Log() {
	entry := logger.WithFields(logrus.Fields{"run": rpt.RunID, "round": rpt.Rounds})
	cm := rpt.Confusion
	entry.Infof("OBUs %d, RSUs %d, observed %d, flagged %d", rpt.Obus, rpt.Rsus, rpt.Summary.Observed, len(rpt.Flagged))
	entry.Infof("true positive %d, false positive %d, true negative %d, false negative %d",
		cm.TruePositive, cm.FalsePositive, cm.TrueNegative, cm.FalseNegative)
	entry.Infof("detection rate %g, false positive rate %g, false negative rate %g",
		cm.DetectionRate(), cm.FalsePositiveRate(), cm.FalseNegativeRate())
	entry.Infof("reputation red %d, yellow %d, green %d", rpt.Summary.Red, rpt.Summary.Yellow, rpt.Summary.Green)
}

// Simulator owns the world of an experiment and runs it
type Simulator struct {
	cfg   *SimCfg
	runID string

	grid   *Grid
	lanes  *LaneGraph
	ether  *Ether
	obm    *ObuManager
	rsm    *RsuManager
	evtMgr *evtm.EventManager
	tm     *TraceManager
	ledger LedgerWriter

	round       int
	initialized bool

	// the random number generator stream used to choose moves
	rngstrm *rngstream.RngStream

	log *logrus.Entry
}

// CreateSimulator validates the description and builds an idle simulator from it
func CreateSimulator(cfg *SimCfg) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	grid, err := CreateGrid(cfg.Grid.BlocksPerStreet, cfg.Grid.BlockSize)
	if err != nil {
		return nil, err
	}
	obm, err := CreateObuManager(cfg.Obu, grid)
	if err != nil {
		return nil, err
	}
	rsm, err := CreateRsuManager(cfg.Rsu)
	if err != nil {
		return nil, err
	}

	sim := new(Simulator)
	sim.cfg = cfg
	sim.runID = uuid.NewString()
	sim.grid = grid
	sim.obm = obm
	sim.rsm = rsm
	sim.ether = CreateEther()
	sim.evtMgr = evtm.New()
	sim.rngstrm = rngstream.New("moves")
	sim.tm = CreateTraceManager(sim.runID, len(cfg.Run.TraceFile) > 0)
	if len(cfg.Run.LedgerFile) > 0 {
		sim.ledger = &CSVLedger{Filename: cfg.Run.LedgerFile}
	}
	sim.log = logger.WithFields(logrus.Fields{"run": sim.runID, "name": cfg.Name})
	return sim, nil
}

// RunID returns the unique id of this run
func (sim *Simulator) RunID() string { return sim.runID }

// Round returns the number of rounds completed
func (sim *Simulator) Round() int { return sim.round }

// Grid returns the simulator's grid
func (sim *Simulator) Grid() *Grid { return sim.grid }

// Lanes returns the lane graph, nil before Init
func (sim *Simulator) Lanes() *LaneGraph { return sim.lanes }

// ObuManager returns the OBU population manager
func (sim *Simulator) ObuManager() *ObuManager { return sim.obm }

// RsuManager returns the RSU population manager
func (sim *Simulator) RsuManager() *RsuManager { return sim.rsm }

// Trace returns the trace manager
func (sim *Simulator) Trace() *TraceManager { return sim.tm }

// SetLedgerWriter replaces the ledger collaborator; nil switches the ledger off
func (sim *Simulator) SetLedgerWriter(lw LedgerWriter) {
	sim.ledger = lw
}

// Init computes the lane successors, places the RSU lattice and reports on the
// street network.  Calling it twice is an error of the caller
func (sim *Simulator) Init() {
	if sim.initialized {
		panic(fmt.Errorf("simulator initialized twice"))
	}
	sim.grid.ComputeLaneGraph()
	sim.rsm.PlaceLattice(sim.grid)
	sim.lanes = CreateLaneGraph(sim.grid)

	for _, rsu := range sim.rsm.Rsus() {
		sim.tm.AddRsu(rsu.ID(), rsu.Coordinate())
	}

	sim.round = 0
	sim.rsm.SetCurrentRound(0)
	sim.obm.SetCurrentRound(0)
	sim.initialized = true

	sim.log.WithFields(logrus.Fields{"rsus": sim.rsm.Len(), "obus": sim.obm.Cap()}).Info("simulation initialized")
	sinks := sim.lanes.Sinks()
	sim.log.Infof("grid dimension %d, %d street cells, %d lane components, %d dead ends",
		sim.grid.Dimension(), sim.grid.StreetCells(), sim.lanes.Components(), len(sinks))
	if len(sinks) > 0 {
		// OBUs reaching a dead end never leave it, and the lane behind it backs up
		sim.log.WithField("sinks", sinks).Warn("street network has dead ends, traffic will jam behind them")
	}
	sim.log.Infof("box reception admits %.2f%% false neighbors between OBUs and RSUs",
		100.0*FalseNeighborRate(sim.cfg.Obu.CommsRange, sim.cfg.Rsu.RxRange))
}

// collectMessages refills the ether with this round's beacons, OBUs first
func (sim *Simulator) collectMessages() {
	sim.ether.Clear()
	for _, msg := range sim.obm.CollectMessages() {
		sim.ether.Send(msg)
	}
	for _, msg := range sim.rsm.CollectMessages() {
		sim.ether.Send(msg)
	}
}

// deliverMessages hands the ether's contents to every OBU and RSU
func (sim *Simulator) deliverMessages() {
	messages := sim.ether.Messages()
	sim.obm.DeliverMessages(messages)
	sim.rsm.DeliverMessages(messages)
}

// moveObus moves every OBU, in id order, to a cell drawn uniformly from its free
// successors.  An OBU with none stays put.  It returns the number of OBUs moved
func (sim *Simulator) moveObus() int {
	moved := 0
	for _, obu := range sim.obm.Obus() {
		moves := sim.grid.PossibleMoves(obu.coordinate)
		if len(moves) == 0 {
			continue
		}
		to := moves[sim.rngstrm.RandInt(0, len(moves)-1)]
		sim.grid.MoveOccupant(obu.coordinate, to)
		obu.coordinate = to
		moved += 1
	}
	return moved
}

// addObu places a new OBU on the first free lane entry.  It returns false when the
// population is at its cap or no lane entry is free
func (sim *Simulator) addObu() bool {
	if sim.obm.Len() >= sim.obm.Cap() {
		return false
	}
	id := sim.obm.NextID()
	coordinate, ok := sim.grid.InsertAtFirstFreeLaneEntry(id)
	if !ok {
		return false
	}
	created, ok := sim.obm.Create(coordinate)
	if !ok || created != id {
		panic(fmt.Errorf("OBU created as %d on the cell reserved for %d", created, id))
	}
	return true
}

// topUp adds OBUs until the cap is reached or the lane entries are full
func (sim *Simulator) topUp() int {
	added := 0
	for sim.addObu() {
		added += 1
	}
	return added
}

// step is one round: its five phases in their fixed order
func (sim *Simulator) step(vrt vrtime.Time) {
	sim.deliverMessages()
	observed := 0
	if history := sim.rsm.History(); len(history) > 0 {
		observed = len(history[len(history)-1])
	}

	moved := sim.moveObus()
	added := sim.topUp()
	if added > 0 {
		sim.log.WithField("round", sim.round).Debugf("added %d OBUs", added)
	}

	sim.round += 1
	sim.rsm.SetCurrentRound(sim.round)
	sim.obm.SetCurrentRound(sim.round)

	sim.collectMessages()

	sim.tm.AddRoundTrace(vrt, RoundTrace{Round: sim.round, Messages: sim.ether.Len(),
		LiveObus: sim.obm.Len(), Added: added, Moved: moved, Observed: observed})
}

// runRound is the event handler of a round.  The data is the number of rounds
// still to run, this one included
func runRound(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulator)
	remaining := data.(int)

	sim.step(evtMgr.CurrentTime())
	if remaining > 1 {
		evtMgr.Schedule(sim, remaining-1, runRound, vrtime.SecondsToTime(roundDuration))
	}
	return nil
}

// Run advances the simulation by rounds rounds and then judges the population.
// The ledger and the trace are written if they are configured; the error reports
// a failure to write either, the report is complete regardless.  Run before Init panics
func (sim *Simulator) Run(rounds int) (*Report, error) {
	if !sim.initialized {
		panic(fmt.Errorf("simulator run before Init"))
	}
	sim.log.WithField("round", sim.round).Infof("running %d rounds", rounds)

	// the first round delivers beacons, so round 0 must have collected some
	if sim.round == 0 {
		sim.collectMessages()
	}

	if rounds > 0 {
		sim.evtMgr.Schedule(sim, rounds, runRound, vrtime.SecondsToTime(roundDuration))
		sim.evtMgr.Run(sim.evtMgr.CurrentSeconds() + float64(rounds+1)*roundDuration)
	}
	if sim.log.Logger.IsLevelEnabled(logrus.InfoLevel) {
		sim.obm.LogStats()
	}

	report := sim.finish()
	return report, sim.writeArtifacts(report)
}

// finish runs the detector and scores it against the ground truth
func (sim *Simulator) finish() *Report {
	flagged, ledger := sim.rsm.DetectFaultyObus()

	cm := ConfusionMatrix{}
	for _, obu := range sim.obm.Obus() {
		judgedFaulty := slices.Contains(flagged, obu.ID())
		switch {
		case obu.IsFaulty() && judgedFaulty:
			cm.TruePositive += 1
		case obu.IsFaulty():
			cm.FalseNegative += 1
		case judgedFaulty:
			cm.FalsePositive += 1
		default:
			cm.TrueNegative += 1
		}
	}

	return &Report{
		RunID:     sim.runID,
		Name:      sim.cfg.Name,
		Rounds:    sim.round,
		Obus:      sim.obm.Len(),
		Rsus:      sim.rsm.Len(),
		Flagged:   flagged,
		Ledger:    ledger,
		Summary:   SummarizeLedger(ledger),
		Confusion: cm,
		ObuStats:  sim.obm.Stats(),
	}
}

// writeArtifacts writes the ledger and the trace, when configured
func (sim *Simulator) writeArtifacts(report *Report) error {
	errs := []error{}
	if sim.ledger != nil {
		if err := sim.ledger.WriteLedger(report.Ledger); err != nil {
			errs = append(errs, err)
		}
	}
	if sim.tm.Active() {
		if _, err := sim.tm.WriteToFile(sim.cfg.Run.TraceFile); err != nil {
			errs = append(errs, err)
		}
	}
	return ReportErrs(errs)
}
