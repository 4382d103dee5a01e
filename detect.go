package vanet

// detect.go turns the RSU observation history into per-OBU error rates, judges
// each rate against a robust threshold computed over the whole population, and
// produces the reputation ledger

import (
	"golang.org/x/exp/slices"
)

// gpsSlack widens the RSU reception range when judging whether a reported
// position could have been heard by the RSU that heard it
const gpsSlack = 3

// obuErrorStats accumulates what the history says about one OBU
type obuErrorStats struct {
	firstSeen  int
	roundsSeen int
	gpsErrors  int

	txErrorRate  float64
	gpsErrorRate float64
}

// plausibleReport is true when at least one RSU that heard the OBU stands within
// reception range plus gpsSlack of the position the OBU reported
func (rsm *RsuManager) plausibleReport(sightings []Sighting) bool {
	reach := rsm.cfg.RxRange + gpsSlack
	for _, sighting := range sightings {
		rsu := rsm.Rsu(sighting.RsuID)
		if IsReachable(sighting.Coordinate, reach, rsu.coordinate) {
			return true
		}
	}
	return false
}

// errorStats walks the history once and returns the statistics of every OBU
// observed at least once, together with the ids of those OBUs in ascending order
func (rsm *RsuManager) errorStats() (map[int]*obuErrorStats, []int) {
	stats := make(map[int]*obuErrorStats)
	for round, observed := range rsm.history {
		for obuID, sightings := range observed {
			st, present := stats[obuID]
			if !present {
				st = &obuErrorStats{firstSeen: round}
				stats[obuID] = st
			}
			st.roundsSeen += 1

			// at most one GPS error per OBU per round
			if !rsm.plausibleReport(sightings) {
				st.gpsErrors += 1
			}
		}
	}

	ids := make([]int, 0, len(stats))
	for obuID, st := range stats {
		ids = append(ids, obuID)

		// rounds after the first sighting in which the OBU went unheard
		missed := len(rsm.history) - (st.roundsSeen + st.firstSeen)
		if rsm.currentRound > 0 {
			st.txErrorRate = float64(missed) / float64(rsm.currentRound)
		}
		st.gpsErrorRate = float64(st.gpsErrors) / float64(st.roundsSeen)
	}
	slices.Sort(ids)
	return stats, ids
}

// DetectFaultyObus analyzes the whole observation history.  It returns the ids of
// the OBUs judged faulty, ascending, and one ledger record per OBU ever observed, in id order.
// An OBU is judged faulty when at least one detector is enabled and its rate reaches
// the threshold of every enabled detector.  The history is not modified
func (rsm *RsuManager) DetectFaultyObus() ([]int, []LedgerRecord) {
	stats, ids := rsm.errorStats()

	txRates := make([]float64, len(ids))
	gpsRates := make([]float64, len(ids))
	for idx, obuID := range ids {
		txRates[idx] = stats[obuID].txErrorRate
		gpsRates[idx] = stats[obuID].gpsErrorRate
	}
	txThreshold := Threshold(txRates)
	gpsThreshold := Threshold(gpsRates)

	logger.WithField("observed", len(ids)).Debugf("tx threshold %g, gps threshold %g", txThreshold, gpsThreshold)

	flagged := []int{}
	ledger := make([]LedgerRecord, 0, len(ids))
	anyDetector := rsm.cfg.DetectTxFailure || rsm.cfg.DetectGpsFailure

	for _, obuID := range ids {
		st := stats[obuID]
		rec := LedgerRecord{
			ObuID:        obuID,
			TxErrorRate:  st.txErrorRate,
			TxRep:        Classify(st.txErrorRate, txThreshold),
			GpsErrorRate: st.gpsErrorRate,
			GpsRep:       Classify(st.gpsErrorRate, gpsThreshold),
		}
		rec.Reputation = Combine(rec.TxRep, rec.GpsRep)
		ledger = append(ledger, rec)

		faulty := anyDetector
		if rsm.cfg.DetectTxFailure && !exceeds(st.txErrorRate, txThreshold) {
			faulty = false
		}
		if rsm.cfg.DetectGpsFailure && !exceeds(st.gpsErrorRate, gpsThreshold) {
			faulty = false
		}
		if faulty {
			flagged = append(flagged, obuID)
		}
	}
	return flagged, ledger
}
