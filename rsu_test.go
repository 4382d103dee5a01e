package vanet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rsuManager(t *testing.T, cfg RsuCfg, blocks, size int) (*Grid, *RsuManager) {
	t.Helper()
	grid, err := CreateGrid(blocks, size)
	require.NoError(t, err)
	rsm, err := CreateRsuManager(cfg)
	require.NoError(t, err)
	rsm.PlaceLattice(grid)
	return grid, rsm
}

// obuBeacon builds the message an OBU at truth sends while claiming to be at reported
func obuBeacon(grid *Grid, id int, truth, reported Coordinate, rng int) Message {
	return Message{
		OriginID:   id,
		OriginType: ObuNode,
		Coordinate: reported,
		PhyCoord:   truth,
		PhyRange:   rng,
		PhyArea:    grid.CoverageBox(truth, rng),
	}
}

func rsuCoordinates(rsm *RsuManager) []Coordinate {
	coords := []Coordinate{}
	for _, rsu := range rsm.Rsus() {
		coords = append(coords, rsu.Coordinate())
	}
	return coords
}

func TestCreateRsuManagerValidates(t *testing.T) {
	_, err := CreateRsuManager(RsuCfg{TxRange: 0, RxRange: 3})
	assert.ErrorIs(t, err, ErrConfig)
	_, err = CreateRsuManager(RsuCfg{TxRange: 3, RxRange: -2})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestPlaceLattice(t *testing.T) {
	tests := []struct {
		name  string
		rx    int
		want  []Coordinate
		boxes []SquareCoords
	}{
		{"range 3", 3, []Coordinate{{X: 2, Y: 2}, {X: 2, Y: 7}, {X: 7, Y: 2}, {X: 7, Y: 7}}, nil},
		{"range 4 snaps to the border", 4, []Coordinate{{X: 3, Y: 3}, {X: 3, Y: 9}, {X: 9, Y: 3}, {X: 9, Y: 9}}, nil},
		{"range 6", 6, []Coordinate{{X: 5, Y: 5}}, []SquareCoords{{X1: 0, Y1: 0, X2: 9, Y2: 9}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			grid, rsm := rsuManager(t, RsuCfg{TxRange: tc.rx, RxRange: tc.rx}, 3, 2)
			require.Equal(t, 10, grid.Dimension())

			assert.Equal(t, tc.want, rsuCoordinates(rsm))
			for idx, rsu := range rsm.Rsus() {
				assert.Equal(t, idx, rsu.ID())
				assert.Equal(t, grid.CoverageBox(rsu.Coordinate(), tc.rx), rsu.Area())
				if tc.boxes != nil {
					assert.Equal(t, tc.boxes[idx], rsu.Area())
				}
			}
		})
	}
}

func TestPlaceLatticeCoversTheGrid(t *testing.T) {
	for _, rx := range []int{2, 3, 5, 8} {
		grid, rsm := rsuManager(t, RsuCfg{TxRange: rx, RxRange: rx}, 6, 3)
		for x := 0; x < grid.Dimension(); x++ {
			for y := 0; y < grid.Dimension(); y++ {
				cell := SquareCoords{X1: x, Y1: y, X2: x, Y2: y}
				covered := false
				for _, rsu := range rsm.Rsus() {
					if BoxesOverlap(cell, rsu.Area()) {
						covered = true
						break
					}
				}
				assert.True(t, covered, "range %d leaves (%d,%d) uncovered", rx, x, y)
			}
		}
	}
}

func TestPlaceLatticeTwicePanics(t *testing.T) {
	grid, rsm := rsuManager(t, RsuCfg{TxRange: 3, RxRange: 3}, 3, 2)
	assert.Panics(t, func() { rsm.PlaceLattice(grid) })
}

func TestRsuLookup(t *testing.T) {
	_, rsm := rsuManager(t, RsuCfg{TxRange: 3, RxRange: 3}, 3, 2)
	assert.Equal(t, Coordinate{X: 7, Y: 7}, rsm.Rsu(3).Coordinate())
	assert.Panics(t, func() { rsm.Rsu(4) })
}

func TestRsuBeacons(t *testing.T) {
	grid, rsm := rsuManager(t, RsuCfg{TxRange: 2, RxRange: 3}, 3, 2)
	assert.Empty(t, rsm.CollectMessages())

	grid, rsm = rsuManager(t, RsuCfg{TxRange: 2, RxRange: 3, Beacon: true}, 3, 2)
	msgs := rsm.CollectMessages()
	require.Len(t, msgs, rsm.Len())
	for idx, msg := range msgs {
		assert.Equal(t, RsuNode, msg.OriginType)
		assert.Equal(t, idx, msg.OriginID)
		assert.Equal(t, 2, msg.PhyRange)
		assert.Equal(t, grid.CoverageBox(msg.PhyCoord, 2), msg.PhyArea)
	}

	// RSUs do not listen to each other
	rsm.DeliverMessages(msgs)
	for _, rsu := range rsm.Rsus() {
		assert.Empty(t, rsu.Neighbors)
	}
}

func TestRsuDeliverMessages(t *testing.T) {
	grid, rsm := rsuManager(t, RsuCfg{TxRange: 3, RxRange: 3}, 3, 2)

	msgs := []Message{
		// heard by every RSU
		obuBeacon(grid, 0, Coordinate{X: 4, Y: 4}, Coordinate{X: 4, Y: 4}, 3),
		// heard by RSU 0 only, at the position it claims
		obuBeacon(grid, 1, Coordinate{X: 0, Y: 0}, Coordinate{X: 9, Y: 9}, 2),
	}
	rsm.SetCurrentRound(0)
	rsm.DeliverMessages(msgs)

	history := rsm.History()
	require.Len(t, history, 1)
	require.Len(t, history[0], 2)

	rsuIDs := []int{}
	for _, s := range history[0][0] {
		rsuIDs = append(rsuIDs, s.RsuID)
		assert.Equal(t, Coordinate{X: 4, Y: 4}, s.Coordinate)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, rsuIDs)

	assert.Equal(t, []Sighting{{Coordinate: Coordinate{X: 9, Y: 9}, RsuID: 0}}, history[0][1])
	assert.Len(t, rsm.Rsu(0).Neighbors, 2)
	assert.Len(t, rsm.Rsu(3).Neighbors, 1)

	// a round nobody is heard in still takes its place in the history
	rsm.SetCurrentRound(1)
	rsm.DeliverMessages([]Message{})
	require.Len(t, rsm.History(), 2)
	assert.Empty(t, rsm.History()[1])
	assert.Empty(t, rsm.Rsu(0).Neighbors)
}

func TestRsuDeliveryLeavesEarlierListsIntact(t *testing.T) {
	grid, rsm := rsuManager(t, RsuCfg{TxRange: 3, RxRange: 3}, 3, 2)
	at := Coordinate{X: 1, Y: 1}

	rsm.SetCurrentRound(0)
	rsm.DeliverMessages([]Message{obuBeacon(grid, 0, at, at, 2), obuBeacon(grid, 1, at, at, 2)})
	held := rsm.Rsu(0).Neighbors
	require.Len(t, held, 2)
	kept := append([]Neighbor{}, held...)

	rsm.SetCurrentRound(1)
	rsm.DeliverMessages([]Message{obuBeacon(grid, 7, at, Coordinate{X: 0, Y: 0}, 2)})
	assert.Equal(t, []Neighbor{{ID: 7, Coordinate: Coordinate{X: 0, Y: 0}}}, rsm.Rsu(0).Neighbors)
	assert.Equal(t, kept, held)
}

func TestHistoryCollisionPanics(t *testing.T) {
	_, rsm := rsuManager(t, RsuCfg{TxRange: 3, RxRange: 3}, 3, 2)

	rsm.SetCurrentRound(0)
	rsm.DeliverMessages([]Message{})

	// the same round twice
	assert.Panics(t, func() { rsm.DeliverMessages([]Message{}) })

	// a round skipped
	rsm.SetCurrentRound(2)
	assert.Panics(t, func() { rsm.DeliverMessages([]Message{}) })

	rsm.SetCurrentRound(1)
	assert.NotPanics(t, func() { rsm.DeliverMessages([]Message{}) })
}

// runHistory feeds rounds deliveries to rsm, asking beacons for the messages of each round
func runHistory(rsm *RsuManager, rounds int, beacons func(round int) []Message) {
	for round := 0; round < rounds; round++ {
		rsm.SetCurrentRound(round)
		rsm.DeliverMessages(beacons(round))
	}
	rsm.SetCurrentRound(rounds)
}

func TestDetectTxFailures(t *testing.T) {
	grid, rsm := rsuManager(t, RsuCfg{TxRange: 3, RxRange: 3, DetectTxFailure: true}, 3, 2)
	at := Coordinate{X: 3, Y: 3}

	runHistory(rsm, 10, func(round int) []Message {
		msgs := []Message{}
		for id := 0; id < 3; id++ {
			msgs = append(msgs, obuBeacon(grid, id, at, at, 2))
		}
		// OBU 3 joins late but never misses a round
		if round >= 3 {
			msgs = append(msgs, obuBeacon(grid, 3, at, at, 2))
		}
		// OBU 4 goes quiet half way
		if round < 5 {
			msgs = append(msgs, obuBeacon(grid, 4, at, at, 2))
		}
		return msgs
	})

	flagged, ledger := rsm.DetectFaultyObus()
	assert.Equal(t, []int{4}, flagged)

	require.Len(t, ledger, 5)
	for idx, rec := range ledger {
		assert.Equal(t, idx, rec.ObuID)
		assert.Equal(t, 0.0, rec.GpsErrorRate)
		assert.Equal(t, Green, rec.GpsRep)
	}
	for _, rec := range ledger[:4] {
		assert.Equal(t, 0.0, rec.TxErrorRate)
		assert.Equal(t, Green, rec.Reputation)
	}
	assert.Equal(t, 0.5, ledger[4].TxErrorRate)
	assert.Equal(t, Red, ledger[4].TxRep)
	assert.Equal(t, Red, ledger[4].Reputation)

	// detection reads the history, it does not consume it
	again, _ := rsm.DetectFaultyObus()
	assert.Equal(t, flagged, again)
	assert.Len(t, rsm.History(), 10)
}

func TestDetectGpsFailures(t *testing.T) {
	grid, rsm := rsuManager(t, RsuCfg{TxRange: 3, RxRange: 3, DetectGpsFailure: true}, 3, 2)
	at := Coordinate{X: 3, Y: 3}
	far := Coordinate{X: 9, Y: 9}

	runHistory(rsm, 8, func(round int) []Message {
		msgs := []Message{}
		for id := 0; id < 5; id++ {
			reported := at
			// OBU 2 always claims a cell no RSU that hears it could hear
			if id == 2 {
				reported = far
			}
			// OBU 3 lies by one cell, within the slack the RSUs allow
			if id == 3 {
				reported = Coordinate{X: 4, Y: 3}
			}
			msgs = append(msgs, obuBeacon(grid, id, at, reported, 2))
		}
		return msgs
	})

	flagged, ledger := rsm.DetectFaultyObus()
	assert.Equal(t, []int{2}, flagged)
	require.Len(t, ledger, 5)
	assert.Equal(t, 1.0, ledger[2].GpsErrorRate)
	assert.Equal(t, Red, ledger[2].GpsRep)
	assert.Equal(t, Green, ledger[2].TxRep)
	assert.Equal(t, Red, ledger[2].Reputation)
	assert.Equal(t, 0.0, ledger[3].GpsErrorRate)
}

func TestDetectNeedsEveryEnabledDetector(t *testing.T) {
	cfg := RsuCfg{TxRange: 3, RxRange: 3, DetectTxFailure: true, DetectGpsFailure: true}
	grid, rsm := rsuManager(t, cfg, 3, 2)
	at := Coordinate{X: 3, Y: 3}
	far := Coordinate{X: 9, Y: 9}

	beacons := func(round int) []Message {
		msgs := []Message{}
		for id := 0; id < 6; id++ {
			quiet := (id == 1 || id == 3) && round%2 == 1
			if quiet {
				continue
			}
			reported := at
			if id == 1 || id == 2 {
				reported = far
			}
			msgs = append(msgs, obuBeacon(grid, id, at, reported, 2))
		}
		return msgs
	}
	runHistory(rsm, 10, beacons)

	// 1 misses rounds and lies, 2 only lies, 3 only misses rounds
	flagged, ledger := rsm.DetectFaultyObus()
	assert.Equal(t, []int{1}, flagged)
	assert.Equal(t, 0.5, ledger[3].TxErrorRate)
	assert.Equal(t, 1.0, ledger[2].GpsErrorRate)

	// with both detectors off the ledger is still produced but nobody is flagged
	grid, rsm = rsuManager(t, RsuCfg{TxRange: 3, RxRange: 3}, 3, 2)
	runHistory(rsm, 10, beacons)
	flagged, ledger = rsm.DetectFaultyObus()
	assert.Empty(t, flagged)
	assert.Len(t, ledger, 6)
}

func TestDetectOnEmptyHistory(t *testing.T) {
	_, rsm := rsuManager(t, RsuCfg{TxRange: 3, RxRange: 3, DetectTxFailure: true}, 3, 2)
	flagged, ledger := rsm.DetectFaultyObus()
	assert.Empty(t, flagged)
	assert.Empty(t, ledger)
}

func TestDetectCleanPopulationFlagsNobody(t *testing.T) {
	cfg := RsuCfg{TxRange: 3, RxRange: 3, DetectTxFailure: true, DetectGpsFailure: true}
	grid, rsm := rsuManager(t, cfg, 3, 2)
	at := Coordinate{X: 3, Y: 3}

	runHistory(rsm, 10, func(round int) []Message {
		msgs := []Message{}
		for id := 0; id < 5; id++ {
			msgs = append(msgs, obuBeacon(grid, id, at, at, 2))
		}
		return msgs
	})

	// every rate is zero, so both thresholds collapse to zero
	flagged, ledger := rsm.DetectFaultyObus()
	assert.Empty(t, flagged)
	require.Len(t, ledger, 5)
	for _, rec := range ledger {
		assert.Equal(t, 0.0, rec.TxErrorRate)
		assert.Equal(t, 0.0, rec.GpsErrorRate)
		assert.Equal(t, Green, rec.TxRep)
		assert.Equal(t, Green, rec.GpsRep)
		assert.Equal(t, Green, rec.Reputation)
	}
}
