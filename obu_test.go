package vanet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obuCfg(maxObus, faulty int) ObuCfg {
	return ObuCfg{
		MaxObus:              maxObus,
		CommsRange:           3,
		TxBaseFailureRate:    0.0,
		TxFaultyFailureRate:  0.0,
		GpsFailureRate:       0.0,
		GpsFaultyFailureRate: 0.0,
		FaultyObuCount:       faulty,
	}
}

func obuManager(t *testing.T, cfg ObuCfg, blocks, size int) (*Grid, *ObuManager) {
	t.Helper()
	grid, err := CreateGrid(blocks, size)
	require.NoError(t, err)
	obm, err := CreateObuManager(cfg, grid)
	require.NoError(t, err)
	return grid, obm
}

func TestCreateObuManagerValidates(t *testing.T) {
	grid, err := CreateGrid(3, 2)
	require.NoError(t, err)

	cfg := obuCfg(10, 11)
	_, err = CreateObuManager(cfg, grid)
	assert.ErrorIs(t, err, ErrConfig)

	cfg = obuCfg(10, 2)
	cfg.GpsFailureRate = 1.5
	_, err = CreateObuManager(cfg, grid)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestFaultyPlacement(t *testing.T) {
	tests := []struct {
		name   string
		max    int
		faulty int
		every  int
	}{
		{"every fifth", 100, 20, 5},
		{"every seventh", 100, 13, 7},
		{"all faulty", 10, 10, 1},
		{"none faulty", 10, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, obm := obuManager(t, obuCfg(tc.max, tc.faulty), 3, 2)

			for n := 1; n <= tc.max; n++ {
				id, ok := obm.Create(Coordinate{})
				require.True(t, ok)
				assert.Equal(t, n-1, id)

				// the count caps the cadence: 98 is a multiple of 7 but would be the 14th
				wantFaulty := tc.every > 0 && n%tc.every == 0 && n/tc.every <= tc.faulty
				assert.Equal(t, wantFaulty, obm.Obu(id).IsFaulty(), "OBU number %d", n)
			}
			assert.Equal(t, tc.faulty, obm.FaultyCount())

			faulty := 0
			for _, obu := range obm.Obus() {
				if obu.IsFaulty() {
					faulty++
				}
			}
			assert.Equal(t, tc.faulty, faulty)
		})
	}
}

func TestFaultyObusGetFaultyRates(t *testing.T) {
	cfg := obuCfg(4, 2)
	cfg.TxBaseFailureRate = 0.01
	cfg.TxFaultyFailureRate = 0.3
	cfg.GpsFailureRate = 0.02
	cfg.GpsFaultyFailureRate = 0.4
	_, obm := obuManager(t, cfg, 3, 2)

	for i := 0; i < 4; i++ {
		obm.Create(Coordinate{})
	}
	assert.Equal(t, 0.01, obm.Obu(0).TxFailureRate())
	assert.Equal(t, 0.02, obm.Obu(0).GpsFailureRate())
	assert.Equal(t, 0.3, obm.Obu(1).TxFailureRate())
	assert.Equal(t, 0.4, obm.Obu(1).GpsFailureRate())
}

func TestCreateStopsAtCap(t *testing.T) {
	_, obm := obuManager(t, obuCfg(2, 0), 3, 2)
	_, ok := obm.Create(Coordinate{})
	assert.True(t, ok)
	_, ok = obm.Create(Coordinate{})
	assert.True(t, ok)
	_, ok = obm.Create(Coordinate{})
	assert.False(t, ok)
	assert.Equal(t, 2, obm.Len())
	assert.Equal(t, 2, obm.NextID())
}

func TestObuLookupPanicsOnUnknownID(t *testing.T) {
	_, obm := obuManager(t, obuCfg(2, 0), 3, 2)
	obm.Create(Coordinate{})
	assert.NotPanics(t, func() { obm.Obu(0) })
	assert.Panics(t, func() { obm.Obu(1) })
	assert.Panics(t, func() { obm.Obu(-1) })
}

func TestSpoofCoordinate(t *testing.T) {
	_, obm := obuManager(t, obuCfg(1, 0), 5, 3)

	truth := Coordinate{X: 10, Y: 10}
	for i := 0; i < 500; i++ {
		spoofed, ok := obm.spoofCoordinate(truth, 3)
		require.True(t, ok)
		assert.Greater(t, distance(spoofed, truth), 5.0)
		assert.True(t, obm.grid.InBounds(spoofed))
	}

	// a range that covers the whole grid leaves nowhere to pretend to be
	_, small := obuManager(t, obuCfg(1, 0), 1, 1)
	_, ok := small.spoofCoordinate(Coordinate{X: 1, Y: 1}, 6)
	assert.False(t, ok)

	// only the far corners qualify, found by enumeration if sampling misses them
	for i := 0; i < 50; i++ {
		spoofed, ok := obm.spoofCoordinate(truth, 11)
		require.True(t, ok)
		assert.Greater(t, distance(spoofed, truth), 13.0)
	}
}

func TestCollectMessages(t *testing.T) {
	grid, obm := obuManager(t, obuCfg(3, 0), 3, 2)
	obm.Create(Coordinate{X: 0, Y: 0})
	obm.Create(Coordinate{X: 0, Y: 3})
	obm.Create(Coordinate{X: 9, Y: 9})

	msgs := obm.CollectMessages()
	require.Len(t, msgs, 3)
	for idx, msg := range msgs {
		assert.Equal(t, idx, msg.OriginID)
		assert.Equal(t, ObuNode, msg.OriginType)
		assert.Equal(t, msg.PhyCoord, msg.Coordinate)
		assert.Equal(t, 3, msg.PhyRange)
		assert.Equal(t, grid.CoverageBox(msg.PhyCoord, 3), msg.PhyArea)
	}

	st := obm.Stats()
	assert.Equal(t, 3, st.TotalTx)
	assert.Equal(t, 0, st.TotalTxErrors)
}

func TestCollectMessagesWithCertainFailures(t *testing.T) {
	cfg := obuCfg(2, 1)
	cfg.TxFaultyFailureRate = 1.0
	cfg.GpsFailureRate = 1.0
	_, obm := obuManager(t, cfg, 5, 3)
	obm.Create(Coordinate{X: 0, Y: 0})
	obm.Create(Coordinate{X: 4, Y: 4})

	msgs := obm.CollectMessages()

	// the faulty OBU never transmits, the healthy one always lies about where it is
	require.Len(t, msgs, 1)
	assert.Equal(t, 0, msgs[0].OriginID)
	assert.Equal(t, Coordinate{X: 0, Y: 0}, msgs[0].PhyCoord)
	assert.Greater(t, distance(msgs[0].Coordinate, msgs[0].PhyCoord), 5.0)

	st := obm.Stats()
	assert.Equal(t, 1, st.FaultyTxErrors)
	assert.Equal(t, 1, st.NormalGpsSpoofed)
	assert.Equal(t, 0, st.NormalTxErrors)
}

func TestDeliverMessages(t *testing.T) {
	cfg := obuCfg(3, 0)
	cfg.CommsRange = 2
	_, obm := obuManager(t, cfg, 3, 2)
	obm.Create(Coordinate{X: 0, Y: 0})
	obm.Create(Coordinate{X: 0, Y: 2})
	obm.Create(Coordinate{X: 9, Y: 9})

	msgs := obm.CollectMessages()
	msgs = append(msgs, Message{OriginID: 0, OriginType: RsuNode, Coordinate: Coordinate{X: 1, Y: 1},
		PhyCoord: Coordinate{X: 1, Y: 1}, PhyRange: 2, PhyArea: SquareCoords{X1: 0, Y1: 0, X2: 2, Y2: 2}})
	obm.DeliverMessages(msgs)

	assert.Equal(t, []Neighbor{{ID: 1, Coordinate: Coordinate{X: 0, Y: 2}}}, obm.Obu(0).Neighbors)
	assert.Equal(t, []Neighbor{{ID: 0, Coordinate: Coordinate{X: 0, Y: 0}}}, obm.Obu(1).Neighbors)
	assert.Empty(t, obm.Obu(2).Neighbors)
	assert.Len(t, obm.Obu(0).Rsus, 1)
	assert.Empty(t, obm.Obu(2).Rsus)

	// neighbor lists are replaced, not accumulated
	obm.DeliverMessages([]Message{})
	assert.Empty(t, obm.Obu(0).Neighbors)
	assert.Empty(t, obm.Obu(0).Rsus)
}

func TestDeliverMessagesLeavesEarlierListsIntact(t *testing.T) {
	cfg := obuCfg(3, 0)
	cfg.CommsRange = 2
	_, obm := obuManager(t, cfg, 3, 2)
	obm.Create(Coordinate{X: 0, Y: 0})
	obm.Create(Coordinate{X: 0, Y: 2})
	obm.Create(Coordinate{X: 2, Y: 0})

	obm.DeliverMessages(obm.CollectMessages())
	held := obm.Obu(0).Neighbors
	require.Len(t, held, 2)
	kept := append([]Neighbor{}, held...)

	// a later delivery hearing a single, different neighbor
	obm.DeliverMessages([]Message{{OriginID: 2, OriginType: ObuNode, Coordinate: Coordinate{X: 5, Y: 5},
		PhyCoord: Coordinate{X: 2, Y: 0}, PhyRange: 2, PhyArea: SquareCoords{X1: 0, Y1: 0, X2: 4, Y2: 2}}})
	assert.Equal(t, []Neighbor{{ID: 2, Coordinate: Coordinate{X: 5, Y: 5}}}, obm.Obu(0).Neighbors)
	assert.Equal(t, kept, held)
}
