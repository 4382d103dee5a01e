package vanet

// ledger.go holds the reputation ledger the detector produces and the
// collaborators that persist it.  The ledger file is one header row followed by
// one row per observed OBU, in id order

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LedgerHeader is the first row of every ledger file
var LedgerHeader = []string{"OBU #", "TX Error", "TX Rep", "GPS Error", "GPS Rep", "Reputation"}

// LedgerRecord is the detector's verdict on one OBU
type LedgerRecord struct {
	ObuID        int        `json:"obuid" yaml:"obuid"`
	TxErrorRate  float64    `json:"txerrorrate" yaml:"txerrorrate"`
	TxRep        Reputation `json:"txrep" yaml:"txrep"`
	GpsErrorRate float64    `json:"gpserrorrate" yaml:"gpserrorrate"`
	GpsRep       Reputation `json:"gpsrep" yaml:"gpsrep"`
	Reputation   Reputation `json:"reputation" yaml:"reputation"`
}

// formatRate writes a rate in the shortest decimal form that reads back exactly
func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}

// row renders the record as ledger columns; classes are written as their integer codes
func (rec *LedgerRecord) row() []string {
	return []string{
		strconv.Itoa(rec.ObuID),
		formatRate(rec.TxErrorRate),
		strconv.Itoa(int(rec.TxRep)),
		formatRate(rec.GpsErrorRate),
		strconv.Itoa(int(rec.GpsRep)),
		strconv.Itoa(int(rec.Reputation)),
	}
}

// WriteLedger writes the header and one row per record to w
func WriteLedger(w io.Writer, records []LedgerRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LedgerHeader); err != nil {
		return fmt.Errorf("ledger write header: %w", err)
	}
	for idx := range records {
		if err := cw.Write(records[idx].row()); err != nil {
			return fmt.Errorf("ledger write OBU %d: %w", records[idx].ObuID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// LedgerWriter persists a finished ledger
type LedgerWriter interface {
	WriteLedger(records []LedgerRecord) error
}

// CSVLedger writes the ledger to a named file, replacing whatever the file held
type CSVLedger struct {
	Filename string
}

// WriteLedger creates (or truncates) the file and writes the ledger to it
func (cl *CSVLedger) WriteLedger(records []LedgerRecord) error {
	f, err := os.Create(cl.Filename)
	if err != nil {
		return fmt.Errorf("ledger create %s: %w", cl.Filename, err)
	}
	bw := bufio.NewWriter(f)
	if err := WriteLedger(bw, records); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LedgerSummary condenses a ledger for the run report
type LedgerSummary struct {
	Observed         int     `json:"observed" yaml:"observed"`
	MeanTxErrorRate  float64 `json:"meantxerrorrate" yaml:"meantxerrorrate"`
	MaxTxErrorRate   float64 `json:"maxtxerrorrate" yaml:"maxtxerrorrate"`
	MeanGpsErrorRate float64 `json:"meangpserrorrate" yaml:"meangpserrorrate"`
	MaxGpsErrorRate  float64 `json:"maxgpserrorrate" yaml:"maxgpserrorrate"`
	Red              int     `json:"red" yaml:"red"`
	Yellow           int     `json:"yellow" yaml:"yellow"`
	Green            int     `json:"green" yaml:"green"`
}

// SummarizeLedger computes the mean and maximum error rate of each channel and
// counts the combined reputations.  An empty ledger summarizes to zeros
func SummarizeLedger(records []LedgerRecord) LedgerSummary {
	summary := LedgerSummary{Observed: len(records)}
	if len(records) == 0 {
		return summary
	}

	txRates := make([]float64, len(records))
	gpsRates := make([]float64, len(records))
	for idx, rec := range records {
		txRates[idx] = rec.TxErrorRate
		gpsRates[idx] = rec.GpsErrorRate
		switch rec.Reputation {
		case Red:
			summary.Red += 1
		case Yellow:
			summary.Yellow += 1
		default:
			summary.Green += 1
		}
	}

	summary.MeanTxErrorRate = stat.Mean(txRates, nil)
	summary.MaxTxErrorRate = floats.Max(txRates)
	summary.MeanGpsErrorRate = stat.Mean(gpsRates, nil)
	summary.MaxGpsErrorRate = floats.Max(gpsRates)
	return summary
}
