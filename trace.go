package vanet

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// RoundTrace records what happened in one round of a run
type RoundTrace struct {
	Round    int     `json:"round" yaml:"round"`
	Time     float64 `json:"time" yaml:"time"`
	Ticks    int64   `json:"ticks" yaml:"ticks"`
	Messages int     `json:"messages" yaml:"messages"`
	LiveObus int     `json:"liveobus" yaml:"liveobus"`
	Added    int     `json:"added" yaml:"added"`
	Moved    int     `json:"moved" yaml:"moved"`

	// OBUs the RSUs heard in this round's delivery
	Observed int `json:"observed" yaml:"observed"`
}

// TraceManager gathers the per-round records of a run.  An inactive manager
// accepts every call and records nothing, so the simulator can call it unconditionally
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment, the run id
	ExpName string `json:"expname" yaml:"expname"`

	// RSU positions, by RSU id
	Rsus []Coordinate `json:"rsus" yaml:"rsus"`

	// all round records, in round order
	Rounds []RoundTrace `json:"rounds" yaml:"rounds"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.Rsus = make([]Coordinate, 0)
	tm.Rounds = make([]RoundTrace, 0)
	return tm
}

// Active tells the caller whether the trace manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddRsu records the position of an RSU; RSUs must be added in id order
func (tm *TraceManager) AddRsu(id int, coordinate Coordinate) {
	if !tm.InUse {
		return
	}
	if id != len(tm.Rsus) {
		panic(fmt.Errorf("RSU %d added to trace out of order", id))
	}
	tm.Rsus = append(tm.Rsus, coordinate)
}

// AddRoundTrace stamps the record with the virtual time and stores it
func (tm *TraceManager) AddRoundTrace(vrt vrtime.Time, rt RoundTrace) {
	if !tm.InUse {
		return
	}
	rt.Time = vrt.Seconds()
	rt.Ticks = vrt.Ticks()
	tm.Rounds = append(tm.Rounds, rt)
}

// WriteToFile stores the trace to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
// It returns false without writing anything if the manager is inactive
func (tm *TraceManager) WriteToFile(filename string) (bool, error) {
	if !tm.InUse {
		return false, nil
	}
	var bytes []byte
	var merr error

	pathExt := strings.ToLower(path.Ext(filename))
	switch pathExt {
	case ".yaml", ".yml":
		bytes, merr = yaml.Marshal(*tm)
	case ".json":
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	default:
		return false, fmt.Errorf("cannot tell serialization of %s from extension %q", filename, pathExt)
	}
	if merr != nil {
		return false, merr
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		return false, cerr
	}
	_, werr := f.Write(bytes)
	if werr != nil {
		f.Close()
		return false, werr
	}
	if err := f.Close(); err != nil {
		return false, err
	}
	return true, nil
}

// ReadTrace deserializes a trace file written by WriteToFile
func ReadTrace(filename string) (*TraceManager, error) {
	bytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	tm := new(TraceManager)
	if UseYAML(filename) {
		err = yaml.Unmarshal(bytes, tm)
	} else {
		err = json.Unmarshal(bytes, tm)
	}
	if err != nil {
		return nil, err
	}
	return tm, nil
}
