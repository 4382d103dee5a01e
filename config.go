package vanet

// config.go holds the description of an experiment: the grid, the RSU layer,
// the OBU population, and how long to run.  Descriptions are read from and written
// to yaml or json, selected by the file name's extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfig is wrapped by every error reporting a degenerate experiment description
var ErrConfig = errors.New("invalid configuration")

// GridCfg describes the street lattice
type GridCfg struct {
	BlocksPerStreet int `json:"blocksperstreet" yaml:"blocksperstreet"`
	BlockSize       int `json:"blocksize" yaml:"blocksize"`
}

// RsuCfg describes the RSU layer and which detectors it runs
type RsuCfg struct {
	// how far an RSU beacon carries
	TxRange int `json:"txrange" yaml:"txrange"`

	// reception range, also sets the spacing of the RSU lattice
	RxRange int `json:"rxrange" yaml:"rxrange"`

	DetectTxFailure  bool `json:"detecttxfailure" yaml:"detecttxfailure"`
	DetectGpsFailure bool `json:"detectgpsfailure" yaml:"detectgpsfailure"`

	// when true RSUs put a beacon in the Ether every round
	Beacon bool `json:"beacon" yaml:"beacon"`
}

// ObuCfg describes the OBU population
type ObuCfg struct {
	MaxObus              int     `json:"maxobus" yaml:"maxobus"`
	CommsRange           int     `json:"commsrange" yaml:"commsrange"`
	TxBaseFailureRate    float64 `json:"txbasefailurerate" yaml:"txbasefailurerate"`
	TxFaultyFailureRate  float64 `json:"txfaultyfailurerate" yaml:"txfaultyfailurerate"`
	GpsFailureRate       float64 `json:"gpsfailurerate" yaml:"gpsfailurerate"`
	GpsFaultyFailureRate float64 `json:"gpsfaultyfailurerate" yaml:"gpsfaultyfailurerate"`
	FaultyObuCount       int     `json:"faultyobucount" yaml:"faultyobucount"`
}

// RunCfg describes the run itself and where its artifacts go.  Empty file names
// switch the corresponding artifact off
type RunCfg struct {
	Rounds     int    `json:"rounds" yaml:"rounds"`
	LedgerFile string `json:"ledgerfile" yaml:"ledgerfile"`
	TraceFile  string `json:"tracefile" yaml:"tracefile"`
	LogLevel   string `json:"loglevel" yaml:"loglevel"`
}

// SimCfg is the complete description of an experiment
type SimCfg struct {
	Name string  `json:"name" yaml:"name"`
	Grid GridCfg `json:"grid" yaml:"grid"`
	Rsu  RsuCfg  `json:"rsu" yaml:"rsu"`
	Obu  ObuCfg  `json:"obu" yaml:"obu"`
	Run  RunCfg  `json:"run" yaml:"run"`
}

// DefaultSimCfg returns the reference experiment: a 25x25 block city,
// 120 OBUs of which 20 are faulty, watched by RSUs that detect transmission failures
func DefaultSimCfg() *SimCfg {
	cfg := new(SimCfg)
	cfg.Name = "vanet"
	cfg.Grid = GridCfg{BlocksPerStreet: 25, BlockSize: 3}
	cfg.Rsu = RsuCfg{TxRange: 5, RxRange: 5, DetectTxFailure: true, DetectGpsFailure: false}

	// the OBU range should be at least one more than the RSU reception range
	cfg.Obu = ObuCfg{
		MaxObus:              120,
		CommsRange:           6,
		TxBaseFailureRate:    0.02,
		TxFaultyFailureRate:  0.05,
		GpsFailureRate:       0.02,
		GpsFaultyFailureRate: 0.05,
		FaultyObuCount:       20,
	}
	cfg.Run = RunCfg{Rounds: 180, LedgerFile: "reputation.csv", LogLevel: "info"}
	return cfg
}

// configErr wraps the non-nil problems in errs into one ErrConfig
func configErr(errs []error) error {
	err := ReportErrs(errs)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConfig, err.Error())
	}
	return nil
}

// problems lists what is wrong with the grid description
func (gc *GridCfg) problems() []error {
	errs := []error{}
	if gc.BlocksPerStreet < 1 {
		errs = append(errs, fmt.Errorf("grid blocksperstreet must be positive, got %d", gc.BlocksPerStreet))
	}
	if gc.BlockSize < 1 {
		errs = append(errs, fmt.Errorf("grid blocksize must be positive, got %d", gc.BlockSize))
	}
	return errs
}

// Validate checks the grid description
func (gc *GridCfg) Validate() error {
	return configErr(gc.problems())
}

// problems lists what is wrong with the RSU description
func (rc *RsuCfg) problems() []error {
	errs := []error{}
	if rc.TxRange < 1 {
		errs = append(errs, fmt.Errorf("rsu txrange must be positive, got %d", rc.TxRange))
	}
	if rc.RxRange < 1 {
		errs = append(errs, fmt.Errorf("rsu rxrange must be positive, got %d", rc.RxRange))
	}
	return errs
}

// Validate checks the RSU description
func (rc *RsuCfg) Validate() error {
	return configErr(rc.problems())
}

// validProbability is true for values in [0,1]
func validProbability(p float64) bool {
	return p >= 0.0 && p <= 1.0
}

// problems lists what is wrong with the OBU description
func (oc *ObuCfg) problems() []error {
	errs := []error{}
	if oc.MaxObus < 0 {
		errs = append(errs, fmt.Errorf("obu maxobus must not be negative, got %d", oc.MaxObus))
	}
	if oc.CommsRange < 1 {
		errs = append(errs, fmt.Errorf("obu commsrange must be positive, got %d", oc.CommsRange))
	}
	if oc.FaultyObuCount < 0 || oc.FaultyObuCount > oc.MaxObus {
		errs = append(errs, fmt.Errorf("obu faultyobucount must be in [0,%d], got %d", oc.MaxObus, oc.FaultyObuCount))
	}

	rates := []struct {
		name  string
		value float64
	}{
		{"txbasefailurerate", oc.TxBaseFailureRate},
		{"txfaultyfailurerate", oc.TxFaultyFailureRate},
		{"gpsfailurerate", oc.GpsFailureRate},
		{"gpsfaultyfailurerate", oc.GpsFaultyFailureRate},
	}
	for _, rate := range rates {
		if !validProbability(rate.value) {
			errs = append(errs, fmt.Errorf("obu %s must be in [0,1], got %g", rate.name, rate.value))
		}
	}
	return errs
}

// Validate checks the OBU description
func (oc *ObuCfg) Validate() error {
	return configErr(oc.problems())
}

// problems lists what is wrong with the run description
func (rc *RunCfg) problems() []error {
	errs := []error{}
	if rc.Rounds < 0 {
		errs = append(errs, fmt.Errorf("run rounds must not be negative, got %d", rc.Rounds))
	}
	if len(rc.LogLevel) > 0 {
		if _, err := parseLogLevel(rc.LogLevel); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Validate checks the run description
func (rc *RunCfg) Validate() error {
	return configErr(rc.problems())
}

// Validate checks every section, reporting all problems found at once
func (sc *SimCfg) Validate() error {
	errs := sc.Grid.problems()
	errs = append(errs, sc.Rsu.problems()...)
	errs = append(errs, sc.Obu.problems()...)
	errs = append(errs, sc.Run.problems()...)
	return configErr(errs)
}

// ReadSimCfg deserializes a byte slice holding a representation of a SimCfg struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  A deserialized representation is returned, or an error if one is generated
// from a file read or the deserialization.  The result is not validated
func ReadSimCfg(filename string, useYAML bool, dict []byte) (*SimCfg, error) {
	var err error

	// read from the file only if the byte slice is empty
	if len(dict) == 0 {
		fileInfo, err := os.Stat(filename)
		if os.IsNotExist(err) || (err == nil && fileInfo.IsDir()) {
			return nil, fmt.Errorf("experiment description %s does not exist or cannot be read", filename)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := SimCfg{}

	// the caller has already looked at the file extension to decide between json and yaml
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// UseYAML reports whether filename's extension names a yaml file
func UseYAML(filename string) bool {
	ext := strings.ToLower(path.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

// WriteToFile serializes the SimCfg and writes it to the file whose name is given.
// The extension of the file name selects serialization to json or to yaml
func (sc *SimCfg) WriteToFile(filename string) error {
	var bytes []byte
	var merr error

	pathExt := strings.ToLower(path.Ext(filename))
	switch pathExt {
	case ".yaml", ".yml":
		bytes, merr = yaml.Marshal(*sc)
	case ".json":
		bytes, merr = json.MarshalIndent(*sc, "", "\t")
	default:
		return fmt.Errorf("cannot tell serialization of %s from extension %q", filename, pathExt)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0644)
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}
	return errors.New(strings.Join(errMsg, ","))
}
