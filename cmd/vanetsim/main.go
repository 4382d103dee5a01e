package main

import (
	"flag"
	"os"

	"github.com/iti/vanet"
)

func main() {
	cfgFile := flag.String("cfg", "", "experiment description, yaml or json (built-in reference experiment if empty)")
	rounds := flag.Int("rounds", -1, "number of rounds to run (from the description if negative)")
	ledgerFile := flag.String("ledger", "", "reputation ledger csv file (overrides the description)")
	traceFile := flag.String("trace", "", "round trace file, yaml or json (overrides the description)")
	writeCfg := flag.String("write-cfg", "", "write the experiment description used to this file")
	flag.Parse()

	log := vanet.Logger()

	cfg := vanet.DefaultSimCfg()
	if len(*cfgFile) > 0 {
		var err error
		cfg, err = vanet.ReadSimCfg(*cfgFile, vanet.UseYAML(*cfgFile), []byte{})
		if err != nil {
			log.Fatalf("read experiment description: %v", err)
		}
	}
	if *rounds >= 0 {
		cfg.Run.Rounds = *rounds
	}
	if len(*ledgerFile) > 0 {
		cfg.Run.LedgerFile = *ledgerFile
	}
	if len(*traceFile) > 0 {
		cfg.Run.TraceFile = *traceFile
	}

	if err := vanet.SetLogLevel(cfg.Run.LogLevel); err != nil {
		log.Fatal(err)
	}

	if len(*writeCfg) > 0 {
		if err := cfg.WriteToFile(*writeCfg); err != nil {
			log.Fatalf("write experiment description: %v", err)
		}
	}

	sim, err := vanet.CreateSimulator(cfg)
	if err != nil {
		log.Fatal(err)
	}
	sim.Init()

	report, err := sim.Run(cfg.Run.Rounds)
	report.Log()
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
