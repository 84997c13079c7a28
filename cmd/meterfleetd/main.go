// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of meterfleet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/google/gops/agent"

	"github.com/ClusterCockpit/meterfleet/internal/runtimeEnv"
	"github.com/ClusterCockpit/meterfleet/internal/supervisor"
	"github.com/ClusterCockpit/meterfleet/pkg/log"
)

func main() {
	var flagConfigFile string
	var flagGops bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the global config options by those specified in `config.json`")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()
	if flag.NArg() > 0 {
		flagConfigFile = flag.Arg(0)
	}

	// See https://github.com/google/gops (runtime overhead is almost zero).
	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(25)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		cancel()
	}()

	sv := supervisor.New(flagConfigFile)

	runtimeEnv.SystemdNotifiy(true, "running")
	if err := sv.Run(ctx); err != nil {
		log.Fatalf("meterfleetd: %s", err.Error())
	}

	log.Print("Graceful shutdown completed!")
}
