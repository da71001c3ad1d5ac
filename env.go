package main

import "os"

// config is read once, at constructor time, and never mutated again;
// nothing here is re-read at runtime.
type config struct {
	patchAllObjs bool
	logPath      string
	logTrunc     bool
}

// Verbose gates the diagnostic stderr writes enabled by
// INTERCEPT_DEBUG_DUMP.
var Verbose bool

func loadConfig() *config {
	Verbose = os.Getenv("INTERCEPT_DEBUG_DUMP") != ""

	cfg := &config{
		patchAllObjs: os.Getenv("INTERCEPT_ALL_OBJS") != "",
		logPath:      os.Getenv("INTERCEPT_LOG"),
	}
	if _, ok := os.LookupEnv("INTERCEPT_LOG_TRUNC"); ok {
		cfg.logTrunc = true
	}
	return cfg
}
