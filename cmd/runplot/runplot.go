// Command runplot renders a finished run's tagged object locations to a PNG
// scatter and an interactive HTML page inside the run directory.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/banshee-data/alphascan/internal/monitoring"
	"github.com/banshee-data/alphascan/internal/pipeline"
	"github.com/banshee-data/alphascan/internal/report"
)

var (
	runDir   = flag.String("run", "", "Run directory holding the dataset CSV (required)")
	dataset  = flag.String("dataset", pipeline.TagLocationDataset, "Dataset to render")
	logLevel = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Parse()

	logger, closer, err := monitoring.NewLogger(monitoring.LogConfig{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "runplot: %v\n", err)
		os.Exit(2)
	}
	defer closer.Close()
	monitoring.SetLogger(monitoring.LogrusLogf(logger))

	if *runDir == "" {
		flag.Usage()
		os.Exit(2)
	}

	written, err := report.RenderRun(*runDir, *dataset)
	if err != nil {
		logger.Errorf("runplot: %v", err)
		closer.Close()
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Println(path)
	}
}
