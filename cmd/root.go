package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uber-go/tally"

	"github.com/deployr-hpc/deployr/deploy"
	"github.com/deployr-hpc/deployr/deploy/engine"
	_ "github.com/deployr-hpc/deployr/deploy/engine/tcp"
	"github.com/deployr-hpc/deployr/deploy/trace"
)

var (
	// CLI flags for the run subcommand
	requestPath   string // Deployment request file (JSON)
	engineName    string // Execution substrate, see engine.Names()
	emulationPath string // Emulated host topologies (YAML, local engine)
	participants  int    // Participant count when no emulation file decides it
	listenAddr    string // Coordinator bind address (tcp engine)
	joinAddr      string // Coordinator address to join as a worker (tcp engine)
	bindAddr      string // Worker bind address (tcp engine)
	extrasPath    string // Extra probed devices (YAML, tcp engine)
	logLevel      string // Log verbosity level
	tracePath     string // Protocol trace output file (JSON)
	printMetrics  bool   // Print a metrics snapshot after the run
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "deployr",
	Short: "Deploy jobs onto topology-matched hosts and run them",
}

// runCmd deploys a request on the selected engine and runs it to completion
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Deploy a request and run its instances",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if requestPath == "" {
			logrus.Fatalf("No deployment request provided. Use --request.")
		}
		req, err := deploy.LoadRequest(requestPath)
		if err != nil {
			logrus.Fatalf("Unable to load deployment request: %v", err)
		}

		registry := deploy.NewRegistry()
		registerDemoFunctions(registry)

		scope := tally.NoopScope
		var snapshotScope tally.TestScope
		if printMetrics {
			snapshotScope = tally.NewTestScope("deployr", nil)
			scope = snapshotScope
		}
		var recorder *trace.Recorder
		if tracePath != "" {
			recorder = trace.NewRecorder()
		}

		opts := engine.Options{
			EmulationPath: emulationPath,
			Participants:  participants,
			ListenAddr:    listenAddr,
			JoinAddr:      joinAddr,
			BindAddr:      bindAddr,
			ExtrasPath:    extrasPath,
		}
		if opts.Participants == 0 {
			opts.Participants = len(req.Instances)
		}
		err = engine.Run(engineName, opts, func(e deploy.Engine) error {
			d := deploy.New(e, registry, scope)
			d.SetTracer(recorder)
			return d.Run(req)
		})

		if recorder != nil {
			if werr := writeTrace(recorder, tracePath); werr != nil {
				logrus.Errorf("Unable to write protocol trace: %v", werr)
			}
		}
		if printMetrics {
			dumpMetrics(snapshotScope)
		}
		if err != nil {
			logrus.Fatalf("Deployment failed: %v", err)
		}
		logrus.Info("Deployment complete.")
	},
}

func writeTrace(recorder *trace.Recorder, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return recorder.WriteJSON(f)
}

// dumpMetrics prints the counter and gauge values accumulated during the
// run.
func dumpMetrics(scope tally.TestScope) {
	snapshot := scope.Snapshot()
	for _, counter := range snapshot.Counters() {
		logrus.Infof("metric %s = %d", counter.Name(), counter.Value())
	}
	for _, gauge := range snapshot.Gauges() {
		logrus.Infof("metric %s = %v", gauge.Name(), gauge.Value())
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&requestPath, "request", "", "Deployment request file (JSON)")
	runCmd.Flags().StringVar(&engineName, "engine", "local", "Execution engine (local, tcp)")
	runCmd.Flags().StringVar(&emulationPath, "emulation", "", "Emulated host topologies (YAML, local engine only)")
	runCmd.Flags().IntVar(&participants, "participants", 0, "Participant count (defaults to the request's instance count)")
	runCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:7077", "Coordinator bind address (tcp engine)")
	runCmd.Flags().StringVar(&joinAddr, "join", "", "Join the coordinator at this address as a worker (tcp engine)")
	runCmd.Flags().StringVar(&bindAddr, "bind", "", "Worker bind address (tcp engine, defaults to an ephemeral port)")
	runCmd.Flags().StringVar(&extrasPath, "extras", "", "Extra devices merged into the probed topology (YAML, tcp engine only)")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&tracePath, "trace", "", "Write the protocol trace to this file (JSON)")
	runCmd.Flags().BoolVar(&printMetrics, "print-metrics", false, "Print a metrics snapshot after the run")

	rootCmd.AddCommand(runCmd)
}
