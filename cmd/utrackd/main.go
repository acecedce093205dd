// Command utrackd runs a standalone UDP BitTorrent tracker.
package main

import (
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jzelinskie/utrackd/internal/counters"
	"github.com/jzelinskie/utrackd/pkg/log"

	"github.com/jzelinskie/utrackd"
)

func main() {
	var configFilePath string
	var cpuProfilePath string
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "utrackd",
		Short: "UDP BitTorrent Tracker",
		Long:  "A high-throughput, protocol-only BitTorrent tracker speaking the UDP tracker protocol",
		Run: func(cmd *cobra.Command, args []string) {
			if err := run(configFilePath, cpuProfilePath, debug); err != nil {
				stdlog.Fatal(err)
			}
		},
	}

	rootCmd.Flags().StringVar(&configFilePath, "config", "/etc/utrackd.yaml", "location of configuration file")
	rootCmd.Flags().StringVarP(&cpuProfilePath, "cpuprofile", "", "", "location to save a CPU profile")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		stdlog.Fatal(err)
	}
}

func run(configFilePath, cpuProfilePath string, debugFlag bool) error {
	if cpuProfilePath != "" {
		f, err := os.Create(cpuProfilePath)
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	configFile, err := ParseConfigFile(configFilePath)
	if err != nil {
		return errors.New("failed to read config: " + err.Error())
	}
	cfg := configFile.MainConfigBlock

	log.SetDebug(debugFlag || cfg.Debug)

	tr, err := utrackd.New(cfg.Config)
	if err != nil {
		return errors.New("failed to start tracker: " + err.Error())
	}

	if cfg.PrometheusAddr != "" {
		prometheus.MustRegister(counters.NewCollector(tr.Counters()))
		go func() {
			promServer := http.Server{
				Addr:    cfg.PrometheusAddr,
				Handler: promhttp.Handler(),
			}
			log.Info("started serving prometheus stats", log.Fields{"addr": cfg.PrometheusAddr})
			if err := promServer.ListenAndServe(); err != nil {
				log.Error("prometheus server exited", log.Err(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down", log.Fields{})
	for _, err := range tr.Stop() {
		if err != nil {
			log.Error("error during shutdown", log.Err(err))
		}
	}

	return nil
}
