// Command pbcdlcomm collects time-series tables from a PakBus/BMP5
// datalogger and appends them as delimited-text records to per-table
// output files. It loads a YAML configuration file, acquires an exclusive
// lockfile so only one instance runs per working directory, and shuts down
// cleanly on SIGTERM or SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kvello/pbcdlcomm/clog"
	"github.com/kvello/pbcdlcomm/collector"
	"github.com/kvello/pbcdlcomm/config"
	"github.com/kvello/pbcdlcomm/datamgr"
	"github.com/kvello/pbcdlcomm/lockfile"
	"github.com/kvello/pbcdlcomm/metrics"
	"github.com/kvello/pbcdlcomm/pakbus"
)

func main() {
	configPath := flag.String("config", "/etc/pbcdlcomm/config.yaml", "path to the collection agent YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug logging and PakBus hex tracing")
	metricsAddr := flag.String("metrics-addr", "", "listen address for the Prometheus /metrics endpoint (disabled if empty)")
	flag.Parse()

	logger := logrus.New()
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbcdlcomm: %v\n", err)
		os.Exit(1)
	}

	initLog := clog.NewLogger("init")
	initLog.SetLogProvider(clog.NewLogrusProvider(logger, "init"))
	initLog.LogMode(true)

	lock, err := lockfile.Acquire(filepath.Join(cfg.WorkingPath, collector.AppName+".lock"))
	if err != nil {
		initLog.Critical("%v", err)
		os.Exit(1)
	}
	defer lock.Release()

	dialer, err := newDialer(cfg.DataSource)
	if err != nil {
		initLog.Critical("%v", err)
		os.Exit(1)
	}

	traceDir := ""
	if *debug || cfg.Trace {
		traceDir = cfg.WorkingPath
	}

	mgr := buildManager(*cfg)

	sessionLog := clog.NewLogger("session")
	sessionLog.SetLogProvider(clog.NewLogrusProvider(logger, "session"))
	sessionLog.LogMode(true)

	proc := collector.New(collector.Config{
		Dialer:      dialer,
		Addr:        toPBAddr(cfg.PakbusAddr),
		ReadTimeout: time.Duration(cfg.DataSource.ReadTimeoutS) * time.Second,
		HexTraceDir: traceDir,
		Manager:     mgr,
		Log:         sessionLog,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		initLog.Warn("received %s, shutting down", sig)
		cancel()
	}()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, initLog)
	}

	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		initLog.Error("collection agent failed: %v", err)
		os.Exit(1)
	}

	initLog.Debug("collection agent shut down")
}

func buildManager(cfg config.Config) *datamgr.Manager {
	tables := make([]datamgr.TableOpt, len(cfg.Tables))
	for i, t := range cfg.Tables {
		tables[i] = datamgr.TableOpt{
			TableName: t.Name,
			TableSpan: t.SpanSecs,
			SampleInt: t.SampleSecs,
		}
	}
	return datamgr.NewManager(datamgr.DataOutputConfig{
		WorkingPath: cfg.WorkingPath,
		StationName: cfg.StationName,
		LoggerType:  cfg.LoggerType,
		Tables:      tables,
		Separator:   cfg.Separator,
	}, datamgr.NewTOA5Writer(cfg.WorkingPath, cfg.Separator))
}

func toPBAddr(a config.PakbusAddrConfig) pakbus.Addr {
	return pakbus.Addr{
		SrcNode:  a.SrcNode,
		DstNode:  a.DstNode,
		SrcPhys:  a.SrcPhys,
		DstPhys:  a.DstPhys,
		HopCount: a.HopCount,
	}
}

func serveMetrics(addr string, log clog.Clog) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Debug("metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server error: %v", err)
	}
}
