package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pevans/finharvest"
	"github.com/pevans/finharvest/browser"
	"github.com/pevans/finharvest/config"
	"github.com/pevans/finharvest/dataset"
	"github.com/pevans/finharvest/journal"
	"github.com/sirupsen/logrus"
)

// Exit codes
const (
	exitOK          = 0
	exitConfig      = 1
	exitMalformed   = 2
	exitBrowser     = 3
	exitFatal       = 4
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// A .env file is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	opts, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitConfig
	}
	if opts == nil {
		return exitOK
	}

	if opts.ShowVersion {
		fmt.Printf("finharvest %s\n", opts.Version)
		return exitOK
	}

	if opts.InitSources != "" {
		if err := config.WriteSourcesFile(opts.InitSources); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitConfig
		}
		fmt.Printf("Wrote sources to %s\n", opts.InitSources)
		return exitOK
	}

	if opts.ListFailures > 0 {
		return listFailures(opts.Journal, opts.ListFailures)
	}

	log, closeLog, err := newLogger(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitConfig
	}
	defer closeLog()

	return harvest(opts, log)
}

func harvest(opts *config.Options, log *logrus.Logger) int {
	sources, err := config.LoadSourcesFile(opts.SourcesFile)
	if err != nil {
		log.WithError(err).Error("Failed to load sources")
		return exitConfig
	}

	ds, err := dataset.New(opts.Output)
	if err != nil {
		log.WithError(err).Error("Failed to open dataset")
		return exitFatal
	}

	// Fail on a malformed dataset before paying for a browser
	if _, err := ds.ResumeDate(opts.StartDate); err != nil {
		log.WithError(err).WithField("output", opts.Output).Error("Dataset is malformed; fix or move it")
		return exitMalformed
	}

	var j *journal.Journal
	if opts.Journal != "" {
		j, err = journal.Open(opts.Journal)
		if err != nil {
			log.WithError(err).Error("Failed to open journal")
			return exitFatal
		}
		defer j.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, opts.ReadyTimeout)
	chrome, err := browser.NewChrome(startCtx, browser.ChromeOptions{
		ExecPath:  opts.ChromePath,
		Headless:  !opts.ShowBrowser,
		UserAgent: opts.UserAgent,
		Logf:      log.WithField("component", "chrome").Debugf,
	})
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return exitInterrupted
		}
		log.WithError(err).Error("Failed to start browser")
		return exitBrowser
	}
	defer chrome.Close()

	collector := finharvest.NewCollector(
		chrome,
		finharvest.HTTPFeedFetcher(&http.Client{Timeout: opts.SourceTimeout}, opts.UserAgent),
		&finharvest.CollectorConfig{
			Sources:       sources,
			Polling:       opts.Polling(),
			Pagination:    opts.Pagination(),
			SourceTimeout: opts.SourceTimeout,
		},
		log,
	)

	harvester := finharvest.NewHarvester(collector, ds, finharvest.HarvesterConfig{
		DefaultStart: opts.StartDate,
		Journal:      j,
	}, log)

	log.WithFields(logrus.Fields{
		"version": opts.Version,
		"output":  opts.Output,
	}).Info("finharvest starting")

	_, err = harvester.Run(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		log.Warn("Interrupted; the next run resumes after the last saved day")
		return exitInterrupted
	case errors.Is(err, dataset.ErrMalformed):
		log.WithError(err).Error("Dataset is malformed")
		return exitMalformed
	default:
		log.WithError(err).Error("Harvest failed")
		return exitFatal
	}
}

func listFailures(path string, limit int) int {
	j, err := journal.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}
	defer j.Close()

	failures, err := j.Failures(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}

	printFailures(os.Stdout, failures)
	return exitOK
}
