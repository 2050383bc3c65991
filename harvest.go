// Package finharvest harvests dated news listings and feeds into a
// resumable CSV dataset, one calendar day at a time.
package finharvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/finharvest/dataset"
	"github.com/pevans/finharvest/journal"
	"github.com/sirupsen/logrus"
)

// DefaultStartDate is the first date collected into an empty dataset.
var DefaultStartDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DayCollector collects every source for one date.
type DayCollector interface {
	CollectDay(ctx context.Context, date time.Time) *DayResult
}

// HarvesterConfig configures a Harvester. Zero values select the defaults.
type HarvesterConfig struct {
	// DefaultStart is used when the dataset has no rows.
	DefaultStart time.Time
	// Journal, if set, receives run and outcome records.
	Journal *journal.Journal
	// Now returns the current time; the run ends on its calendar date.
	Now func() time.Time
}

// RunResult summarizes one harvest run.
type RunResult struct {
	RunID         uuid.UUID
	Start         time.Time
	End           time.Time
	Days          int
	Records       int
	FailedSources int
}

// Harvester walks the dates between the dataset's resume point and today,
// appending each day's records before moving on.
type Harvester struct {
	collector    DayCollector
	dataset      *dataset.Dataset
	journal      *journal.Journal
	defaultStart time.Time
	now          func() time.Time
	log          logrus.FieldLogger
}

// NewHarvester creates a harvester writing to ds.
func NewHarvester(collector DayCollector, ds *dataset.Dataset, config HarvesterConfig, log logrus.FieldLogger) *Harvester {
	h := &Harvester{
		collector:    collector,
		dataset:      ds,
		journal:      config.Journal,
		defaultStart: config.DefaultStart,
		now:          config.Now,
		log:          log,
	}
	if h.defaultStart.IsZero() {
		h.defaultStart = DefaultStartDate
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	return h
}

// Run collects every date from the resume point to today inclusive. A
// malformed dataset aborts the run before anything is collected. If ctx is
// cancelled the day in progress is discarded and ctx's error is returned;
// the next run resumes after the last day written.
func (h *Harvester) Run(ctx context.Context) (*RunResult, error) {
	start, err := h.dataset.ResumeDate(h.defaultStart)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve start date: %w", err)
	}
	end := dataset.Day(h.now())

	result := &RunResult{
		RunID: uuid.New(),
		Start: start,
		End:   end,
	}

	journaled := false
	if h.journal != nil {
		runID, err := h.journal.StartRun(start, end)
		if err != nil {
			h.log.WithError(err).Warn("Failed to journal run; continuing without journal")
		} else {
			result.RunID = runID
			journaled = true
		}
	}

	log := h.log.WithField("run", result.RunID.String())
	log.WithFields(logrus.Fields{
		"start": dataset.FormatDate(start),
		"end":   dataset.FormatDate(end),
	}).Info("Starting harvest")

	err = h.walk(ctx, log, result, journaled)

	if journaled {
		if jerr := h.journal.FinishRun(result.RunID, runStatus(err), err); jerr != nil {
			log.WithError(jerr).Warn("Failed to journal run completion")
		}
	}

	if err != nil {
		return result, err
	}

	log.WithFields(logrus.Fields{
		"days":    result.Days,
		"records": result.Records,
		"failed":  result.FailedSources,
	}).Info("Harvest finished")
	return result, nil
}

func (h *Harvester) walk(ctx context.Context, log logrus.FieldLogger, result *RunResult, journaled bool) error {
	for date := result.Start; !date.After(result.End); date = dataset.NextDay(date) {
		if err := ctx.Err(); err != nil {
			return err
		}

		day := h.collector.CollectDay(ctx, date)

		// Sources cut short by cancellation look like empty sources; writing
		// them would make the resume point skip the day
		if err := ctx.Err(); err != nil {
			log.WithField("date", dataset.FormatDate(date)).Warn("Interrupted; discarding day in progress")
			return err
		}

		if err := h.dataset.Append(day.Records); err != nil {
			return fmt.Errorf("failed to save %s: %w", dataset.FormatDate(date), err)
		}

		result.Days++
		result.Records += len(day.Records)
		result.FailedSources += day.Failures()

		log.WithFields(logrus.Fields{
			"date":    dataset.FormatDate(date),
			"records": len(day.Records),
			"failed":  day.Failures(),
		}).Info("Saved day")

		if journaled {
			if err := h.journal.RecordOutcomes(result.RunID, date, journalOutcomes(day.Outcomes)); err != nil {
				log.WithError(err).Warn("Failed to journal outcomes")
			}
		}
	}

	return nil
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return journal.StatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return journal.StatusInterrupted
	default:
		return journal.StatusFailed
	}
}

func journalOutcomes(outcomes []SourceOutcome) []journal.Outcome {
	out := make([]journal.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		jo := journal.Outcome{
			Source:  o.Source,
			Kind:    o.Kind,
			URL:     o.URL,
			Records: o.Records,
			Loads:   o.Loads,
		}
		if o.Err != nil {
			jo.Error = o.Err.Error()
		}
		out = append(out, jo)
	}
	return out
}
