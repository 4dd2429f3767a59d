// Package pipeline runs the background jobs that move settled rounds out of
// the hot path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/spotlight/internal/clock"
	"github.com/alanyoungcy/spotlight/internal/domain"
)

// Archiver exports completed rounds to cold storage on a cron schedule. Each
// run covers the 24 hours that ended retentionDays ago.
type Archiver struct {
	archiver      domain.Archiver
	retentionDays int
	clock         clock.Clock
	logger        *slog.Logger
}

func NewArchiver(archiver domain.Archiver, retentionDays int, clk clock.Clock, logger *slog.Logger) *Archiver {
	return &Archiver{
		archiver:      archiver,
		retentionDays: retentionDays,
		clock:         clk,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Window returns the [since, before) range a run at now covers. before is
// truncated to midnight UTC so reruns on the same day hit the same object.
func (a *Archiver) Window(now time.Time) (since, before time.Time) {
	before = now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -a.retentionDays)
	return before.AddDate(0, 0, -1), before
}

// Run performs one archive run.
func (a *Archiver) Run(ctx context.Context) (domain.ArchiveResult, error) {
	since, before := a.Window(a.clock.Now())
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("since", since),
		slog.Time("before", before),
	)

	res, err := a.archiver.ArchiveRounds(ctx, since, before)
	if err != nil {
		return res, fmt.Errorf("pipeline: archive rounds before %v: %w", before, err)
	}
	if res.Skipped {
		a.logger.InfoContext(ctx, "archive window already exported", slog.String("path", res.Path))
		return res, nil
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("pools", res.Pools),
		slog.Int64("bids", res.Bids),
		slog.String("path", res.Path),
	)
	return res, nil
}

// RunCron runs the archiver on a 5-field cron schedule
// ("minute hour day-of-month month day-of-week") until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	if _, err := parseCron(cronExpr); err != nil {
		return fmt.Errorf("pipeline: cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, a.clock.Now())
		if err != nil {
			return fmt.Errorf("pipeline: cron expression %q: %w", cronExpr, err)
		}
		wait := next.Sub(a.clock.Now())
		a.logger.DebugContext(ctx, "archiver waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

type cronField struct {
	wildcard bool
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField accepts "*", a number, or a comma list of numbers.
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid value %q: %w", p, err)
		}
		if v < lo || v > hi {
			return cronField{}, fmt.Errorf("value %d outside [%d, %d]", v, lo, hi)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

type parsedCron struct {
	minute, hour, dayOfMonth, month, dayOfWeek cronField
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return parsedCron{}, fmt.Errorf("%s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return parsedCron{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// nextCronTime returns the first minute after `after` matching cronExpr,
// searching at most one year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within one year for %q", cronExpr)
}
