// Package history assembles a continuous candle series from a broker that
// serves bounded windows and stays silent while the market is closed.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"restbridge/config"
	"restbridge/internal/envelope"
	"restbridge/logger"
	"restbridge/models"
)

// Fetcher loads the candles of one window. Implementations map the broker
// response; the assembler handles ordering, range and gaps.
type Fetcher interface {
	Fetch(ctx context.Context, symbol, period string, from, to time.Time) ([]models.Candle, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, symbol, period string, from, to time.Time) ([]models.Candle, error)

func (f FetcherFunc) Fetch(ctx context.Context, symbol, period string, from, to time.Time) ([]models.Candle, error) {
	return f(ctx, symbol, period, from, to)
}

// Session is the weekly trading window. Weekdays count from Sunday = 0.
type Session struct {
	OpenWday  time.Weekday
	OpenHour  int
	CloseWday time.Weekday
	CloseHour int
	OffWday   time.Weekday
}

func SessionFromConfig(m config.MarketConfig) Session {
	return Session{
		OpenWday:  time.Weekday(m.OpenWday),
		OpenHour:  m.OpenHour,
		CloseWday: time.Weekday(m.CloseWday),
		CloseHour: m.CloseHour,
		OffWday:   time.Weekday(m.OffWday),
	}
}

func (s Session) closed(t time.Time) bool {
	wd, h := t.Weekday(), t.Hour()
	return (wd == s.CloseWday && h > s.CloseHour) ||
		wd == s.OffWday ||
		(wd == s.OpenWday && h < s.OpenHour)
}

// Skip moves t past a closed stretch minute by minute, or by one hour when
// t is inside the session.
func (s Session) Skip(t time.Time) time.Time {
	t = t.UTC()
	next := t
	for s.closed(next) {
		next = next.Add(time.Minute)
	}
	if next.Equal(t) {
		return t.Add(time.Hour)
	}
	return next
}

type Options struct {
	Session  Session
	MaxBatch int
	// Benign error substrings that mean "no data for this window".
	Benign []string
	// ServerTime caps window ends when it returns a non-zero time.
	ServerTime func() time.Time
}

type Assembler struct {
	fetcher Fetcher
	opts    Options
	log     *logger.Log
}

func NewAssembler(f Fetcher, opts Options) *Assembler {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 2000
	}
	return &Assembler{fetcher: f, opts: opts, log: logger.GetLogger()}
}

// Assemble returns the candles of symbol and period starting strictly after
// start and no later than end minus one period, in ascending order.
func (a *Assembler) Assemble(ctx context.Context, symbol, period string, start, end time.Time) ([]models.Candle, error) {
	p, err := models.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	start, end = start.UTC(), end.UTC()

	log := a.log.WithComponent("history").WithFields(logger.Fields{
		"symbol": symbol,
		"period": period,
	})

	var out []models.Candle
	last := start
	limit := end.Add(-p)
	cur := start.Add(-p)
	windows := 0

	for !cur.After(end) {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		to := cur.Add(time.Duration(a.opts.MaxBatch) * p)
		if to.After(end) {
			to = end
		}
		if a.opts.ServerTime != nil {
			if st := a.opts.ServerTime(); !st.IsZero() && to.After(st) {
				to = st
			}
		}
		if cur.After(to) {
			break
		}

		batch, err := a.fetcher.Fetch(ctx, symbol, period, cur, to)
		windows++
		if err != nil {
			switch {
			case envelope.IsBenign(err, a.opts.Benign):
				log.WithError(err).Debug("window has no data")
				batch = nil
			case envelope.IsParseError(err):
				log.WithError(err).Warn("unparsable window treated as empty")
				batch = nil
			default:
				return nil, fmt.Errorf("fetch %s %s [%s, %s]: %w", symbol, period, cur.Format(time.RFC3339), to.Format(time.RFC3339), err)
			}
		}

		sort.Slice(batch, func(i, j int) bool { return batch[i].StartDate.Before(batch[j].StartDate) })
		accepted := 0
		for _, c := range batch {
			if c.StartDate.After(last) && !c.StartDate.After(limit) {
				out = append(out, c)
				last = c.StartDate
				accepted++
			}
		}

		if accepted > 0 {
			cur = last.Add(-p)
		} else {
			cur = a.opts.Session.Skip(cur)
		}
	}

	log.WithFields(logger.Fields{
		"windows": windows,
		"candles": len(out),
	}).Debug("history assembled")
	return out, nil
}
