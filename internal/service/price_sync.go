package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"investsync/internal/client/moex"
	"investsync/internal/config"
	"investsync/internal/models"
	"investsync/internal/repository"
)

// HistorySource is the exchange surface the price sync needs. Satisfied by
// *moex.Client.
type HistorySource interface {
	History(ctx context.Context, board, secid, from, till string, start int) (*moex.HistoryPage, error)
}

type PriceSyncService struct {
	Store     repository.Repository
	Exchange  HistorySource
	Logger    *zap.Logger
	Config    config.PricesConfig
	Retention config.RetentionConfig
	Board     string
}

// PriceSyncResult aggregates the counters of one price sync run.
type PriceSyncResult struct {
	Instruments     int  `json:"instruments"`
	BarsInserted    int  `json:"bars_inserted"`
	BarsDuplicate   int  `json:"bars_duplicate"`
	Pages           int  `json:"pages"`
	Weekend         int  `json:"weekend"`
	Holiday         int  `json:"holiday"`
	UpToDate        int  `json:"up_to_date"`
	Errors          int  `json:"errors"`
	BarsPruned      int  `json:"bars_pruned"`
	BudgetExhausted bool `json:"budget_exhausted"`
}

func (r *PriceSyncResult) add(other PriceSyncResult) {
	r.Instruments += other.Instruments
	r.BarsInserted += other.BarsInserted
	r.BarsDuplicate += other.BarsDuplicate
	r.Pages += other.Pages
	r.Weekend += other.Weekend
	r.Holiday += other.Holiday
	r.UpToDate += other.UpToDate
	r.Errors += other.Errors
	r.BarsPruned += other.BarsPruned
}

// marketHolidays are fixed-date Russian exchange closures, keyed by
// (month, day). An approximation: movable bridge days announced per year are
// not tracked, those days simply classify as up-to-date instead.
var marketHolidays = map[[2]int]bool{
	{1, 1}: true, {1, 2}: true, {1, 3}: true, {1, 4}: true,
	{1, 5}: true, {1, 6}: true, {1, 7}: true, {1, 8}: true,
	{2, 23}: true, {3, 8}: true, {5, 1}: true, {5, 9}: true,
	{6, 12}: true, {11, 4}: true, {12, 31}: true,
}

type emptyFetchReason int

const (
	reasonUpToDate emptyFetchReason = iota
	reasonWeekend
	reasonHoliday
)

// classifyEmptyFetch explains a day with no new bars: weekend first, then the
// fixed holiday set, otherwise the market simply has nothing newer.
func classifyEmptyFetch(day time.Time) emptyFetchReason {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return reasonWeekend
	}
	if marketHolidays[[2]int{int(day.Month()), day.Day()}] {
		return reasonHoliday
	}
	return reasonUpToDate
}

// fetchWindow computes the [from, till] range for one security: from the day
// after the last stored bar, or horizonDays back when no bars exist yet.
// Returns ok=false when the store already covers today.
func fetchWindow(lastTradeDate string, today time.Time, horizonDays int) (from, till string, ok bool) {
	if horizonDays <= 0 {
		horizonDays = 1100
	}
	till = today.Format("2006-01-02")
	if lastTradeDate == "" {
		from = today.AddDate(0, 0, -horizonDays).Format("2006-01-02")
		return from, till, true
	}
	last, err := time.Parse("2006-01-02", lastTradeDate)
	if err != nil {
		// Unparseable stored date, fall back to the full horizon.
		from = today.AddDate(0, 0, -horizonDays).Format("2006-01-02")
		return from, till, true
	}
	start := last.AddDate(0, 0, 1)
	if start.After(today) {
		return "", "", false
	}
	return start.Format("2006-01-02"), till, true
}

// syncSecurity pulls all missing bars for one security, paging through the
// exchange cursor, then trims bars that slid out of the retention window.
// The trim runs even when the fetch failed, so retention never depends on
// exchange availability.
func (s *PriceSyncService) syncSecurity(ctx context.Context, secid string, today time.Time) (PriceSyncResult, error) {
	var result PriceSyncResult
	result.Instruments = 1

	fetchErr := s.fetchBars(ctx, secid, today, &result)
	if fetchErr != nil {
		result.Errors++
		if s.Logger != nil {
			s.Logger.Warn("price fetch failed for security",
				zap.String("secid", secid),
				zap.Error(fetchErr))
		}
	}

	if s.Retention.MaxHistoryDays > 0 {
		cutoff := today.AddDate(0, 0, -s.Retention.MaxHistoryDays).Format("2006-01-02")
		pruned, err := s.Store.DeletePriceBarsBefore(ctx, s.Board, secid, cutoff)
		if err != nil {
			result.Errors++
			if s.Logger != nil {
				s.Logger.Warn("price retention trim failed",
					zap.String("secid", secid),
					zap.Error(err))
			}
		}
		result.BarsPruned += int(pruned)
	}
	return result, fetchErr
}

func (s *PriceSyncService) fetchBars(ctx context.Context, secid string, today time.Time, result *PriceSyncResult) error {
	last, err := s.Store.LatestTradeDate(ctx, s.Board, secid)
	if err != nil {
		return err
	}
	from, till, ok := fetchWindow(last, today, s.Config.HorizonDays)
	if !ok {
		result.UpToDate++
		return nil
	}

	offset := 0
	inserted := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		page, err := s.Exchange.History(ctx, s.Board, secid, from, till, offset)
		if err != nil {
			return err
		}
		result.Pages++
		if len(page.Bars) == 0 {
			break
		}
		for i := range page.Bars {
			wrote, err := s.Store.InsertPriceBarIfAbsent(ctx, &page.Bars[i])
			if err != nil {
				return err
			}
			if wrote {
				inserted++
			} else {
				result.BarsDuplicate++
			}
		}
		advance := page.PageSize
		if advance <= 0 {
			advance = len(page.Bars)
		}
		offset += advance
		if page.Total > 0 && offset >= page.Total {
			break
		}
		// A cursor that reports no total and a short page is the end.
		if page.Total == 0 && len(page.Bars) < advance {
			break
		}
	}
	result.BarsInserted += inserted

	if inserted == 0 {
		switch classifyEmptyFetch(today) {
		case reasonWeekend:
			result.Weekend++
		case reasonHoliday:
			result.Holiday++
		default:
			result.UpToDate++
		}
	}
	return nil
}

// DailyUpdateAll pulls the missing tail of bars for every instrument with an
// exchange security code. A soft global time budget and an instrument limit
// bound the run; instruments left over when either trips are not errors,
// they are simply picked up next run.
func (s *PriceSyncService) DailyUpdateAll(ctx context.Context) (PriceSyncResult, error) {
	return s.runAll(ctx, false)
}

// EnsureFullCoverage backfills only securities that have no bars at all,
// over the full horizon window.
func (s *PriceSyncService) EnsureFullCoverage(ctx context.Context) (PriceSyncResult, error) {
	return s.runAll(ctx, true)
}

func (s *PriceSyncService) runAll(ctx context.Context, onlyEmpty bool) (PriceSyncResult, error) {
	var result PriceSyncResult
	if s == nil || s.Store == nil || s.Exchange == nil {
		return result, nil
	}
	instruments, err := s.Store.ListInstruments(ctx)
	if err != nil {
		return result, err
	}
	today := time.Now().UTC()
	started := time.Now()
	processed := 0
	scope := "prices"
	if onlyEmpty {
		scope = "prices_backfill"
	}
	for _, inst := range instruments {
		if ctx.Err() != nil {
			break
		}
		if s.Config.GlobalBudget > 0 && time.Since(started) > s.Config.GlobalBudget {
			result.BudgetExhausted = true
			if s.Logger != nil {
				s.Logger.Info("price sync time budget exhausted",
					zap.Int("processed", processed),
					zap.Int("total", len(instruments)))
			}
			break
		}
		if s.Config.InstrumentLimit > 0 && processed >= s.Config.InstrumentLimit {
			break
		}
		secid := secIDOf(inst)
		if secid == "" {
			continue
		}
		if onlyEmpty {
			count, err := s.Store.CountPriceBars(ctx, s.Board, secid)
			if err != nil {
				result.Errors++
				continue
			}
			if count > 0 {
				continue
			}
		}
		one, _ := s.syncSecurity(ctx, secid, today)
		result.add(one)
		processed++
	}
	s.saveState(ctx, scope, result)
	return result, nil
}

func secIDOf(inst models.Instrument) string {
	if inst.SecID != nil && strings.TrimSpace(*inst.SecID) != "" {
		return strings.TrimSpace(*inst.SecID)
	}
	return strings.TrimSpace(inst.Ticker)
}

func (s *PriceSyncService) saveState(ctx context.Context, scope string, result PriceSyncResult) {
	if s.Store == nil {
		return
	}
	now := time.Now().UTC()
	state := &models.SyncState{
		Scope:         scope,
		LastAttemptAt: &now,
	}
	if result.Errors == 0 {
		state.LastSuccessAt = &now
	}
	if stats, err := json.Marshal(result); err == nil {
		state.StatsJSON = datatypes.JSON(stats)
	}
	if err := s.Store.SaveSyncState(ctx, state); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to save price sync state", zap.Error(err))
	}
}
