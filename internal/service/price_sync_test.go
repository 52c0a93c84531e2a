package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"investsync/internal/client/moex"
	"investsync/internal/config"
	"investsync/internal/models"
)

type stubExchange struct {
	pages []moex.HistoryPage
	calls int
	fail  error
}

func (e *stubExchange) History(ctx context.Context, board, secid, from, till string, start int) (*moex.HistoryPage, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	if e.calls >= len(e.pages) {
		return &moex.HistoryPage{}, nil
	}
	page := e.pages[e.calls]
	e.calls++
	return &page, nil
}

func day(value string) time.Time {
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return parsed
}

func TestFetchWindow(t *testing.T) {
	today := day("2026-08-28") // Friday
	cases := []struct {
		name     string
		last     string
		horizon  int
		wantFrom string
		wantOK   bool
	}{
		{"no bars uses horizon", "", 30, "2026-07-29", true},
		{"resumes after last bar", "2026-08-25", 30, "2026-08-26", true},
		{"covered through today", "2026-08-28", 30, "", false},
		{"unparseable falls back to horizon", "garbage", 30, "2026-07-29", true},
		{"zero horizon gets default", "", 0, "2023-08-25", true},
	}
	for _, tc := range cases {
		from, till, ok := fetchWindow(tc.last, today, tc.horizon)
		if ok != tc.wantOK {
			t.Fatalf("%s: ok=%v want %v", tc.name, ok, tc.wantOK)
		}
		if !ok {
			continue
		}
		if from != tc.wantFrom {
			t.Fatalf("%s: from=%s want %s", tc.name, from, tc.wantFrom)
		}
		if till != "2026-08-28" {
			t.Fatalf("%s: till=%s", tc.name, till)
		}
	}
}

func TestClassifyEmptyFetch(t *testing.T) {
	cases := []struct {
		date string
		want emptyFetchReason
	}{
		{"2026-08-29", reasonWeekend}, // Saturday
		{"2026-08-30", reasonWeekend}, // Sunday
		{"2026-01-07", reasonHoliday},
		{"2026-05-01", reasonHoliday},
		{"2026-03-09", reasonUpToDate}, // Monday after a holiday, not itself one
		{"2026-08-28", reasonUpToDate}, // ordinary Friday
	}
	for _, tc := range cases {
		if got := classifyEmptyFetch(day(tc.date)); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.date, got, tc.want)
		}
	}
}

func bar(secid, date string, close float64) models.PriceBar {
	return models.PriceBar{BoardID: "TQBR", SecID: secid, TradeDate: date, Close: &close}
}

func testPriceService(repo *stubRepo, exchange HistorySource) *PriceSyncService {
	return &PriceSyncService{
		Store:     repo,
		Exchange:  exchange,
		Board:     "TQBR",
		Config:    config.PricesConfig{HorizonDays: 30},
		Retention: config.RetentionConfig{MaxHistoryDays: 1000},
	}
}

func TestSyncSecurity_PagesThroughCursor(t *testing.T) {
	repo := newStubRepo()
	exchange := &stubExchange{pages: []moex.HistoryPage{
		{Bars: []models.PriceBar{bar("SBER", "2026-08-25", 300), bar("SBER", "2026-08-26", 301)}, Index: 0, Total: 3, PageSize: 2},
		{Bars: []models.PriceBar{bar("SBER", "2026-08-27", 302)}, Index: 2, Total: 3, PageSize: 2},
	}}
	svc := testPriceService(repo, exchange)

	result, err := svc.syncSecurity(context.Background(), "SBER", day("2026-08-28"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if result.BarsInserted != 3 {
		t.Fatalf("inserted=%d want 3", result.BarsInserted)
	}
	if result.Pages != 2 {
		t.Fatalf("pages=%d want 2", result.Pages)
	}
	if exchange.calls != 2 {
		t.Fatalf("calls=%d want 2", exchange.calls)
	}
}

func TestSyncSecurity_DuplicatesAreNotReinserted(t *testing.T) {
	repo := newStubRepo()
	existing := bar("SBER", "2026-08-25", 300)
	if _, err := repo.InsertPriceBarIfAbsent(context.Background(), &existing); err != nil {
		t.Fatalf("seed: %v", err)
	}
	exchange := &stubExchange{pages: []moex.HistoryPage{
		{Bars: []models.PriceBar{bar("SBER", "2026-08-25", 300), bar("SBER", "2026-08-26", 301)}, Total: 2, PageSize: 100},
	}}
	svc := testPriceService(repo, exchange)

	result, err := svc.syncSecurity(context.Background(), "SBER", day("2026-08-28"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if result.BarsInserted != 1 || result.BarsDuplicate != 1 {
		t.Fatalf("inserted=%d duplicate=%d", result.BarsInserted, result.BarsDuplicate)
	}
}

func TestSyncSecurity_WeekendClassification(t *testing.T) {
	repo := newStubRepo()
	seeded := bar("SBER", "2026-08-28", 300)
	if _, err := repo.InsertPriceBarIfAbsent(context.Background(), &seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := testPriceService(repo, &stubExchange{})

	// Saturday, store covers through Friday: nothing to fetch.
	result, err := svc.syncSecurity(context.Background(), "SBER", day("2026-08-29"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if result.Weekend != 1 {
		t.Fatalf("weekend=%d want 1", result.Weekend)
	}
}

func TestSyncSecurity_TrimsEvenWhenFetchFails(t *testing.T) {
	repo := newStubRepo()
	old := bar("SBER", "2020-01-02", 100)
	if _, err := repo.InsertPriceBarIfAbsent(context.Background(), &old); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := testPriceService(repo, &stubExchange{fail: fmt.Errorf("exchange down")})

	result, _ := svc.syncSecurity(context.Background(), "SBER", day("2026-08-28"))
	if result.Errors == 0 {
		t.Fatalf("expected fetch error counted")
	}
	if result.BarsPruned != 1 {
		t.Fatalf("pruned=%d want 1 (retention must not depend on fetch)", result.BarsPruned)
	}
}

func TestEnsureFullCoverage_SkipsCoveredSecurities(t *testing.T) {
	repo := newStubRepo()
	secid := "SBER"
	repo.instruments = []models.Instrument{
		{UID: "uid-1", Ticker: "SBER", SecID: &secid},
		{UID: "uid-2", Ticker: "GAZP"},
	}
	seeded := bar("SBER", "2026-08-27", 300)
	if _, err := repo.InsertPriceBarIfAbsent(context.Background(), &seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}
	exchange := &stubExchange{pages: []moex.HistoryPage{
		{Bars: []models.PriceBar{bar("GAZP", "2026-08-27", 180)}, Total: 1, PageSize: 100},
	}}
	svc := testPriceService(repo, exchange)

	result, err := svc.EnsureFullCoverage(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	// Only GAZP (no bars yet) is backfilled.
	if result.Instruments != 1 || result.BarsInserted != 1 {
		t.Fatalf("instruments=%d inserted=%d", result.Instruments, result.BarsInserted)
	}
}

func TestDailyUpdateAll_HonorsInstrumentLimit(t *testing.T) {
	repo := newStubRepo()
	for _, ticker := range []string{"AAA", "BBB", "CCC"} {
		repo.instruments = append(repo.instruments, models.Instrument{UID: ticker, Ticker: ticker})
	}
	exchange := &stubExchange{}
	svc := testPriceService(repo, exchange)
	svc.Config.InstrumentLimit = 2

	result, err := svc.DailyUpdateAll(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if result.Instruments != 2 {
		t.Fatalf("instruments=%d want 2", result.Instruments)
	}
}
