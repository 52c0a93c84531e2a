package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"investsync/internal/client/tbank"
	"investsync/internal/models"
	"investsync/internal/repository"
)

// InstrumentSource is the broker surface the instrument sync needs.
// Satisfied by *tbank.Client.
type InstrumentSource interface {
	FindInstrument(ctx context.Context, query string) ([]tbank.InstrumentShort, error)
	GetInstrumentBy(ctx context.Context, idType, classCode, id string) (*tbank.InstrumentDetail, error)
	HasCredentials() bool
}

type InstrumentSyncService struct {
	Store     repository.Repository
	Broker    InstrumentSource
	Forecasts *ForecastSyncService
	Logger    *zap.Logger
	AutoFetch bool
}

// EnrichResult aggregates the counters of one attribute refresh pass.
type EnrichResult struct {
	Instruments int `json:"instruments"`
	Updated     int `json:"updated"`
	Errors      int `json:"errors"`
}

// AddInstrument resolves a user query (ticker, ISIN, FIGI or free text) to
// one instrument, stores it, and optionally pulls its first forecast right
// away. An exact ticker match wins over search ranking.
func (s *InstrumentSyncService) AddInstrument(ctx context.Context, query string) (*models.Instrument, error) {
	if s == nil || s.Store == nil || s.Broker == nil {
		return nil, nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("add instrument: empty query")
	}
	hits, err := s.Broker.FindInstrument(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("add instrument: no match for %q", query)
	}
	best := hits[0]
	for _, hit := range hits {
		if strings.EqualFold(hit.Ticker, query) {
			best = hit
			break
		}
	}
	inst, err := s.storeFromDetail(ctx, best)
	if err != nil {
		return nil, err
	}
	if s.AutoFetch && s.Forecasts != nil {
		if _, err := s.Forecasts.RefreshOne(ctx, *inst); err != nil && s.Logger != nil {
			s.Logger.Warn("initial forecast fetch failed for new instrument",
				zap.String("uid", inst.UID),
				zap.Error(err))
		}
	}
	return inst, nil
}

// storeFromDetail upgrades a search hit to the full instrument card and
// persists it. When the detail lookup fails the search hit alone is stored,
// attributes can be enriched later.
func (s *InstrumentSyncService) storeFromDetail(ctx context.Context, hit tbank.InstrumentShort) (*models.Instrument, error) {
	now := time.Now().UTC()
	inst := &models.Instrument{
		UID:            hit.UID,
		Ticker:         hit.Ticker,
		Name:           strPtrOrNil(hit.Name),
		SecID:          strPtrOrNil(hit.Ticker),
		ISIN:           strPtrOrNil(hit.ISIN),
		FIGI:           strPtrOrNil(hit.FIGI),
		ClassCode:      strPtrOrNil(hit.ClassCode),
		InstrumentType: strPtrOrNil(hit.InstrumentType),
		AddedAt:        now,
		UpdatedAt:      now,
	}
	detail, err := s.Broker.GetInstrumentBy(ctx, "INSTRUMENT_ID_TYPE_UID", "", hit.UID)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("instrument detail lookup failed, storing search hit",
				zap.String("uid", hit.UID),
				zap.Error(err))
		}
	} else if detail != nil {
		applyDetail(inst, detail, now)
	}
	if err := s.Store.UpsertInstrument(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func applyDetail(inst *models.Instrument, detail *tbank.InstrumentDetail, now time.Time) {
	if detail.Ticker != "" {
		inst.Ticker = detail.Ticker
		inst.SecID = strPtrOrNil(detail.Ticker)
	}
	if detail.Name != "" {
		inst.Name = strPtrOrNil(detail.Name)
	}
	if detail.ISIN != "" {
		inst.ISIN = strPtrOrNil(detail.ISIN)
	}
	if detail.FIGI != "" {
		inst.FIGI = strPtrOrNil(detail.FIGI)
	}
	if detail.ClassCode != "" {
		inst.ClassCode = strPtrOrNil(detail.ClassCode)
	}
	if detail.InstrumentType != "" {
		inst.InstrumentType = strPtrOrNil(detail.InstrumentType)
	}
	if detail.AssetUID != "" {
		inst.AssetUID = strPtrOrNil(detail.AssetUID)
	}
	inst.UpdatedAt = now
}

// EnrichAll refreshes stored instrument attributes from the broker. Useful
// after ticker renames or when rows were added before a detail lookup
// succeeded.
func (s *InstrumentSyncService) EnrichAll(ctx context.Context) (EnrichResult, error) {
	var result EnrichResult
	if s == nil || s.Store == nil || s.Broker == nil {
		return result, nil
	}
	instruments, err := s.Store.ListInstruments(ctx)
	if err != nil {
		return result, err
	}
	now := time.Now().UTC()
	for i := range instruments {
		if ctx.Err() != nil {
			break
		}
		inst := instruments[i]
		result.Instruments++
		detail, err := s.Broker.GetInstrumentBy(ctx, "INSTRUMENT_ID_TYPE_UID", "", inst.UID)
		if err != nil {
			result.Errors++
			if s.Logger != nil {
				s.Logger.Warn("instrument enrich failed",
					zap.String("uid", inst.UID),
					zap.Error(err))
			}
			continue
		}
		if detail == nil {
			continue
		}
		applyDetail(&inst, detail, now)
		if err := s.Store.UpsertInstrument(ctx, &inst); err != nil {
			result.Errors++
			continue
		}
		result.Updated++
	}
	return result, nil
}

// Remove deletes an instrument and all of its dependent history.
func (s *InstrumentSyncService) Remove(ctx context.Context, uid string) error {
	if s == nil || s.Store == nil {
		return nil
	}
	if strings.TrimSpace(uid) == "" {
		return fmt.Errorf("remove instrument: empty uid")
	}
	return s.Store.DeleteInstrumentCascade(ctx, uid)
}
