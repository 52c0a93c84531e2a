package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"investsync/internal/repository"
)

type ExportService struct {
	Store  repository.Repository
	Logger *zap.Logger
}

// WriteWorkbook renders the current store contents as an xlsx workbook with
// one sheet per data set: instruments, consensus history, analyst targets,
// and the latest potential per instrument.
func (s *ExportService) WriteWorkbook(ctx context.Context, w io.Writer) error {
	if s == nil || s.Store == nil {
		return fmt.Errorf("export: store is nil")
	}
	book := excelize.NewFile()
	defer book.Close()

	if err := s.writeInstruments(ctx, book); err != nil {
		return err
	}
	if err := s.writeConsensus(ctx, book); err != nil {
		return err
	}
	if err := s.writeTargets(ctx, book); err != nil {
		return err
	}
	if err := s.writePotentials(ctx, book); err != nil {
		return err
	}
	// The default sheet stays empty once real sheets exist.
	book.DeleteSheet("Sheet1")
	if _, err := book.WriteTo(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}
	return nil
}

func (s *ExportService) writeInstruments(ctx context.Context, book *excelize.File) error {
	instruments, err := s.Store.ListInstruments(ctx)
	if err != nil {
		return err
	}
	const sheet = "Instruments"
	if _, err := book.NewSheet(sheet); err != nil {
		return err
	}
	header := []interface{}{"UID", "Ticker", "Name", "SecID", "ISIN", "FIGI", "ClassCode", "Type", "AddedAt"}
	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, inst := range instruments {
		row := []interface{}{
			inst.UID,
			inst.Ticker,
			strOrEmpty(inst.Name),
			strOrEmpty(inst.SecID),
			strOrEmpty(inst.ISIN),
			strOrEmpty(inst.FIGI),
			strOrEmpty(inst.ClassCode),
			strOrEmpty(inst.InstrumentType),
			inst.AddedAt.Format("2006-01-02"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExportService) writeConsensus(ctx context.Context, book *excelize.File) error {
	snapshots, err := s.Store.ListAllConsensus(ctx)
	if err != nil {
		return err
	}
	const sheet = "Consensus"
	if _, err := book.NewSheet(sheet); err != nil {
		return err
	}
	header := []interface{}{"UID", "Ticker", "Date", "Recommendation", "Currency", "Consensus", "MinTarget", "MaxTarget"}
	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, snap := range snapshots {
		row := []interface{}{
			snap.UID,
			snap.Ticker,
			snap.SnapshotDate,
			strOrEmpty(snap.Recommendation),
			strOrEmpty(snap.Currency),
			floatCell(snap.ConsensusPrice),
			floatCell(snap.MinTarget),
			floatCell(snap.MaxTarget),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExportService) writeTargets(ctx context.Context, book *excelize.File) error {
	targets, err := s.Store.ListAllTargets(ctx)
	if err != nil {
		return err
	}
	const sheet = "Targets"
	if _, err := book.NewSheet(sheet); err != nil {
		return err
	}
	header := []interface{}{"UID", "Ticker", "Company", "Date", "Recommendation", "Currency", "TargetPrice"}
	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, target := range targets {
		row := []interface{}{
			target.UID,
			strOrEmpty(target.Ticker),
			target.Company,
			target.SnapshotDate,
			strOrEmpty(target.Recommendation),
			strOrEmpty(target.Currency),
			floatCell(target.TargetPrice),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExportService) writePotentials(ctx context.Context, book *excelize.File) error {
	potentials, err := s.Store.ListLatestPotentials(ctx)
	if err != nil {
		return err
	}
	const sheet = "Potentials"
	if _, err := book.NewSheet(sheet); err != nil {
		return err
	}
	header := []interface{}{"UID", "Ticker", "Date", "PrevClose", "Consensus", "Potential", "Stale"}
	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, record := range potentials {
		row := []interface{}{
			record.UID,
			record.Ticker,
			record.ComputedDate,
			floatCell(record.PrevClose),
			floatCell(record.ConsensusPrice),
			floatCell(record.PotentialRel),
			record.IsStale,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// WriteSnapshotJSON dumps the latest potentials as a JSON document, a light
// alternative to the workbook for scripted consumers.
func (s *ExportService) WriteSnapshotJSON(ctx context.Context, w io.Writer) error {
	if s == nil || s.Store == nil {
		return fmt.Errorf("export: store is nil")
	}
	potentials, err := s.Store.ListLatestPotentials(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(potentials)
}

func floatCell(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
