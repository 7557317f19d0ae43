package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ReplaceLotReport replaces the lots report of a project.
func (s *Store) ReplaceLotReport(ctx context.Context, projectNumber string, rows []LotReportRow) error {
	for i := range rows {
		rows[i].ID = 0
		rows[i].ProjectNumber = projectNumber
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_number = ?", projectNumber).Delete(&LotReportRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear lots report: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, insertBatchSize).Error
	})
}

// LotReport returns the lots report of a project.
func (s *Store) LotReport(ctx context.Context, projectNumber string) ([]LotReportRow, error) {
	var rows []LotReportRow
	err := s.db.WithContext(ctx).Where("project_number = ?", projectNumber).Order("id").Find(&rows).Error
	return rows, err
}

// ReplacePCTReport replaces the plant community type report of a project.
func (s *Store) ReplacePCTReport(ctx context.Context, projectNumber string, rows []PCTReportRow) error {
	for i := range rows {
		rows[i].ID = 0
		rows[i].ProjectNumber = projectNumber
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_number = ?", projectNumber).Delete(&PCTReportRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear PCT report: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, insertBatchSize).Error
	})
}

// PCTReport returns the plant community type report of a project.
func (s *Store) PCTReport(ctx context.Context, projectNumber string) ([]PCTReportRow, error) {
	var rows []PCTReportRow
	err := s.db.WithContext(ctx).Where("project_number = ?", projectNumber).Order("id").Find(&rows).Error
	return rows, err
}

// SaveRun records a finished run.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.RunID, err)
	}
	return nil
}

// Runs returns the most recent runs of a project, newest first.
func (s *Store) Runs(ctx context.Context, projectNumber string, limit int) ([]Run, error) {
	var runs []Run
	q := s.db.WithContext(ctx).Where("project_number = ?", projectNumber).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&runs).Error
	return runs, err
}
