package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

const staleSheet = "Stale activations"

var staleHeader = []interface{}{
	"Bonus ID", "Applicant", "Family hash", "Status", "Family size", "Amount (EUR)", "Created at", "Age (h)",
}

// StaleActivationReport writes PROCESSING activations that outlived the
// reconciliation threshold into an xlsx workbook for manual follow-up.
type StaleActivationReport struct {
	dir    string
	logger *zap.Logger
}

// NewStaleActivationReport creates a report writer that saves into dir
func NewStaleActivationReport(dir string, logger *zap.Logger) *StaleActivationReport {
	return &StaleActivationReport{dir: dir, logger: logger}
}

// Write saves one workbook for the given activations and returns its path
func (r *StaleActivationReport) Write(activations []*entity.BonusActivation, generatedAt time.Time) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), staleSheet); err != nil {
		return "", fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(staleSheet, "A1", &staleHeader); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	for i, a := range activations {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", err
		}
		amount, _ := entity.BonusAmount(len(a.DSU.FamilyMembers))
		row := []interface{}{
			a.ID,
			a.ApplicantID,
			a.FamilyHash,
			string(a.Status),
			len(a.DSU.FamilyMembers),
			amount,
			a.CreatedAt.UTC().Format(time.RFC3339),
			int(generatedAt.Sub(a.CreatedAt).Hours()),
		}
		if err := f.SetSheetRow(staleSheet, cell, &row); err != nil {
			return "", fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(staleSheet, "A", "C", 24); err != nil {
		r.logger.Warn("Failed to set column width", zap.Error(err))
	}

	path := filepath.Join(r.dir, fmt.Sprintf("stale-activations-%s.xlsx", generatedAt.UTC().Format("20060102T150405Z")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	r.logger.Info("Stale activation report written",
		zap.String("path", path),
		zap.Int("rows", len(activations)))
	return path, nil
}
