package report

import (
	"fmt"
	"time"

	"ne-autoprice/internal/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service builds the weekly health workbook: keepalive and execution
// statistics for the last seven days plus the recent sync trail.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger, now: time.Now}
}

// BuildWeekly assembles the workbook. The caller owns closing/serializing it.
func (s *Service) BuildWeekly() (*excelize.File, error) {
	since := s.now().AddDate(0, 0, -7)

	var keepalives []models.KeepAliveLog
	if err := s.db.Where("created_at >= ?", since).Order("created_at DESC").Find(&keepalives).Error; err != nil {
		return nil, fmt.Errorf("report: load keepalive logs: %w", err)
	}

	var executions []models.ExecutionLog
	if err := s.db.Where("created_at >= ?", since).Order("date DESC").Find(&executions).Error; err != nil {
		return nil, fmt.Errorf("report: load execution logs: %w", err)
	}

	var syncs []models.PlatformSyncLog
	if err := s.db.Where("synced_at >= ?", since).Order("synced_at DESC").Find(&syncs).Error; err != nil {
		return nil, fmt.Errorf("report: load sync logs: %w", err)
	}

	f := excelize.NewFile()

	if err := s.writeSummary(f, keepalives, executions, syncs, since); err != nil {
		f.Close()
		return nil, err
	}
	if err := s.writeExecutions(f, executions); err != nil {
		f.Close()
		return nil, err
	}
	if err := s.writeKeepalives(f, keepalives); err != nil {
		f.Close()
		return nil, err
	}

	s.logger.Info("weekly report built",
		zap.Int("executions", len(executions)),
		zap.Int("keepalives", len(keepalives)),
		zap.Int("syncs", len(syncs)))
	return f, nil
}

func (s *Service) writeSummary(f *excelize.File, keepalives []models.KeepAliveLog, executions []models.ExecutionLog, syncs []models.PlatformSyncLog, since time.Time) error {
	const sheet = "Summary"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	var kaOK, kaFail int
	for _, k := range keepalives {
		if k.Status == models.ExecutionSuccess {
			kaOK++
		} else {
			kaFail++
		}
	}

	var exOK, exFail, exSkip, updatedTotal int
	for _, e := range executions {
		switch e.Status {
		case models.ExecutionSuccess:
			exOK++
		case models.ExecutionFailed:
			exFail++
		case models.ExecutionSkipped:
			exSkip++
		}
		updatedTotal += e.UpdatedProducts
	}

	lastSync := "never"
	if len(syncs) > 0 {
		lastSync = fmt.Sprintf("%s (%s)", syncs[0].SyncedAt.Format(time.RFC3339), syncs[0].Status)
	}

	rows := [][]interface{}{
		{"Weekly health report", ""},
		{"Period start", since.Format("2006-01-02")},
		{"Generated at", s.now().Format(time.RFC3339)},
		{"", ""},
		{"Keepalive successes", kaOK},
		{"Keepalive failures", kaFail},
		{"Price update successes", exOK},
		{"Price update failures", exFail},
		{"Price update skips", exSkip},
		{"Products updated (total)", updatedTotal},
		{"Last marketplace sync", lastSync},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) writeExecutions(f *excelize.File, executions []models.ExecutionLog) error {
	const sheet = "Executions"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	header := []interface{}{"Date", "Status", "Updated", "Gold ratio", "Platinum ratio", "Reason", "Error", "Skipped", "Duration (s)"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, e := range executions {
		row := []interface{}{
			e.Date.Format("2006-01-02"), e.Status, e.UpdatedProducts,
			floatOrEmpty(e.GoldRatio), floatOrEmpty(e.PlatinumRatio),
			e.ExecutionReason, e.ErrorMessage, e.SkippedReason, e.DurationSeconds,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) writeKeepalives(f *excelize.File, keepalives []models.KeepAliveLog) error {
	const sheet = "Keepalive"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	header := []interface{}{"Time", "Status", "Message"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, k := range keepalives {
		row := []interface{}{k.CreatedAt.Format(time.RFC3339), k.Status, k.Message}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func floatOrEmpty(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
