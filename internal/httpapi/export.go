package httpapi

import (
	"bytes"
	"fmt"
	"hive-watch/internal/evaluator"
	"hive-watch/internal/history"
	"hive-watch/internal/models"
	"time"

	"github.com/xuri/excelize/v2"
)

const historySheet = "History"

// HistoryExportHeader 历史导出表头
var HistoryExportHeader = []string{
	"Time",
	"Key",
	headerFor(models.MetricTemperature),
	headerFor(models.MetricHumidity),
	headerFor(models.MetricAirQuality),
	"Movement",
}

var historyColumnWidths = []float64{
	20, // Time
	28, // Key
	18, // Temperature
	16, // Humidity
	18, // Air Quality
	20, // Movement
}

func headerFor(metric string) string {
	return fmt.Sprintf("%s (%s)", evaluator.Label(metric), evaluator.Unit(metric))
}

// GenerateHistoryExport 生成历史数据 Excel 文件
// entries 为空时只生成表头
func GenerateHistoryExport(entries []history.Entry, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()

	index, err := f.NewSheet(historySheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range HistoryExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(historySheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(historySheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i, width := range historyColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(historySheet, col, col, width); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, entry := range entries {
		row := i + 2 // 第1行是表头
		values := []interface{}{
			entry.Timestamp.In(loc).Format("2006-01-02 15:04:05"),
			entry.Key,
			metricValue(entry.Snapshot, models.MetricTemperature),
			metricValue(entry.Snapshot, models.MetricHumidity),
			metricValue(entry.Snapshot, models.MetricAirQuality),
			movementValue(entry.Snapshot),
		}
		for col, value := range values {
			if value == nil || value == "" {
				continue
			}
			if err := setCellValue(f, historySheet, col+1, row, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	if err := f.SetPanes(historySheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// setCellValue 设置单元格值
func setCellValue(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}

func metricValue(s models.SensorSnapshot, metric string) interface{} {
	v, ok := s.Value(metric)
	if !ok {
		return nil
	}
	return v
}

func movementValue(s models.SensorSnapshot) interface{} {
	if s.Movement == nil {
		return nil
	}
	return s.Movement.String()
}
