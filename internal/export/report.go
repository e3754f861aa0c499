// Package export 生成工人显示记录的 Excel 报告
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/raj3104/SwasthyaSanket/internal/models"
)

// SheetName 报告工作表名称
const SheetName = "Worker"

// ReportHeader 报告表头
var ReportHeader = []string{"Section", "Item", "Value", "Tier", "State"}

// tierColors 风险等级填充色（低绿、中黄、高红）
var tierColors = map[models.RiskTier]string{
	models.RiskTierLow:    "#C6EFCE",
	models.RiskTierMedium: "#FFEB9C",
	models.RiskTierHigh:   "#FFC7CE",
}

type reportRow struct {
	section string
	item    string
	value   any
	tier    models.RiskTier
	state   models.FieldState
}

// WorkerReport 生成报告，返回 xlsx 文件内容
func WorkerReport(rec models.DisplayRecord) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	tierStyles := make(map[models.RiskTier]int, len(tierColors))
	for tier, color := range tierColors {
		style, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create tier style: %w", err)
		}
		tierStyles[tier] = style
	}

	wrapStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create wrap style: %w", err)
	}

	for col, header := range ReportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{
		12, // Section
		18, // Item
		60, // Value
		10, // Tier
		10, // State
	}
	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, r := range reportRows(rec) {
		row := i + 2 // 从第2行开始（第1行是表头）
		values := []any{r.section, r.item, r.value, string(r.tier), r.state.String()}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}

		valueCell, _ := excelize.CoordinatesToCellName(3, row)
		style := wrapStyle
		if s, ok := tierStyles[r.tier]; ok {
			style = s
		}
		if err := f.SetCellStyle(SheetName, valueCell, valueCell, style); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set value style: %w", err)
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
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

func reportRows(rec models.DisplayRecord) []reportRow {
	rows := []reportRow{
		{section: "Worker", item: "ID", value: string(rec.WorkerID), state: models.StateValue},
		{section: "Worker", item: "Name", value: rec.Name.Text, state: rec.Name.State},
		{section: "Worker", item: "Age", value: rec.Age.Text, state: rec.Age.State},
		{section: "Worker", item: "BMI", value: rec.BMI.Text, state: rec.BMI.State},
		{section: "Worker", item: "Creation Date", value: rec.CreatedAt.Text, state: rec.CreatedAt.State},
	}
	for _, r := range rec.Risks {
		row := reportRow{section: "Risk", item: string(r.Disease), value: r.Text, state: r.State}
		if r.State == models.StateValue {
			row.value = r.Percent
			row.tier = r.Tier
		}
		rows = append(rows, row)
	}
	rows = append(rows, reportRow{section: "Diet", item: "Plan", value: rec.DietPlan.Text, state: rec.DietPlan.State})
	for _, task := range rec.Tasks {
		rows = append(rows, reportRow{section: "Work", item: string(task.Slot), value: task.Text.Text, state: task.Text.State})
	}
	rows = append(rows,
		reportRow{section: "Doctor", item: "City", value: rec.DoctorCity.Text, state: rec.DoctorCity.State},
		reportRow{section: "Doctor", item: "Info", value: rec.DoctorInfo.Text, state: rec.DoctorInfo.State},
	)
	return rows
}
