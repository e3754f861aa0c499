package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/raj3104/SwasthyaSanket/internal/models"
)

func TestWorkerReport(t *testing.T) {
	rec := models.DisplayRecord{
		WorkerID:  "w-1",
		Name:      models.DisplayField{Text: "Asha", State: models.StateValue},
		Age:       models.DisplayField{Text: "34", State: models.StateValue},
		BMI:       models.DisplayField{Text: "23.5", State: models.StateValue},
		CreatedAt: models.DisplayField{Text: "—", State: models.StateUnknown},
		Risks: []models.RiskDisplay{
			{Disease: models.DiseaseCOPD, Percent: 72, Tier: models.RiskTierHigh, Text: "COPD: 72%", State: models.StateValue},
			{Disease: models.DiseaseDiabetes, Text: "Diabetes: —", State: models.StateUnknown},
		},
		DietPlan: models.DisplayField{Text: "Greens\n\nStatus: Active", State: models.StateValue},
		Tasks: []models.TaskDisplay{
			{Slot: models.TaskSlot01, Text: models.DisplayField{Text: "No task_01 data", State: models.StateAbsent}},
		},
		DoctorCity: models.DisplayField{Text: "Pune", State: models.StateValue},
		DoctorInfo: models.DisplayField{Text: "1. Dr. A", State: models.StateValue},
	}

	data, err := WorkerReport(rec)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 1+5+2+1+1+2)
	assert.Equal(t, ReportHeader, rows[0])
	assert.Equal(t, []string{"Worker", "Name", "Asha", "", "value"}, rows[2])
	assert.Equal(t, []string{"Risk", "COPD", "72", "high", "value"}, rows[6])
	assert.Equal(t, []string{"Risk", "Diabetes", "Diabetes: —", "", "unknown"}, rows[7])
	assert.Equal(t, "No task_01 data", rows[9][2])
	assert.Equal(t, "absent", rows[9][4])
	assert.Equal(t, "1. Dr. A", rows[11][2])
}
