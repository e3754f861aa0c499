// Package projection 将 WorkerRecord 投影为显示记录（纯函数，每次更新重新计算）
package projection

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/raj3104/SwasthyaSanket/internal/models"
)

// Placeholder 未知字段的显示文本
const Placeholder = "—"

// 风险等级阈值（按概率，不按取整后的百分比）
const (
	MediumRiskThreshold = 0.35
	HighRiskThreshold   = 0.70
)

var supportedTags = []language.Tag{
	language.AmericanEnglish,
	language.BritishEnglish,
	language.MustParse("en-IN"),
}

var tagMatcher = language.NewMatcher(supportedTags)

// dateLayouts 中等日期 + 短时间
var dateLayouts = map[string]string{
	"en-US": "Jan 2, 2006 at 3:04 PM",
	"en-GB": "2 Jan 2006 at 15:04",
	"en-IN": "2 Jan 2006, 3:04 pm",
}

// Projector 投影器
type Projector struct {
	tag     language.Tag
	layout  string
	loc     *time.Location
	printer *message.Printer
}

// NewProjector 创建投影器；locale 按 en-US/en-GB/en-IN 匹配，无法匹配时使用 en-US
func NewProjector(locale string, loc *time.Location) *Projector {
	tag := supportedTags[0]
	if t, err := language.Parse(strings.TrimSpace(locale)); err == nil {
		_, idx, conf := tagMatcher.Match(t)
		if conf != language.No {
			tag = supportedTags[idx]
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Projector{
		tag:     tag,
		layout:  dateLayouts[tag.String()],
		loc:     loc,
		printer: message.NewPrinter(tag),
	}
}

// Locale 匹配后的语言标签
func (p *Projector) Locale() language.Tag {
	return p.tag
}

// Project 投影
func (p *Projector) Project(rec models.WorkerRecord) models.DisplayRecord {
	out := models.DisplayRecord{
		WorkerID: rec.Identity,
		Version:  rec.Version,
	}
	p.projectBasic(&out, rec.Basic)
	out.DietPlan = p.projectDiet(rec.DietPlan)
	for _, slot := range models.TaskSlots {
		out.Tasks = append(out.Tasks, models.TaskDisplay{
			Slot: slot,
			Text: projectTask(slot, rec.WorkTasks[slot]),
		})
	}
	out.DoctorCity, out.DoctorInfo = projectDoctor(rec.Doctor)
	return out
}

// FormatDate 按匹配的语言格式化时间
func (p *Projector) FormatDate(t time.Time) string {
	return t.In(p.loc).Format(p.layout)
}

// RiskTierOf 风险等级：[0,0.35) 低，[0.35,0.70) 中，[0.70,1] 高
func RiskTierOf(fraction float64) models.RiskTier {
	switch {
	case fraction >= HighRiskThreshold:
		return models.RiskTierHigh
	case fraction >= MediumRiskThreshold:
		return models.RiskTierMedium
	default:
		return models.RiskTierLow
	}
}

// RiskPercent 概率转百分比（向下取整，容忍浮点误差）
func RiskPercent(fraction float64) int {
	return int(math.Floor(fraction*100 + 1e-9))
}

func (p *Projector) projectBasic(out *models.DisplayRecord, basic models.Field[models.BasicFields]) {
	if basic.State != models.StateValue {
		marker := markerFor(basic.State, "No worker data", "Basic", basic.Err)
		out.Name, out.Age, out.BMI, out.CreatedAt = marker, marker, marker, marker
		for _, d := range models.Diseases {
			out.Risks = append(out.Risks, models.RiskDisplay{
				Disease: d,
				Text:    fmt.Sprintf("%s: %s", d, marker.Text),
				State:   marker.State,
			})
		}
		return
	}

	b := basic.Value
	out.Name = textField(b.Name, func(s string) string { return s })
	out.Age = textField(b.Age, strconv.Itoa)
	out.BMI = textField(b.BMI, func(v float64) string { return p.printer.Sprintf("%.1f", v) })
	out.CreatedAt = textField(b.CreatedAt, p.FormatDate)

	for _, d := range models.Diseases {
		risk := b.DiseaseRisks[d]
		rd := models.RiskDisplay{Disease: d, State: risk.State}
		if v, ok := risk.Get(); ok {
			rd.Fraction = v
			rd.Percent = RiskPercent(v)
			rd.Tier = RiskTierOf(v)
			rd.Text = p.printer.Sprintf("%s: %d%%", d, rd.Percent)
		} else {
			rd.Text = fmt.Sprintf("%s: %s", d, Placeholder)
		}
		out.Risks = append(out.Risks, rd)
	}
}

func (p *Projector) projectDiet(plan models.Field[models.DietPlan]) models.DisplayField {
	v, ok := plan.Get()
	if !ok {
		return markerFor(plan.State, "No diet plan", "Diet", plan.Err)
	}

	text := "No recommendations"
	if len(v.Recommendations) > 0 {
		text = strings.Join(v.Recommendations, "\n")
	}
	status := Placeholder
	if s, ok := v.Status.Get(); ok {
		status = s
	}
	return models.DisplayField{
		Text:  text + "\n\nStatus: " + status,
		State: models.StateValue,
	}
}

func projectTask(slot models.TaskSlot, task models.Field[models.WorkTask]) models.DisplayField {
	v, ok := task.Get()
	if !ok {
		return markerFor(task.State, fmt.Sprintf("No %s data", slot), "Task", task.Err)
	}
	return models.DisplayField{
		Text:  fmt.Sprintf("%s  (%s, %s)", orPlaceholder(v.Task), orPlaceholder(v.Priority), orPlaceholder(v.Duration)),
		State: models.StateValue,
	}
}

func projectDoctor(doc models.Field[models.DoctorRecommendation]) (city, info models.DisplayField) {
	v, ok := doc.Get()
	if !ok {
		marker := markerFor(doc.State, "No doctor recommendation", "Doctor", doc.Err)
		return marker, marker
	}
	return textField(v.City, func(s string) string { return s }),
		textField(v.Info, func(s string) string { return s })
}

// markerFor 非值状态的显示文本
func markerFor(state models.FieldState, absent, label, errMsg string) models.DisplayField {
	switch state {
	case models.StateAbsent:
		return models.DisplayField{Text: absent, State: state}
	case models.StateError:
		return models.DisplayField{Text: fmt.Sprintf("%s error: %s", label, errMsg), State: state}
	default:
		return models.DisplayField{Text: Placeholder, State: models.StateUnknown}
	}
}

func textField[T any](f models.Field[T], format func(T) string) models.DisplayField {
	v, ok := f.Get()
	if !ok {
		return models.DisplayField{Text: Placeholder, State: f.State}
	}
	return models.DisplayField{Text: format(v), State: models.StateValue}
}

func orPlaceholder(f models.Field[string]) string {
	if v, ok := f.Get(); ok {
		return v
	}
	return Placeholder
}
