// Package template generates bootstrap scaffolding for empty boards. The
// generator is a pure function over a template kind; picking the kind from
// a board description is a best-effort keyword heuristic.
package template

import (
	"strings"
	"time"

	"boardsync/internal/model"
)

// Known template kinds
const (
	KindKanban     = "kanban"
	KindRetro      = "retrospective"
	KindFlowchart  = "flowchart"
	KindBrainstorm = "brainstorm"
)

// keywords maps description substrings to template kinds. First match wins;
// the order gives more specific phrases priority.
var keywords = []struct {
	substr string
	kind   string
}{
	{"kanban", KindKanban},
	{"sprint", KindKanban},
	{"retro", KindRetro},
	{"retrospective", KindRetro},
	{"flowchart", KindFlowchart},
	{"flow chart", KindFlowchart},
	{"diagram", KindFlowchart},
	{"brainstorm", KindBrainstorm},
	{"ideas", KindBrainstorm},
}

// Match picks a template kind for a free-text board description. Returns
// an empty string when nothing matches.
func Match(description string) string {
	desc := strings.ToLower(description)
	for _, kw := range keywords {
		if strings.Contains(desc, kw.substr) {
			return kw.kind
		}
	}
	return ""
}

// Generate builds the scaffolding elements for a template kind. Scaffolding
// is locked so it survives casual drags and deletes. Unknown kinds yield nil.
func Generate(kind, createdBy string) []model.Element {
	switch kind {
	case KindKanban:
		return columns(createdBy, "To Do", "In Progress", "Done")
	case KindRetro:
		return columns(createdBy, "Went Well", "To Improve", "Action Items")
	case KindFlowchart:
		return flowchart(createdBy)
	case KindBrainstorm:
		return brainstorm(createdBy)
	}
	return nil
}

const (
	columnWidth   = 280.0
	columnHeight  = 620.0
	columnGap     = 40.0
	columnOriginX = 80.0
	columnOriginY = 60.0
)

func columns(createdBy string, titles ...string) []model.Element {
	now := time.Now().UnixMilli()
	els := make([]model.Element, 0, len(titles)*2)
	for i, title := range titles {
		x := columnOriginX + float64(i)*(columnWidth+columnGap)
		els = append(els, model.Element{
			ID:          model.NewElementID(),
			Type:        model.ElementRectangle,
			StartPoint:  model.Point{X: x, Y: columnOriginY},
			EndPoint:    &model.Point{X: x + columnWidth, Y: columnOriginY + columnHeight},
			Color:       "#94a3b8",
			FillColor:   "#f8fafc",
			StrokeWidth: 2,
			Opacity:     1,
			Locked:      true,
			CreatedBy:   createdBy,
			CreatedAt:   now,
		}, model.Element{
			ID:         model.NewElementID(),
			Type:       model.ElementText,
			StartPoint: model.Point{X: x + 16, Y: columnOriginY + 16},
			Text:       title,
			Color:      "#334155",
			Opacity:    1,
			Locked:     true,
			CreatedBy:  createdBy,
			CreatedAt:  now,
		})
	}
	return els
}

func flowchart(createdBy string) []model.Element {
	now := time.Now().UnixMilli()
	start := model.Element{
		ID:          model.NewElementID(),
		Type:        model.ElementCircle,
		StartPoint:  model.Point{X: 200, Y: 120},
		EndPoint:    &model.Point{X: 320, Y: 200},
		Color:       "#0ea5e9",
		FillColor:   "#e0f2fe",
		StrokeWidth: 2,
		Opacity:     1,
		Text:        "Start",
		Locked:      true,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}
	step := model.Element{
		ID:          model.NewElementID(),
		Type:        model.ElementRectangle,
		StartPoint:  model.Point{X: 180, Y: 300},
		EndPoint:    &model.Point{X: 340, Y: 380},
		Color:       "#0ea5e9",
		FillColor:   "#f0f9ff",
		StrokeWidth: 2,
		Opacity:     1,
		Text:        "Step",
		Locked:      true,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}
	arrow := model.Element{
		ID:          model.NewElementID(),
		Type:        model.ElementArrow,
		StartPoint:  model.Point{X: 260, Y: 200},
		EndPoint:    &model.Point{X: 260, Y: 300},
		Color:       "#0ea5e9",
		StrokeWidth: 2,
		Opacity:     1,
		Locked:      true,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}
	return []model.Element{start, step, arrow}
}

func brainstorm(createdBy string) []model.Element {
	now := time.Now().UnixMilli()
	center := model.Element{
		ID:          model.NewElementID(),
		Type:        model.ElementStickyNote,
		StartPoint:  model.Point{X: 400, Y: 280},
		EndPoint:    &model.Point{X: 560, Y: 400},
		Color:       "#eab308",
		FillColor:   "#fef9c3",
		StrokeWidth: 1,
		Opacity:     1,
		Text:        "Central idea",
		Locked:      true,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}
	return []model.Element{center}
}
