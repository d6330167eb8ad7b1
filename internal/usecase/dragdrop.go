package usecase

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/xavierca1/lead-pipeline/internal/entity"
)

const DropTypeColumn = "column"

// DropData is the metadata a droppable region declares about itself.
type DropData struct {
	Type  string       `json:"type"`
	Stage entity.Stage `json:"stage"`
}

// DropTarget is whatever sits under the pointer when a drag ends: a column,
// the empty area of a column, or another lead card.
type DropTarget struct {
	ID   string    `json:"id"`
	Data *DropData `json:"data,omitempty"`
}

// targetMatcher is one attempt in the resolution chain.
type targetMatcher struct {
	name  string
	match func(over DropTarget, columns []StageColumn) (entity.Stage, bool)
}

// Resolution order is fixed: stage id, then column metadata, then the stage of
// the lead that was dropped on.
var targetMatchers = []targetMatcher{
	{name: "stage_id", match: matchStageID},
	{name: "column_data", match: matchColumnData},
	{name: "lead_position", match: matchLeadPosition},
}

func matchStageID(over DropTarget, _ []StageColumn) (entity.Stage, bool) {
	s := entity.Stage(over.ID)
	return s, s.Valid()
}

func matchColumnData(over DropTarget, _ []StageColumn) (entity.Stage, bool) {
	if over.Data == nil || over.Data.Type != DropTypeColumn {
		return "", false
	}
	return over.Data.Stage, over.Data.Stage.Valid()
}

func matchLeadPosition(over DropTarget, columns []StageColumn) (entity.Stage, bool) {
	return stageOfLead(over.ID, columns)
}

func stageOfLead(phone string, columns []StageColumn) (entity.Stage, bool) {
	for _, col := range columns {
		for _, l := range col.Leads {
			if l.Phone == phone {
				return col.ID, true
			}
		}
	}
	return "", false
}

// ResolveTarget maps a drop target to a stage. The second result names the
// matcher that succeeded; ok is false when no matcher did.
func ResolveTarget(over DropTarget, columns []StageColumn) (stage entity.Stage, via string, ok bool) {
	for _, m := range targetMatchers {
		if s, hit := m.match(over, columns); hit {
			return s, m.name, true
		}
	}
	return "", "", false
}

type DropOutcome string

const (
	DropMoved       DropOutcome = "moved"
	DropSameStage   DropOutcome = "same_stage"
	DropNoTarget    DropOutcome = "no_target"
	DropUnknownLead DropOutcome = "unknown_lead"
)

type DropResult struct {
	Outcome   DropOutcome  `json:"outcome"`
	FromStage entity.Stage `json:"from_stage,omitempty"`
	ToStage   entity.Stage `json:"to_stage,omitempty"`
	MatchedBy string       `json:"matched_by,omitempty"`
}

// StageMover is the part of the synchronizer the drag controller drives.
type StageMover interface {
	StageColumns() []StageColumn
	UpdateStage(ctx context.Context, phone string, stage entity.Stage) error
}

// DragController turns finished drag gestures into stage updates.
type DragController struct {
	pipeline StageMover
	logger   *zap.Logger
}

func NewDragController(pipeline StageMover, logger *zap.Logger) *DragController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DragController{pipeline: pipeline, logger: logger.Named("drag")}
}

// HandleDragEnd resolves the drop and issues at most one UpdateStage. A nil
// over, an unresolvable target, an unknown lead or a drop on the lead's own
// stage issue nothing. Update failures are returned as-is and never retried.
func (c *DragController) HandleDragEnd(ctx context.Context, activePhone string, over *DropTarget) (DropResult, error) {
	if over == nil {
		c.logger.Debug("drag ended without drop target", zap.String("phone", activePhone))
		return DropResult{Outcome: DropNoTarget}, nil
	}

	columns := c.pipeline.StageColumns()

	target, via, ok := ResolveTarget(*over, columns)
	if !ok {
		c.logger.Debug("could not resolve drop target", zap.String("over", over.ID))
		return DropResult{Outcome: DropNoTarget}, nil
	}

	current, found := stageOfLead(activePhone, columns)
	if !found {
		c.logger.Debug("dragged lead not on board", zap.String("phone", activePhone))
		return DropResult{Outcome: DropUnknownLead, ToStage: target, MatchedBy: via}, nil
	}

	result := DropResult{FromStage: current, ToStage: target, MatchedBy: via}
	if current == target {
		result.Outcome = DropSameStage
		return result, nil
	}

	if err := c.pipeline.UpdateStage(ctx, activePhone, target); err != nil {
		return result, err
	}

	result.Outcome = DropMoved
	return result, nil
}

// Rect is a droppable or dragged region in board coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) center() (float64, float64) {
	return r.Left + r.Width/2, r.Top + r.Height/2
}

type Droppable struct {
	Target DropTarget `json:"target"`
	Rect   Rect       `json:"rect"`
}

type Collision struct {
	Target   DropTarget `json:"target"`
	Distance float64    `json:"distance"`
}

// ClosestCenter ranks droppables by the distance between their center and the
// active rect's center. Equal distances keep input order.
func ClosestCenter(active Rect, droppables []Droppable) []Collision {
	ax, ay := active.center()

	out := make([]Collision, 0, len(droppables))
	for _, d := range droppables {
		dx, dy := d.Rect.center()
		out = append(out, Collision{
			Target:   d.Target,
			Distance: math.Hypot(dx-ax, dy-ay),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance < out[j].Distance
	})
	return out
}
