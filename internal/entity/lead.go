package entity

import (
	"context"
	"time"
)

type Stage string

// Pipeline stages in column display order. Values are stored verbatim.
const (
	StageAIHandling    Stage = "En atención por IA"
	StageHumanHandling Stage = "En atención humana"
	StageWantsVisit    Stage = "Interesado en visitar"
	StageNoShow        Stage = "No asiste a cita"
	StageAwaitingReply Stage = "Esperando respuesta"
	StageDealWon       Stage = "Venta ganada"
	StageNurture       Stage = "Nutrición"
)

var PipelineStages = []Stage{
	StageAIHandling,
	StageHumanHandling,
	StageWantsVisit,
	StageNoShow,
	StageAwaitingReply,
	StageDealWon,
	StageNurture,
}

func (s Stage) Valid() bool {
	for _, st := range PipelineStages {
		if st == s {
			return true
		}
	}
	return false
}

func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if !s.Valid() {
		return "", ErrInvalidStage
	}
	return s, nil
}

// Lead is keyed by Phone; the key never changes after creation.
type Lead struct {
	Phone            string    `json:"phone"`
	Name             string    `json:"nombres"`
	PropertyInterest string    `json:"interes_propiedad"`
	Stage            Stage     `json:"stage"`
	ContactPhone     *string   `json:"contact_phone,omitempty"`
	Notes            *string   `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StageTally is the (contact, stage) projection used for contact statistics.
type StageTally struct {
	ContactPhone string
	Stage        Stage
}

type LeadRepositoryInterface interface {
	ListOrderedByCreatedDesc(ctx context.Context) ([]Lead, error)
	UpdateStage(ctx context.Context, phone string, stage Stage) (*Lead, error)
	UpdateNotes(ctx context.Context, phone string, notes *string) (*Lead, error)
	ListStageTallies(ctx context.Context) ([]StageTally, error)
}
