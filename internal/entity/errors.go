package entity

import "errors"

var (
	ErrLeadNotFound     = errors.New("lead not found")
	ErrInvalidStage     = errors.New("invalid pipeline stage")
	ErrContactNotFound  = errors.New("contact not found")
	ErrContactExists    = errors.New("contact already exists")
	ErrPropertyNotFound = errors.New("property not found")
)
