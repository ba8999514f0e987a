package models

import (
	"time"

	"github.com/google/uuid"
)

// ImportRun summarizes one bulk import.
type ImportRun struct {
	ID         uuid.UUID     `json:"id"`
	DatasetID  int64         `json:"dataset_id"`
	Source     string        `json:"source"`
	Read       int           `json:"read"`
	Imported   int           `json:"imported"`
	Duplicates int           `json:"duplicates"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}
