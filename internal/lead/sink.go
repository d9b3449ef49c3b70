package lead

import (
	"context"
	"time"
)

// Receipt records where a lead was delivered.
type Receipt struct {
	Sink       string    `json:"sink"`
	ExternalID string    `json:"externalId,omitempty"`
	Created    bool      `json:"created"`
	At         time.Time `json:"at"`
}

// Sink accepts a lead. Submitting the same lead twice must not create a duplicate.
type Sink interface {
	Name() string
	Submit(ctx context.Context, l *Lead) (*Receipt, error)
}
