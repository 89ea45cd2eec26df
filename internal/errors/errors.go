// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// Sentinel errors carry the wire error code as their message so controllers
// can map them directly to responses.
var (
	ErrMissingToken  = errors.New("missing_token")
	ErrTokenExpired  = errors.New("token_expired")
	ErrInvalidToken  = errors.New("invalid_token")
	ErrInvalidStage  = errors.New("invalid_stage")
	ErrRunInProgress = errors.New("run_in_progress")
	ErrSendNotFound  = errors.New("send_not_found")
	ErrMissingFields = errors.New("missing_fields")
)

// ErrCampaignNotFound is a typed not-found error.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// IsNotFound reports whether err is a campaign/send not-found error.
func IsNotFound(err error) bool {
	var cnf *ErrCampaignNotFound
	return errors.As(err, &cnf) || errors.Is(err, ErrSendNotFound)
}
