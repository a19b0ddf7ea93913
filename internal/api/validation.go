package api

import (
	"fmt"

	"github.com/djlord-it/stepflow/internal/domain"
)

func validateTrigger(req TriggerRequest) error {
	if req.SequenceName == "" {
		return fmt.Errorf("sequence_name is required")
	}
	if req.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	if err := domain.ValidateSnapshot(domain.Snapshot(req.Snapshot)); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	return nil
}
