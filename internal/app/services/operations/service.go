// Package operations implements the process-wide operational switch. Every
// mutating operation across the other engines passes through Guard before
// touching state.
package operations

import (
	"context"
	"fmt"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/protocol"
	"github.com/SuretyLabs/surety_layer/internal/app/storage"
	"github.com/SuretyLabs/surety_layer/pkg/logger"
)

// Gate is the operational check the other engines depend on.
type Gate interface {
	Guard(ctx context.Context) error
}

// Service owns the operational switch. Only the contract owner may flip it.
type Service struct {
	store storage.ControlStore
	owner string
	log   *logger.Logger
}

var _ Gate = (*Service)(nil)

// New constructs the operations service. The owner identity is fixed at
// deployment.
func New(store storage.ControlStore, owner string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("operations")
	}
	return &Service{store: store, owner: owner, log: log}
}

// Owner returns the contract owner identity.
func (s *Service) Owner() string { return s.owner }

// SetOperational flips the switch. Non-owner callers always fail, regardless
// of the current operational state.
func (s *Service) SetOperational(ctx context.Context, value bool, caller string) error {
	if caller != s.owner {
		return fmt.Errorf("caller %s is not the contract owner: %w", caller, protocol.ErrUnauthorized)
	}
	if err := s.store.SetOperational(ctx, value); err != nil {
		return fmt.Errorf("set operational: %w", err)
	}
	s.log.WithField("operational", value).Info("operational switch changed")
	return nil
}

// IsOperational reports the current switch state.
func (s *Service) IsOperational(ctx context.Context) (bool, error) {
	return s.store.GetOperational(ctx)
}

// Guard fails with ErrContractPaused while the switch is off. It is the
// single choke point for all mutating entry points.
func (s *Service) Guard(ctx context.Context) error {
	operational, err := s.store.GetOperational(ctx)
	if err != nil {
		return fmt.Errorf("read operational switch: %w", err)
	}
	if !operational {
		return protocol.ErrContractPaused
	}
	return nil
}
