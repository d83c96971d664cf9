package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/store"
)

// AddSmartContract registers the descriptor for its network, replacing any
// previous one.
func (r *Registry) AddSmartContract(ctx context.Context, c model.VerificationSmartContract) error {
	if c.Network == "" || c.Address == "" {
		return fmt.Errorf("%w: contract needs network and address", ErrInvalidRequest)
	}
	if c.DeployedAt.IsZero() {
		c.DeployedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.repos.Contracts.Save(ctx, &c); err != nil {
		return fmt.Errorf("save contract for %s: %w", c.Network, err)
	}
	r.logger.Info("smart contract registered", "network", c.Network, "address", c.Address, "version", c.Version)
	return nil
}

func (r *Registry) GetSmartContract(ctx context.Context, network model.Network) (*model.VerificationSmartContract, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.repos.Contracts.Get(ctx, network)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load contract for %s: %w", network, err)
	}
	return c, true, nil
}
