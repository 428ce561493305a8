package repository

import (
	"context"
	"fmt"

	"praxis/internal/engine"
	"praxis/internal/entitymodel"
	"praxis/internal/fixtures"
	"praxis/pkg/domain"
)

// ListProtocols returns protocols matching filters. Rows from the legacy
// protocols table are normalized to the canonical shape.
func (r *Repository) ListProtocols(ctx context.Context, filters ...Filter) ([]domain.Protocol, error) {
	return list(ctx, r, entitymodel.Protocols, filters...)
}

// GetProtocol returns one protocol.
func (r *Repository) GetProtocol(ctx context.Context, id string) (domain.Protocol, error) {
	return get(ctx, r, entitymodel.Protocols, id)
}

// CreateProtocol inserts p, generating an accession id when absent.
func (r *Repository) CreateProtocol(ctx context.Context, p domain.Protocol) (domain.Protocol, error) {
	return create(ctx, r, entitymodel.Protocols, p, nil)
}

// UpdateProtocol applies mutate to the stored protocol.
func (r *Repository) UpdateProtocol(ctx context.Context, id string, mutate func(*domain.Protocol) error) (domain.Protocol, error) {
	return update(ctx, r, entitymodel.Protocols, id, mutate)
}

// DeleteProtocol removes a protocol.
func (r *Repository) DeleteProtocol(ctx context.Context, id string) error {
	return remove(ctx, r, entitymodel.Protocols, id)
}

// ListProtocolRuns returns protocol runs matching filters.
func (r *Repository) ListProtocolRuns(ctx context.Context, filters ...Filter) ([]domain.ProtocolRun, error) {
	return list(ctx, r, entitymodel.ProtocolRuns, filters...)
}

// GetProtocolRun returns one protocol run.
func (r *Repository) GetProtocolRun(ctx context.Context, id string) (domain.ProtocolRun, error) {
	return get(ctx, r, entitymodel.ProtocolRuns, id)
}

// CreateProtocolRun inserts run. Status defaults to QUEUED and created_at to
// the current time.
func (r *Repository) CreateProtocolRun(ctx context.Context, run domain.ProtocolRun) (domain.ProtocolRun, error) {
	return create(ctx, r, entitymodel.ProtocolRuns, run, func(run *domain.ProtocolRun) {
		if run.Status == "" {
			run.Status = domain.RunStatusQueued
		}
		if run.CreatedAt.IsZero() {
			run.CreatedAt = r.now().UTC()
		}
	})
}

// UpdateProtocolRun applies mutate to the stored run.
func (r *Repository) UpdateProtocolRun(ctx context.Context, id string, mutate func(*domain.ProtocolRun) error) (domain.ProtocolRun, error) {
	return update(ctx, r, entitymodel.ProtocolRuns, id, mutate)
}

// DeleteProtocolRun removes a run.
func (r *Repository) DeleteProtocolRun(ctx context.Context, id string) error {
	return remove(ctx, r, entitymodel.ProtocolRuns, id)
}

// ListResources returns resources matching filters.
func (r *Repository) ListResources(ctx context.Context, filters ...Filter) ([]domain.Resource, error) {
	return list(ctx, r, entitymodel.Resources, filters...)
}

// GetResource returns one resource.
func (r *Repository) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	return get(ctx, r, entitymodel.Resources, id)
}

// CreateResource inserts res.
func (r *Repository) CreateResource(ctx context.Context, res domain.Resource) (domain.Resource, error) {
	return create(ctx, r, entitymodel.Resources, res, func(res *domain.Resource) {
		if res.Properties == nil {
			res.Properties = map[string]any{}
		}
	})
}

// UpdateResource applies mutate to the stored resource.
func (r *Repository) UpdateResource(ctx context.Context, id string, mutate func(*domain.Resource) error) (domain.Resource, error) {
	return update(ctx, r, entitymodel.Resources, id, mutate)
}

// DeleteResource removes a resource.
func (r *Repository) DeleteResource(ctx context.Context, id string) error {
	return remove(ctx, r, entitymodel.Resources, id)
}

// ListMachines returns machines matching filters.
func (r *Repository) ListMachines(ctx context.Context, filters ...Filter) ([]domain.Machine, error) {
	return list(ctx, r, entitymodel.Machines, filters...)
}

// GetMachine returns one machine.
func (r *Repository) GetMachine(ctx context.Context, id string) (domain.Machine, error) {
	return get(ctx, r, entitymodel.Machines, id)
}

// CreateMachine inserts m.
func (r *Repository) CreateMachine(ctx context.Context, m domain.Machine) (domain.Machine, error) {
	return create(ctx, r, entitymodel.Machines, m, func(m *domain.Machine) {
		if m.Properties == nil {
			m.Properties = map[string]any{}
		}
	})
}

// UpdateMachine applies mutate to the stored machine.
func (r *Repository) UpdateMachine(ctx context.Context, id string, mutate func(*domain.Machine) error) (domain.Machine, error) {
	return update(ctx, r, entitymodel.Machines, id, mutate)
}

// DeleteMachine removes a machine.
func (r *Repository) DeleteMachine(ctx context.Context, id string) error {
	return remove(ctx, r, entitymodel.Machines, id)
}

// SeedFixtures inserts every row of d in one transaction, creating missing
// tables. Existing accession ids make the whole seed fail.
func (r *Repository) SeedFixtures(ctx context.Context, d fixtures.Dataset) error {
	for _, p := range d.Protocols {
		if err := r.check(domain.EntityProtocol, p); err != nil {
			return err
		}
	}
	for _, run := range d.ProtocolRuns {
		if err := r.check(domain.EntityProtocolRun, run); err != nil {
			return err
		}
	}
	for _, res := range d.Resources {
		if err := r.check(domain.EntityResource, res); err != nil {
			return err
		}
	}
	for _, m := range d.Machines {
		if err := r.check(domain.EntityMachine, m); err != nil {
			return err
		}
	}
	err := r.owner.WithEngine(ctx, func(eng *engine.Engine) error {
		return entitymodel.InTx(ctx, eng, func() error {
			if err := entitymodel.InsertAll(ctx, eng, entitymodel.Protocols, d.Protocols...); err != nil {
				return err
			}
			if err := entitymodel.InsertAll(ctx, eng, entitymodel.ProtocolRuns, d.ProtocolRuns...); err != nil {
				return err
			}
			if err := entitymodel.InsertAll(ctx, eng, entitymodel.Resources, d.Resources...); err != nil {
				return err
			}
			return entitymodel.InsertAll(ctx, eng, entitymodel.Machines, d.Machines...)
		})
	})
	if err != nil {
		return fmt.Errorf("seed fixtures: %w", err)
	}
	r.persistAsync(ctx)
	for _, p := range d.Protocols {
		r.publish(domain.EntityProtocol, domain.ActionCreate, p.AccessionID)
	}
	for _, run := range d.ProtocolRuns {
		r.publish(domain.EntityProtocolRun, domain.ActionCreate, run.AccessionID)
	}
	for _, res := range d.Resources {
		r.publish(domain.EntityResource, domain.ActionCreate, res.AccessionID)
	}
	for _, m := range d.Machines {
		r.publish(domain.EntityMachine, domain.ActionCreate, m.AccessionID)
	}
	return nil
}

