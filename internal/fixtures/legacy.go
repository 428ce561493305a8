// Package fixtures bundles the seed dataset used when no other bootstrap
// source is available.
package fixtures

import (
	"context"
	"fmt"
	"time"

	"praxis/internal/engine"
	"praxis/internal/entitymodel"
	"praxis/internal/entitymodel/sqlbundle"
	"praxis/pkg/domain"
)

// Dataset is a full set of seed rows for the four entity tables.
type Dataset struct {
	Protocols    []domain.Protocol
	ProtocolRuns []domain.ProtocolRun
	Resources    []domain.Resource
	Machines     []domain.Machine
}

// Counts returns the number of rows per entity.
func (d Dataset) Counts() map[domain.EntityType]int {
	return map[domain.EntityType]int{
		domain.EntityProtocol:    len(d.Protocols),
		domain.EntityProtocolRun: len(d.ProtocolRuns),
		domain.EntityResource:    len(d.Resources),
		domain.EntityMachine:     len(d.Machines),
	}
}

var seedTime = time.Date(2024, time.March, 4, 9, 30, 0, 0, time.UTC)

// Legacy returns a fresh copy of the legacy seed dataset.
func Legacy() Dataset {
	s := domain.StringPtr
	return Dataset{
		Protocols: []domain.Protocol{
			{
				AccessionID: "proto-serial-dilution",
				Name:        "Serial Dilution",
				Description: s("Eight point 1:2 dilution series across a 96 well plate"),
				IsTopLevel:  true,
				Version:     s("1.2.0"),
				Parameters:  map[string]any{"steps": float64(8), "factor": 0.5},
			},
			{
				AccessionID: "proto-plate-transfer",
				Name:        "Plate Transfer",
				Description: s("Stamp a source plate onto a destination plate"),
				IsTopLevel:  true,
				Version:     s("0.9.1"),
				Parameters:  map[string]any{"volume_ul": float64(50)},
			},
			{
				AccessionID: "proto-tip-pickup",
				Name:        "Tip Pickup",
				Description: s("Sub-protocol used by liquid handling steps"),
				IsTopLevel:  false,
				Version:     s("1.0.0"),
			},
		},
		ProtocolRuns: []domain.ProtocolRun{
			{
				AccessionID:         "run-0001",
				ProtocolAccessionID: s("proto-serial-dilution"),
				Name:                s("Dilution calibration"),
				Status:              domain.RunStatusCompleted,
				CreatedAt:           seedTime,
				Parameters:          map[string]any{"steps": float64(8)},
				UserParams:          map[string]any{"operator": "demo"},
			},
			{
				AccessionID:         "run-0002",
				ProtocolAccessionID: s("proto-plate-transfer"),
				Name:                s("Transfer batch 7"),
				Status:              domain.RunStatusFailed,
				CreatedAt:           seedTime.Add(2 * time.Hour),
			},
			{
				AccessionID:         "run-0003",
				ProtocolAccessionID: s("proto-plate-transfer"),
				Name:                s("Transfer batch 8"),
				Status:              domain.RunStatusQueued,
				CreatedAt:           seedTime.Add(26 * time.Hour),
				UserParams:          map[string]any{"priority": "high"},
			},
		},
		Resources: []domain.Resource{
			{AccessionID: "res-plate-96", Name: "96 Well Plate", Type: s("plate"), Properties: map[string]any{"wells": float64(96), "vendor": "Corning"}},
			{AccessionID: "res-tip-rack-200", Name: "200ul Tip Rack", Type: s("tip_rack"), Properties: map[string]any{"tips": float64(96)}},
			{AccessionID: "res-reservoir", Name: "Reagent Reservoir", Type: s("trough"), Properties: map[string]any{"capacity_ml": float64(300)}},
			{AccessionID: "res-deep-well", Name: "Deep Well Plate", Type: s("plate"), Properties: map[string]any{"wells": float64(96), "depth_mm": float64(41)}},
		},
		Machines: []domain.Machine{
			{AccessionID: "mach-star", Name: "Liquid Handler STAR", Type: s("liquid_handler"), Properties: map[string]any{"channels": float64(8)}},
			{AccessionID: "mach-reader", Name: "Plate Reader", Type: s("reader"), Properties: map[string]any{"modes": []any{"absorbance", "fluorescence"}}},
		},
	}
}

// Load creates the canonical tables in eng and inserts every row of d in a
// single transaction.
func (d Dataset) Load(ctx context.Context, eng *engine.Engine) error {
	if err := eng.ExecScript(ctx, sqlbundle.SQLite()); err != nil {
		return fmt.Errorf("apply ddl: %w", err)
	}
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
}
