package entitymodel

import (
	"praxis/pkg/domain"
)

// Model couples an entity type with its table and record conversions.
type Model[T any] struct {
	Entity     domain.EntityType
	Table      *Table
	ID         func(T) string
	SetID      func(*T, string)
	ToRecord   func(T) Record
	FromRecord func(Record) T
}

// Canonical tables. The protocol table also accepts the older "protocols"
// shape whose top_level column predates is_top_level.
var (
	ProtocolTable = &Table{
		Name: "protocol_definitions",
		Columns: []Column{
			{Name: IDColumn, Kind: KindText},
			{Name: "name", Kind: KindText},
			{Name: "description", Kind: KindText},
			{Name: "is_top_level", Kind: KindBool},
			{Name: "version", Kind: KindText},
			{Name: "parameters", Kind: KindJSON},
		},
		Legacy: []LegacyTable{{
			Name:    "protocols",
			Renames: map[string]string{"top_level": "is_top_level", "id": IDColumn},
		}},
	}
	ProtocolRunTable = &Table{
		Name: "protocol_runs",
		Columns: []Column{
			{Name: IDColumn, Kind: KindText},
			{Name: "protocol_accession_id", Kind: KindText},
			{Name: "name", Kind: KindText},
			{Name: "status", Kind: KindText},
			{Name: "created_at", Kind: KindTime},
			{Name: "parameters", Kind: KindJSON},
			{Name: "user_params", Kind: KindJSON},
		},
	}
	ResourceTable = &Table{
		Name: "resources",
		Columns: []Column{
			{Name: IDColumn, Kind: KindText},
			{Name: "name", Kind: KindText},
			{Name: "type", Kind: KindText},
			{Name: "properties", Kind: KindJSON, Required: true},
		},
	}
	MachineTable = &Table{
		Name: "machines",
		Columns: []Column{
			{Name: IDColumn, Kind: KindText},
			{Name: "name", Kind: KindText},
			{Name: "type", Kind: KindText},
			{Name: "properties", Kind: KindJSON, Required: true},
		},
	}
)

// Tables lists every canonical table in DDL order.
func Tables() []*Table {
	return []*Table{ProtocolTable, ProtocolRunTable, ResourceTable, MachineTable}
}

// IsKnownTable reports whether name is a canonical or legacy entity table.
func IsKnownTable(name string) bool {
	for _, t := range Tables() {
		if t.Name == name {
			return true
		}
		for _, l := range t.Legacy {
			if l.Name == name {
				return true
			}
		}
	}
	return false
}

// Protocols maps domain.Protocol.
var Protocols = Model[domain.Protocol]{
	Entity: domain.EntityProtocol,
	Table:  ProtocolTable,
	ID:     func(p domain.Protocol) string { return p.AccessionID },
	SetID:  func(p *domain.Protocol, id string) { p.AccessionID = id },
	ToRecord: func(p domain.Protocol) Record {
		return Record{
			IDColumn:       p.AccessionID,
			"name":         p.Name,
			"description":  p.Description,
			"is_top_level": p.IsTopLevel,
			"version":      p.Version,
			"parameters":   nilIfEmpty(p.Parameters),
		}
	},
	FromRecord: func(r Record) domain.Protocol {
		return domain.Protocol{
			AccessionID: r.Text(IDColumn),
			Name:        r.Text("name"),
			Description: r.TextPtr("description"),
			IsTopLevel:  r.Bool("is_top_level"),
			Version:     r.TextPtr("version"),
			Parameters:  r.Object("parameters"),
		}
	},
}

// ProtocolRuns maps domain.ProtocolRun.
var ProtocolRuns = Model[domain.ProtocolRun]{
	Entity: domain.EntityProtocolRun,
	Table:  ProtocolRunTable,
	ID:     func(r domain.ProtocolRun) string { return r.AccessionID },
	SetID:  func(r *domain.ProtocolRun, id string) { r.AccessionID = id },
	ToRecord: func(r domain.ProtocolRun) Record {
		return Record{
			IDColumn:                r.AccessionID,
			"protocol_accession_id": r.ProtocolAccessionID,
			"name":                  r.Name,
			"status":                string(r.Status),
			"created_at":            r.CreatedAt,
			"parameters":            nilIfEmpty(r.Parameters),
			"user_params":           nilIfEmpty(r.UserParams),
		}
	},
	FromRecord: func(r Record) domain.ProtocolRun {
		return domain.ProtocolRun{
			AccessionID:         r.Text(IDColumn),
			ProtocolAccessionID: r.TextPtr("protocol_accession_id"),
			Name:                r.TextPtr("name"),
			Status:              domain.RunStatus(r.Text("status")),
			CreatedAt:           r.Time("created_at"),
			Parameters:          r.Object("parameters"),
			UserParams:          r.Object("user_params"),
		}
	},
}

// Resources maps domain.Resource.
var Resources = Model[domain.Resource]{
	Entity: domain.EntityResource,
	Table:  ResourceTable,
	ID:     func(r domain.Resource) string { return r.AccessionID },
	SetID:  func(r *domain.Resource, id string) { r.AccessionID = id },
	ToRecord: func(r domain.Resource) Record {
		return Record{IDColumn: r.AccessionID, "name": r.Name, "type": r.Type, "properties": nilIfEmpty(r.Properties)}
	},
	FromRecord: func(r Record) domain.Resource {
		return domain.Resource{AccessionID: r.Text(IDColumn), Name: r.Text("name"), Type: r.TextPtr("type"), Properties: objectOrEmpty(r.Object("properties"))}
	},
}

// Machines maps domain.Machine.
var Machines = Model[domain.Machine]{
	Entity: domain.EntityMachine,
	Table:  MachineTable,
	ID:     func(m domain.Machine) string { return m.AccessionID },
	SetID:  func(m *domain.Machine, id string) { m.AccessionID = id },
	ToRecord: func(m domain.Machine) Record {
		return Record{IDColumn: m.AccessionID, "name": m.Name, "type": m.Type, "properties": nilIfEmpty(m.Properties)}
	},
	FromRecord: func(r Record) domain.Machine {
		return domain.Machine{AccessionID: r.Text(IDColumn), Name: r.Text("name"), Type: r.TextPtr("type"), Properties: objectOrEmpty(r.Object("properties"))}
	},
}

func nilIfEmpty(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

func objectOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Records converts items to canonical records.
func (m Model[T]) Records(items ...T) []Record {
	out := make([]Record, 0, len(items))
	for _, item := range items {
		out = append(out, m.ToRecord(item))
	}
	return out
}

// Entities converts decoded records to entities.
func (m Model[T]) Entities(recs []Record) []T {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		out = append(out, m.FromRecord(r))
	}
	return out
}
