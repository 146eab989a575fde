package pipeline

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/datajoint/workflow-deeplabcut/internal/elements"
	"github.com/datajoint/workflow-deeplabcut/internal/schema"
)

//go:embed migrations
var migrationsFS embed.FS

// EquipmentModule is the name of the module holding recording equipment.
const EquipmentModule = "equipment"

// EquipmentRow is one entry of the Equipment table.
type EquipmentRow struct {
	Equipment   string
	Modality    string
	Description string
}

// DefaultEquipment lists the cameras seeded on every activation.
var DefaultEquipment = []EquipmentRow{
	{Equipment: "Camera1", Modality: "Pose Estimation", Description: "Panasonic HC-V380K"},
	{Equipment: "Camera2", Modality: "Pose Estimation", Description: "Panasonic HC-V770K"},
}

// Equipment returns the equipment module. It extends the lab namespace
// rather than getting one of its own.
func Equipment() schema.Module {
	src, err := fs.Sub(migrationsFS, "migrations/equipment")
	if err != nil {
		panic(fmt.Sprintf("pipeline: equipment migrations: %v", err))
	}
	rows := make([][]any, len(DefaultEquipment))
	for i, e := range DefaultEquipment {
		rows[i] = []any{e.Equipment, e.Modality, e.Description}
	}
	return schema.Module{
		Name:       EquipmentModule,
		Namespace:  elements.LabModule,
		DependsOn:  []string{elements.LabModule},
		Exports:    map[string]string{"Equipment": "equipment"},
		Migrations: src,
		Lookups: []schema.Lookup{{
			Table:   "equipment",
			Columns: []string{"equipment", "modality", "description"},
			Rows:    rows,
		}},
	}
}

// ListEquipment returns every Equipment row ordered by name.
func (p *Pipeline) ListEquipment(ctx context.Context) ([]EquipmentRow, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT equipment, modality, COALESCE(description, '') FROM %s ORDER BY equipment`,
		p.Equipment.Ident()))
	if err != nil {
		return nil, fmt.Errorf("failed to list equipment: %w", err)
	}
	defer rows.Close()

	var out []EquipmentRow
	for rows.Next() {
		var e EquipmentRow
		if err := rows.Scan(&e.Equipment, &e.Modality, &e.Description); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
