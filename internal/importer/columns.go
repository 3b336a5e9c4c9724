package importer

import (
	"context"
	"time"

	"github.com/withObsrvr/outline-importer/internal/metrics"
	"github.com/withObsrvr/outline-importer/internal/source"
)

// Column roles.
const (
	RoleStart                = "start"
	RoleEnd                  = "end"
	RoleTimeline             = "timeline"
	RoleResponsible          = "responsible"
	RoleSecondaryResponsible = "secondary_responsible"
)

type columnSpec struct {
	Role        string
	Title       string
	Description string
	Type        string
}

// metadataColumns are created once on every board and sub-item board.
var metadataColumns = []columnSpec{
	{Role: RoleStart, Title: "Start date", Description: "Planned start", Type: "date"},
	{Role: RoleEnd, Title: "End date", Description: "Planned finish", Type: "date"},
	{Role: RoleTimeline, Title: "Timeline", Description: "Planned start to finish", Type: "timeline"},
	{Role: RoleResponsible, Title: "Responsible", Description: "Assigned resources", Type: "text"},
	{Role: RoleSecondaryResponsible, Title: "Secondary responsible", Description: "Supervising resource", Type: "text"},
}

// bootstrapColumns creates the metadata columns on a board and returns their
// ids by role. If any creation fails the columns already created are deleted
// so the retried row starts from a clean board.
func (m *Materializer) bootstrapColumns(ctx context.Context, pos int, boardID string) (map[string]string, error) {
	created := make(map[string]string, len(metadataColumns))
	for _, spec := range metadataColumns {
		id, err := m.remote.CreateColumn(ctx, boardID, spec.Title, spec.Description, spec.Type)
		if err != nil {
			m.rollbackColumns(ctx, boardID, created)
			return nil, remoteError(pos, "create_column", err)
		}
		created[spec.Role] = id
	}
	m.log.Debug("created metadata columns", "board_id", boardID, "columns", len(created))
	return created, nil
}

func (m *Materializer) rollbackColumns(ctx context.Context, boardID string, created map[string]string) {
	if len(created) == 0 {
		return
	}
	for role, id := range created {
		if _, err := m.remote.DeleteColumn(ctx, boardID, id); err != nil {
			m.log.Warn("failed to roll back column", "board_id", boardID, "role", role, "column_id", id, "error", err)
		}
	}
	if mt := metrics.Get(); mt != nil {
		mt.ColumnsRollback.Inc()
	}
}

// columnValues builds the batched column payload for a row. Unparseable
// dates are logged and left out.
func (m *Materializer) columnValues(row source.Row, columns map[string]string) map[string]any {
	values := make(map[string]any)
	set := func(role string, v any) {
		if id, ok := columns[role]; ok && id != "" {
			values[id] = v
		}
	}

	start, hasStart := m.parseDate(row, m.opts.Columns.Start)
	end, hasEnd := m.parseDate(row, m.opts.Columns.Finish)

	if hasStart {
		set(RoleStart, map[string]string{"date": source.FormatDate(start)})
	}
	if hasEnd {
		set(RoleEnd, map[string]string{"date": source.FormatDate(end)})
	}
	if hasStart && hasEnd {
		if end.Before(start) {
			m.log.Warn("finish before start, timeline left empty", "position", row.Position)
		} else {
			set(RoleTimeline, map[string]string{
				"from": source.FormatDate(start),
				"to":   source.FormatDate(end),
			})
		}
	}

	if v := row.Get(m.opts.Columns.Responsible); v != "" {
		set(RoleResponsible, v)
	}
	if v := row.Get(m.opts.Columns.SecondaryResponsible); v != "" {
		set(RoleSecondaryResponsible, v)
	}
	return values
}

func (m *Materializer) parseDate(row source.Row, column string) (time.Time, bool) {
	cell := row.Get(column)
	if cell == "" {
		return time.Time{}, false
	}
	t, ok := source.ParseDate(cell, m.opts.DateLayouts)
	if !ok {
		m.log.Warn("malformed date cell treated as empty", "position", row.Position, "column", column, "value", cell)
	}
	return t, ok
}
