// Package positionmap reconciles a grid's visual row order against the
// physical data matrix, producing the (row ID, position) pairs the backend
// persists. The map reflects exactly what the user sees: filtered-out rows
// are absent by construction because the grid only counts visible rows.
package positionmap

import (
	"github.com/sirupsen/logrus"

	"sheetsync/grid"
	"sheetsync/sheets"
)

// IDColumn is the well-known header marking a row's durable identifier.
const IDColumn = "project_article_id"

// CommentColumn is the fallback marker for in-sheet header rows: a row whose
// comment cell reads HEADER is decoration, not data.
const CommentColumn = "Kommentar"

const headerRowMarker = "HEADER"

type Row struct {
	RowID            any `json:"rowId"`
	ProjectArticleID any `json:"project_article_id"`
	Position         int `json:"position"`
}

type Map struct {
	Sheet string `json:"sheet"`
	Rows  []Row  `json:"rows"`
}

// Build walks the visible rows in visual order and emits 1-based positions
// keyed by durable row ID. Returns nil when the grid is not mounted or the
// ID column is absent; callers must treat nil as "nothing to send". Rows
// with a stale physical index or an empty ID cell are skipped, which keeps
// the builder safe against half-finished async reloads.
func Build(sheet string, g grid.Grid, headers []string, data [][]any) *Map {
	if g == nil {
		logrus.WithField("sheet", sheet).Warn("positionmap: grid not mounted")
		return nil
	}

	colID := indexOf(headers, IDColumn)
	if colID == -1 {
		logrus.WithFields(logrus.Fields{"sheet": sheet, "column": IDColumn}).
			Warn("positionmap: id column not found")
		return nil
	}
	colComment := indexOf(headers, CommentColumn)

	m := &Map{Sheet: sheet}
	for visual := 0; visual < g.CountRows(); visual++ {
		physical := g.ToPhysical(visual)
		if physical < 0 || physical >= len(data) {
			continue
		}
		row := data[physical]
		if row == nil {
			continue
		}
		if colComment != -1 && colComment < len(row) &&
			sheets.Norm(row[colComment]) == headerRowMarker {
			continue
		}
		if colID >= len(row) || sheets.IsEmpty(row[colID]) {
			continue
		}
		id := sheets.Norm(row[colID])
		m.Rows = append(m.Rows, Row{
			RowID:            id,
			ProjectArticleID: id,
			Position:         visual + 1,
		})
	}
	return m
}

func indexOf(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	return -1
}
