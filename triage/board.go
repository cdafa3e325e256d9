package triage

import (
	"context"
)

type BoardType string

const (
	BoardLike    BoardType = "like"
	BoardDislike BoardType = "dislike"
)

// Board projects the store into the ordered column buckets of one status
// family and carries the move math for drag-and-drop and the manual
// column-shift buttons. Pure derivation; all writes go through the store.
type Board struct {
	store   *Store
	columns []ColumnSetting
}

func NewBoard(store *Store, columns []ColumnSetting) *Board {
	return &Board{
		store:   store,
		columns: columns,
	}
}

func (self *Board) ColumnNames() []string {
	names := make([]string, len(self.columns))
	for i, column := range self.columns {
		names[i] = column.Name
	}
	return names
}

func (self *Board) ColumnSettings() []ColumnSetting {
	return self.columns
}

func (self *Board) Columns() [][]*Property {
	return self.store.PropertiesByColumn(self.ColumnNames())
}

// MoveTo reassigns column and position verbatim through the store. The
// caller supplies the exact target position: the drag library's reported
// index for an insert, or the destination bucket length for an append.
func (self *Board) MoveTo(ctx context.Context, token string, fromColumn int, toColumn int, newPosition int) error {
	return self.store.Move(ctx, token, fromColumn, toColumn, newPosition)
}

// Drop handles a drag-and-drop result. A drop with no change in column or
// index is a no-op.
func (self *Board) Drop(ctx context.Context, token string, fromColumn int, fromIndex int, toColumn int, toIndex int) error {
	if fromColumn == toColumn && fromIndex == toIndex {
		return nil
	}
	return self.store.Move(ctx, token, fromColumn, toColumn, toIndex)
}

// Shift moves a property to an adjacent column, appending to the end of the
// destination bucket. Outside [0, columnCount-1] it is a no-op.
func (self *Board) Shift(ctx context.Context, token string, delta int) error {
	_, state := self.store.PropertyWithState(token)

	currentColumn := 0
	if state != nil {
		currentColumn = clampColumn(state.ColumnIndex, len(self.columns))
	}
	targetColumn := currentColumn + delta
	if targetColumn < 0 || len(self.columns) <= targetColumn {
		return nil
	}

	buckets := self.Columns()
	newPosition := len(buckets[targetColumn])
	return self.store.Move(ctx, token, currentColumn, targetColumn, newPosition)
}
