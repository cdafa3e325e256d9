package triage

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"
)

func testColumns(names ...string) []ColumnSetting {
	columns := make([]ColumnSetting, len(names))
	for i, name := range names {
		columns[i] = ColumnSetting{Name: name, Color: "#3B82F6"}
	}
	return columns
}

func TestShiftAppendsToDestinationEnd(t *testing.T) {
	gateway := newTestGateway()
	store := newTestStore(t, gateway, "a", "b")
	defer store.Close()
	board := NewBoard(store, testColumns("new", "contacted"))

	err := store.UpdateStatusInColumn(context.Background(), "b", StatusLiked, 1)
	assert.Equal(t, err, nil)

	err = board.Shift(context.Background(), "a", 1)
	assert.Equal(t, err, nil)

	buckets := board.Columns()
	assert.Equal(t, len(buckets[0]), 0)
	assert.Equal(t, len(buckets[1]), 2)
	assert.Equal(t, buckets[1][0].Token, "b")
	assert.Equal(t, buckets[1][1].Token, "a")

	_, state := store.PropertyWithState("a")
	assert.Equal(t, state.ColumnIndex, 1)
	assert.Equal(t, state.Position, 1)
}

func TestShiftPastEdgeIsNoop(t *testing.T) {
	gateway := newTestGateway()
	store := newTestStore(t, gateway, "a")
	defer store.Close()
	board := NewBoard(store, testColumns("new", "contacted"))

	err := board.Shift(context.Background(), "a", -1)
	assert.Equal(t, err, nil)
	assert.Equal(t, gateway.UpsertCount(), 0)

	err = board.Shift(context.Background(), "a", 1)
	assert.Equal(t, err, nil)
	err = board.Shift(context.Background(), "a", 1)
	assert.Equal(t, err, nil)
	// second shift ran past the last column
	assert.Equal(t, gateway.UpsertCount(), 1)

	_, state := store.PropertyWithState("a")
	assert.Equal(t, state.ColumnIndex, 1)
}

func TestShiftClampsStaleColumnIndex(t *testing.T) {
	gateway := newTestGateway()
	store := newTestStore(t, gateway, "a")
	defer store.Close()
	// stale index from before a settings edit shrank the board
	err := store.UpdateStatusInColumn(context.Background(), "a", StatusLiked, 5)
	assert.Equal(t, err, nil)

	board := NewBoard(store, testColumns("new", "contacted"))
	err = board.Shift(context.Background(), "a", 1)
	assert.Equal(t, err, nil)
	// clamped current column is 1, so a forward shift is a no-op
	assert.Equal(t, gateway.UpsertCount(), 1)

	err = board.Shift(context.Background(), "a", -1)
	assert.Equal(t, err, nil)
	_, state := store.PropertyWithState("a")
	assert.Equal(t, state.ColumnIndex, 0)
}

func TestDropWithoutChangeIsNoop(t *testing.T) {
	gateway := newTestGateway()
	store := newTestStore(t, gateway, "a")
	defer store.Close()
	board := NewBoard(store, testColumns("new", "contacted"))

	err := board.Drop(context.Background(), "a", 0, 0, 0, 0)
	assert.Equal(t, err, nil)
	assert.Equal(t, gateway.UpsertCount(), 0)
}

func TestDropReordersWithinColumn(t *testing.T) {
	gateway := newTestGateway()
	store := newTestStore(t, gateway, "a", "b")
	defer store.Close()
	board := NewBoard(store, testColumns("new"))

	err := store.Move(context.Background(), "a", 0, 0, 0)
	assert.Equal(t, err, nil)
	err = store.Move(context.Background(), "b", 0, 0, 1)
	assert.Equal(t, err, nil)

	// drag a to the end; same code path as a cross-column move
	err = board.Drop(context.Background(), "a", 0, 0, 0, 1)
	assert.Equal(t, err, nil)

	buckets := board.Columns()
	assert.Equal(t, buckets[0][0].Token, "b")
	assert.Equal(t, buckets[0][1].Token, "a")
}

func TestMoveToCrossColumn(t *testing.T) {
	gateway := newTestGateway()
	store := newTestStore(t, gateway, "a")
	defer store.Close()
	board := NewBoard(store, testColumns("new", "contacted", "visited"))

	err := board.MoveTo(context.Background(), "a", 0, 2, 0)
	assert.Equal(t, err, nil)

	buckets := board.Columns()
	assert.Equal(t, len(buckets[2]), 1)
	assert.Equal(t, buckets[2][0].Token, "a")
}
