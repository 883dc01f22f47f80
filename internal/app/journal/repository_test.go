package journal

import (
	"strings"
	"testing"

	"github.com/aadi/tabletsync/internal/contracts"
)

func TestSupersedes(t *testing.T) {
	tests := []struct {
		name     string
		stored   contracts.Cursor
		incoming contracts.Cursor
		want     bool
	}{
		{"no row yet", "", "1", true},
		{"newer", "9", "10", true},
		{"older than stored", "10", "9", false},
		{"redelivered", "12", "12", false},
		{"numeric not lexical", "100", "99", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := supersedes(tt.stored, tt.incoming); got != tt.want {
				t.Errorf("supersedes(%q, %q) = %v, want %v", tt.stored, tt.incoming, got, tt.want)
			}
		})
	}
}

// projectionRow mirrors the guarded columns of order_projection.
type projectionRow struct {
	cursor  contracts.Cursor
	deleted bool
}

func applyGuarded(rows map[string]projectionRow, e contracts.MirroredEvent) {
	row, exists := rows[e.OrderID]
	if exists && !supersedes(row.cursor, e.Cursor) {
		return
	}
	rows[e.OrderID] = projectionRow{cursor: e.Cursor, deleted: e.Type == contracts.EventDelete}
}

func TestProjectionGuard_LateUpsertDoesNotResurrectDeletedOrder(t *testing.T) {
	rows := map[string]projectionRow{}
	for _, e := range []contracts.MirroredEvent{
		{Type: contracts.EventUpsert, Cursor: "9", OrderID: "A1"},
		{Type: contracts.EventDelete, Cursor: "11", OrderID: "A1"},
		// Reordered upsert that predates the delete.
		{Type: contracts.EventUpsert, Cursor: "10", OrderID: "A1"},
	} {
		applyGuarded(rows, e)
	}
	row := rows["A1"]
	if !row.deleted || row.cursor != "11" {
		t.Fatalf("expected tombstone at cursor 11, got %+v", row)
	}

	applyGuarded(rows, contracts.MirroredEvent{Type: contracts.EventUpsert, Cursor: "12", OrderID: "A1"})
	if row := rows["A1"]; row.deleted || row.cursor != "12" {
		t.Fatalf("newer upsert should replace the tombstone, got %+v", row)
	}
}

func TestProjectionSQL_TombstonesHiddenAndGuarded(t *testing.T) {
	if !strings.Contains(listProjectionSQL, "WHERE NOT deleted") {
		t.Fatalf("listing must skip tombstones: %s", listProjectionSQL)
	}
	if !strings.Contains(selectProjectionCursorSQL, "FOR UPDATE") {
		t.Fatalf("cursor check must lock the row: %s", selectProjectionCursorSQL)
	}
	if !strings.Contains(tombstoneProjectionSQL, "deleted = true") {
		t.Fatalf("delete must keep a tombstone: %s", tombstoneProjectionSQL)
	}
}
