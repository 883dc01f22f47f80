package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aadi/tabletsync/internal/app/guest"
	"github.com/aadi/tabletsync/internal/app/orders"
	"github.com/aadi/tabletsync/internal/app/tabletapi"
)

func TestGuestCommandsFireIntoTabletAPI(t *testing.T) {
	collection := orders.NewCollection()
	srv := httptest.NewServer(tabletapi.NewHandler(collection, "").Router())
	defer srv.Close()

	t.Setenv("TABLET_API_BASE", srv.URL)
	t.Setenv("GUEST_STATE_DIR", t.TempDir())
	t.Setenv("GUEST_DATABASE_URL", "")

	ctx := context.Background()
	var out bytes.Buffer
	steps := [][]string{
		{"save", "-r", "pasta-palace", "carbonara:2", "bruschetta"},
		{"stage", "-r", "pasta-palace", "-eta", "15", "-party", "3"},
		{"fire", "-r", "pasta-palace"},
		{"status", "-r", "pasta-palace"},
	}
	for _, args := range steps {
		if err := run(ctx, args, &out); err != nil {
			t.Fatalf("%v: %v\n%s", args, err, out.String())
		}
	}

	if !strings.Contains(out.String(), "2x Spaghetti Carbonara") {
		t.Fatalf("cart not printed:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "in 15m") {
		t.Fatalf("eta not printed:\n%s", out.String())
	}
	if strings.Contains(out.String(), "warning:") {
		t.Fatalf("fire did not reach the api:\n%s", out.String())
	}

	list := collection.List()
	if len(list) != 1 || list[0].PartySize != 3 {
		t.Fatalf("expected one injected order with party 3, got %+v", list)
	}
}

func TestGuestSaveRejectsUnknownItem(t *testing.T) {
	t.Setenv("GUEST_STATE_DIR", t.TempDir())
	t.Setenv("GUEST_DATABASE_URL", "")

	var out bytes.Buffer
	err := run(context.Background(), []string{"save", "-r", "pasta-palace", "pizza"}, &out)
	if !errors.Is(err, guest.ErrInvalidCart) {
		t.Fatalf("expected ErrInvalidCart, got %v", err)
	}
}

func TestGuestUnknownCommand(t *testing.T) {
	t.Setenv("GUEST_STATE_DIR", t.TempDir())
	t.Setenv("GUEST_DATABASE_URL", "")

	var out bytes.Buffer
	if err := run(context.Background(), []string{"order-pizza"}, &out); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
	if !strings.Contains(out.String(), "usage: guest") {
		t.Fatalf("usage not printed:\n%s", out.String())
	}
}

func TestFormatCents(t *testing.T) {
	if got := formatCents(1790); got != "$17.90" {
		t.Fatalf("formatCents = %q", got)
	}
}
