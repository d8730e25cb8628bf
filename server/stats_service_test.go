package server

import (
	"context"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"

	"github.com/donBarbos/cpython/vm"
)

func bg() context.Context {
	return context.Background()
}

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

// newTestService builds a registry with some counter traffic: one
// LOAD_GLOBAL site specialized and hit twice.
func newTestService(t *testing.T) (*StatsService, *vm.Registry) {
	t.Helper()
	reg, err := vm.NewDefaultRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Tune("load_global", 1, 0); err != nil {
		t.Fatal(err)
	}
	reg.Finalize()

	in, err := vm.NewInterp(reg, vm.NewHeap(), vm.NewGlobalTable())
	if err != nil {
		t.Fatal(err)
	}
	in.Globals.Define("x", vm.MakeSmallInt(1))
	b := vm.NewCodeBuilder()
	b.Emit(vm.OpLoadGlobal, b.Name("x"))
	b.Emit(vm.OpReturn, 0)
	code := b.Build()
	if err := code.Quicken(reg); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := in.Run(code); err != nil {
			t.Fatal(err)
		}
	}
	return NewStatsService(reg), reg
}

func TestSnapshot(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Snapshot(bg(), connectReq(&SnapshotRequest{}))
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	byKey := map[[2]string]uint64{}
	for _, row := range resp.Msg.Rows {
		byKey[[2]string{row.Kind, row.Event}] = row.Count
	}
	if got := byKey[[2]string{"LOAD_GLOBAL", "attempted"}]; got != 1 {
		t.Errorf("attempted = %d, want 1", got)
	}
	if got := byKey[[2]string{"LOAD_GLOBAL_CACHED", "hit"}]; got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}

	if len(resp.Msg.Totals) != 1 {
		t.Fatalf("totals = %d, want 1", len(resp.Msg.Totals))
	}
	total := resp.Msg.Totals[0]
	if total.Family != "load_global" || total.Hits != 2 || total.Attempted != 1 {
		t.Errorf("family total = %+v", total)
	}
}

func TestSnapshotFamilyFilter(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Snapshot(bg(), connectReq(&SnapshotRequest{Family: "binary_op"}))
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if len(resp.Msg.Rows) != 0 || len(resp.Msg.Totals) != 0 {
		t.Errorf("idle family returned %d rows, %d totals",
			len(resp.Msg.Rows), len(resp.Msg.Totals))
	}

	_, err = svc.Snapshot(bg(), connectReq(&SnapshotRequest{Family: "no_such"}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("unknown family error = %v", err)
	}
}

func TestReset(t *testing.T) {
	svc, reg := newTestService(t)

	resp, err := svc.Reset(bg(), connectReq(&ResetRequest{}))
	if err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if resp.Msg.Discarded == 0 {
		t.Error("Reset discarded nothing")
	}
	if rows := reg.Stats().Snapshot(); len(rows) != 0 {
		t.Errorf("%d rows survived reset", len(rows))
	}
}

func TestFamilies(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Families(bg(), connectReq(&FamiliesRequest{}))
	if err != nil {
		t.Fatalf("Families returned error: %v", err)
	}
	want := map[string]string{
		"binary_op":   "BINARY_OP",
		"load_attr":   "LOAD_ATTR",
		"load_global": "LOAD_GLOBAL",
	}
	if len(resp.Msg.Families) != len(want) {
		t.Fatalf("families = %+v", resp.Msg.Families)
	}
	for _, f := range resp.Msg.Families {
		if want[f.Name] != f.Base {
			t.Errorf("family %s base = %s, want %s", f.Name, f.Base, want[f.Name])
		}
	}
}

// Full round trip over HTTP with the CBOR codec on both sides.
func TestClientRoundTrip(t *testing.T) {
	_, reg := newTestService(t)
	srv := httptest.NewServer(New(reg).Handler())
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)

	snap, err := client.Snapshot(bg(), "")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Rows) == 0 {
		t.Fatal("no rows over the wire")
	}

	fams, err := client.Families(bg())
	if err != nil {
		t.Fatalf("Families: %v", err)
	}
	if len(fams.Families) != 3 {
		t.Errorf("families over the wire = %d", len(fams.Families))
	}

	reset, err := client.Reset(bg())
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if reset.Discarded == 0 {
		t.Error("reset over the wire discarded nothing")
	}
	snap, err = client.Snapshot(bg(), "")
	if err != nil {
		t.Fatalf("Snapshot after reset: %v", err)
	}
	if len(snap.Rows) != 0 {
		t.Errorf("rows after reset = %d", len(snap.Rows))
	}
}
