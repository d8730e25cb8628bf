package server

import (
	"context"
	"fmt"
	"sort"

	"connectrpc.com/connect"

	"github.com/donBarbos/cpython/vm"
)

// Procedure paths for the stats service.
const (
	SnapshotProcedure = "/pyadapt.v1.StatsService/Snapshot"
	ResetProcedure    = "/pyadapt.v1.StatsService/Reset"
	FamiliesProcedure = "/pyadapt.v1.StatsService/Families"
)

// SnapshotRequest asks for the current counters. With Family set, rows
// are filtered to that family's kinds.
type SnapshotRequest struct {
	Family string `cbor:"1,keyasint,omitempty"`
}

// StatRow is one non-zero counter.
type StatRow struct {
	Kind   string `cbor:"1,keyasint"`
	Event  string `cbor:"2,keyasint"`
	Family string `cbor:"3,keyasint,omitempty"`
	Count  uint64 `cbor:"4,keyasint"`
}

// FamilyTotal aggregates one family's counters.
type FamilyTotal struct {
	Family    string `cbor:"1,keyasint"`
	Hits      uint64 `cbor:"2,keyasint"`
	Misses    uint64 `cbor:"3,keyasint"`
	Deferred  uint64 `cbor:"4,keyasint"`
	Attempted uint64 `cbor:"5,keyasint"`
}

// SnapshotResponse carries the counter rows and per-family totals.
type SnapshotResponse struct {
	Rows   []StatRow     `cbor:"1,keyasint,omitempty"`
	Totals []FamilyTotal `cbor:"2,keyasint,omitempty"`
}

// ResetRequest zeroes every counter.
type ResetRequest struct{}

// ResetResponse reports how many non-zero rows were discarded.
type ResetResponse struct {
	Discarded int `cbor:"1,keyasint"`
}

// FamiliesRequest lists the installed adaptive families.
type FamiliesRequest struct{}

// FamilyInfo describes one installed family.
type FamilyInfo struct {
	Name string `cbor:"1,keyasint"`
	Base string `cbor:"2,keyasint"`
}

// FamiliesResponse lists the installed families, sorted by name.
type FamiliesResponse struct {
	Families []FamilyInfo `cbor:"1,keyasint,omitempty"`
}

// StatsService exposes a registry's specialization counters over Connect.
type StatsService struct {
	reg *vm.Registry
}

// NewStatsService creates a StatsService for a finalized registry.
func NewStatsService(reg *vm.Registry) *StatsService {
	return &StatsService{reg: reg}
}

// Snapshot returns all non-zero counters plus per-family totals.
func (s *StatsService) Snapshot(
	ctx context.Context,
	req *connect.Request[SnapshotRequest],
) (*connect.Response[SnapshotResponse], error) {
	filter := req.Msg.Family
	if filter != "" && !s.knownFamily(filter) {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("unknown family %q", filter))
	}

	rows := s.reg.Stats().Snapshot()
	resp := &SnapshotResponse{}
	for _, row := range rows {
		fam := s.reg.FamilyOf(row.Kind)
		if filter != "" && fam != filter {
			continue
		}
		resp.Rows = append(resp.Rows, StatRow{
			Kind:   row.Kind.Name(),
			Event:  row.Event.String(),
			Family: fam,
			Count:  row.Count,
		})
	}
	for name, t := range vm.FamilyTotals(s.reg, rows) {
		if filter != "" && name != filter {
			continue
		}
		resp.Totals = append(resp.Totals, FamilyTotal{
			Family:    name,
			Hits:      t[vm.EventHit],
			Misses:    t[vm.EventMiss],
			Deferred:  t[vm.EventDeferred],
			Attempted: t[vm.EventAttempt],
		})
	}
	sort.Slice(resp.Totals, func(i, j int) bool {
		return resp.Totals[i].Family < resp.Totals[j].Family
	})
	return connect.NewResponse(resp), nil
}

// Reset zeroes every counter. This is the only path that resets counts.
func (s *StatsService) Reset(
	ctx context.Context,
	req *connect.Request[ResetRequest],
) (*connect.Response[ResetResponse], error) {
	discarded := len(s.reg.Stats().Snapshot())
	s.reg.Stats().Reset()
	return connect.NewResponse(&ResetResponse{Discarded: discarded}), nil
}

// Families lists the installed adaptive families.
func (s *StatsService) Families(
	ctx context.Context,
	req *connect.Request[FamiliesRequest],
) (*connect.Response[FamiliesResponse], error) {
	resp := &FamiliesResponse{}
	for _, name := range s.reg.FamilyNames() {
		resp.Families = append(resp.Families, FamilyInfo{
			Name: name,
			Base: s.baseName(name),
		})
	}
	sort.Slice(resp.Families, func(i, j int) bool {
		return resp.Families[i].Name < resp.Families[j].Name
	})
	return connect.NewResponse(resp), nil
}

func (s *StatsService) knownFamily(name string) bool {
	for _, n := range s.reg.FamilyNames() {
		if n == name {
			return true
		}
	}
	return false
}

func (s *StatsService) baseName(family string) string {
	for op := 0; op < 256; op++ {
		kind := vm.Opcode(op)
		if s.reg.FamilyOf(kind) == family && s.reg.BaseOf(kind) == kind {
			return kind.Name()
		}
	}
	return ""
}
