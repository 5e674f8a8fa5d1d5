// SPDX-License-Identifier: Apache-2.0

// Package info joins the resolver's catalog against the ledger into a
// unified status view, and detects drift between the two (spec §4.6).
package info

import (
	"context"
	"sort"

	"github.com/schemaladder/schemaladder/pkg/executor"
	"github.com/schemaladder/schemaladder/pkg/migration"
	"github.com/schemaladder/schemaladder/pkg/version"
)

// Service produces the joined view over one catalog/ledger pair.
type Service struct {
	catalog []migration.ResolvedMigration
	applied []migration.AppliedMigration
}

// New builds a Service. catalog and applied are each the full set
// produced by the resolver and the ledger respectively for one
// invocation; the Service takes ownership of neither slice.
func New(catalog []migration.ResolvedMigration, applied []migration.AppliedMigration) *Service {
	return &Service{catalog: catalog, applied: applied}
}

// Load is a convenience constructor that reads the ledger through
// ledger and pairs it with catalog.
func Load(ctx context.Context, catalog []migration.ResolvedMigration, ledger executor.Ledger) (*Service, error) {
	applied, err := ledger.AllApplied(ctx)
	if err != nil {
		return nil, err
	}
	return New(catalog, applied), nil
}

// All returns one migration.Info per version appearing in catalog ∪
// ledger, sorted ascending by version, then by installed_rank for
// synthetic entries that share a version with a real migration.
func (s *Service) All() []migration.Info {
	head := executor.Head(s.applied)
	maxCatalog := executor.MaxCatalogVersion(s.catalog)

	byVersion := map[string]*migration.ResolvedMigration{}
	for i := range s.catalog {
		byVersion[s.catalog[i].Version.String()] = &s.catalog[i]
	}

	type row struct {
		version version.Version
		rank    int
		info    migration.Info
	}
	var rows []row

	seen := map[string]bool{}
	for _, am := range s.applied {
		resolved, inCatalog := byVersion[am.Version.String()]
		seen[am.Version.String()] = true

		info := migration.Info{
			Version:     am.Version,
			Description: am.Description,
			Type:        am.Type,
			State:       deriveAppliedState(am, inCatalog, am.Version.Compare(maxCatalog) > 0),
		}
		if script, err := am.Script.Get(); err == nil {
			info.Script = script
		}
		if !am.InstalledOn.IsZero() {
			t := am.InstalledOn
			info.InstalledOn = &t
		}
		info.ExecutionTime = am.ExecutionTime
		if resolved != nil {
			info.Description = resolved.Description
			info.Script = resolved.Script
		}

		rows = append(rows, row{version: am.Version, rank: am.InstalledRank, info: info})
	}

	for _, m := range s.catalog {
		if seen[m.Version.String()] {
			continue
		}
		state := migration.StatePending
		if m.Version.Compare(head) < 0 {
			state = migration.StateOutOfOrder
		}
		rows = append(rows, row{
			version: m.Version,
			rank:    -1,
			info: migration.Info{
				Version:     m.Version,
				Description: m.Description,
				Type:        m.Type,
				Script:      m.Script,
				State:       state,
			},
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].version.Equal(rows[j].version) {
			return rows[i].version.Less(rows[j].version)
		}
		return rows[i].rank < rows[j].rank
	})

	result := make([]migration.Info, len(rows))
	for i, r := range rows {
		result[i] = r.info
	}
	return result
}

func deriveAppliedState(am migration.AppliedMigration, inCatalog bool, isFuture bool) migration.State {
	switch {
	case inCatalog && am.Success:
		return migration.StateSuccess
	case inCatalog && !am.Success:
		return migration.StateFailed
	case !inCatalog && isFuture:
		return migration.StateFuture
	case !inCatalog && !isFuture:
		return migration.StateMissing
	default:
		return migration.StateMissing
	}
}

// Current returns the MigrationInfo corresponding to the ledger's
// current=true row, and false if no row is current.
func (s *Service) Current() (migration.Info, bool) {
	for _, am := range s.applied {
		if am.Current {
			for _, info := range s.All() {
				if info.Version.Equal(am.Version) {
					return info, true
				}
			}
		}
	}
	return migration.Info{}, false
}

// Applied returns every info entry present in the ledger, ordered by
// installed_rank.
func (s *Service) Applied() []migration.Info {
	type row struct {
		rank int
		info migration.Info
	}
	rows := make([]row, 0, len(s.applied))
	all := s.All()
	infoByVersion := map[string]migration.Info{}
	for _, info := range all {
		infoByVersion[info.Version.String()] = info
	}
	for _, am := range s.applied {
		rows = append(rows, row{rank: am.InstalledRank, info: infoByVersion[am.Version.String()]})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].rank < rows[j].rank })

	result := make([]migration.Info, len(rows))
	for i, r := range rows {
		result[i] = r.info
	}
	return result
}

// Pending returns catalog entries not yet in the ledger, honoring
// outOfOrder: when false, catalog entries below HEAD are reported as
// OUT_OF_ORDER by All but excluded here since they won't be applied.
func (s *Service) Pending(outOfOrder bool) []migration.Info {
	var result []migration.Info
	for _, info := range s.All() {
		switch info.State {
		case migration.StatePending:
			result = append(result, info)
		case migration.StateOutOfOrder:
			if outOfOrder {
				result = append(result, info)
			}
		}
	}
	return result
}

// Validate returns a non-empty diagnostic when any successfully applied
// ledger entry has no catalog entry or a catalog entry whose checksum,
// description or type disagrees, or when a catalog entry at or below
// HEAD has no successful ledger row (MISSING in the other direction).
// Mismatch precedence: checksum > type > description.
func (s *Service) Validate() error {
	head := executor.Head(s.applied)

	byVersion := map[string]migration.ResolvedMigration{}
	for _, m := range s.catalog {
		byVersion[m.Version.String()] = m
	}

	for _, am := range s.applied {
		if am.Type == migration.TypeSchema || am.Type == migration.TypeInit {
			continue
		}
		if !am.Success {
			continue
		}
		resolved, ok := byVersion[am.Version.String()]
		if !ok {
			return &migration.ValidationFailedError{
				Reason: "applied migration " + am.Version.String() + " is missing from the resolved catalog",
			}
		}

		ledgerChecksum, ledgerErr := am.Checksum.Get()
		catalogChecksum, catalogErr := resolved.Checksum.Get()
		ledgerHasChecksum := ledgerErr == nil
		catalogHasChecksum := catalogErr == nil
		if ledgerHasChecksum != catalogHasChecksum || (ledgerHasChecksum && ledgerChecksum != catalogChecksum) {
			return &migration.ValidationFailedError{
				Reason: "checksum mismatch for migration " + am.Version.String(),
			}
		}
		if resolved.Type != am.Type {
			return &migration.ValidationFailedError{
				Reason: "type mismatch for migration " + am.Version.String(),
			}
		}
		if resolved.Description != am.Description {
			return &migration.ValidationFailedError{
				Reason: "description mismatch for migration " + am.Version.String(),
			}
		}
	}

	for _, m := range s.catalog {
		if m.Version.Compare(head) > 0 {
			continue
		}
		found := false
		for _, am := range s.applied {
			if am.Version.Equal(m.Version) && am.Success {
				found = true
				break
			}
		}
		if !found {
			return &migration.ValidationFailedError{
				Reason: "migration " + m.Version.String() + " is missing from the schema history",
			}
		}
	}

	return nil
}
