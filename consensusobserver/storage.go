package consensusobserver

import "context"

// Storage is the persistent-storage collaborator (spec §1, §6); its
// implementation is out of scope. GetLatestLedgerInfo is read once at
// startup; LatestSyncedVersion backs the DB-progress health predicate
// (spec §4.3) and also satisfies the DBProgress interface.
type Storage interface {
	GetLatestLedgerInfo(ctx context.Context) (LedgerInfo, error)
	LatestSyncedVersion() (uint64, error)
}
