package store

// Every key lives under the blockr_ namespace. Guest keys share a prefix so
// a migration can wipe them in one pass.
const (
	Prefix = "blockr_"

	KeyOfflineBlocks      = Prefix + "offline_blocks"
	KeyOfflineStats       = Prefix + "offline_stats"
	KeyOfflinePreferences = Prefix + "offline_preferences"
	KeyPendingOps         = Prefix + "pending_operations"

	GuestPrefix         = Prefix + "guest_"
	KeyGuestID          = GuestPrefix + "id"
	KeyGuestBlocks      = GuestPrefix + "blocks"
	KeyGuestStats       = GuestPrefix + "stats"
	KeyGuestPreferences = GuestPrefix + "preferences"
	KeyGuestTimerState  = GuestPrefix + "timer_state"

	KeyDeletedBlocks   = Prefix + "deleted_blocks"
	KeyMigrationMarker = Prefix + "migration_completed"

	lastRolloverPrefix = Prefix + "last_rollover_"
)

// GuestKeys lists the guest collections in a fixed order.
var GuestKeys = []string{
	KeyGuestID,
	KeyGuestBlocks,
	KeyGuestStats,
	KeyGuestPreferences,
	KeyGuestTimerState,
}

// KeyLastRollover is the per-owner key holding the last auto-rollover date.
func KeyLastRollover(ownerID string) string {
	return lastRolloverPrefix + ownerID
}
