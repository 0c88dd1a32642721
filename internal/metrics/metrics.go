package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Moderation metrics
var (
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwarden_moderation_actions_total",
		Help: "Total number of moderation operations by kind and result",
	}, []string{"kind", "result"})

	DivergenceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwarden_state_divergence_total",
		Help: "Live mutations whose durable record could not be written",
	}, []string{"operation"})
)

// Reversal scheduler metrics
var (
	PendingTimers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guildwarden_reversal_pending_timers",
		Help: "Number of scheduled reversals waiting to fire",
	}, []string{"kind"})

	ReversalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwarden_reversals_total",
		Help: "Total number of fired reversals by kind and outcome",
	}, []string{"kind", "outcome"})

	TimersRestoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwarden_reversal_timers_restored_total",
		Help: "Timers rebuilt from the ledger at startup",
	}, []string{"kind"})
)

// Permission gate metrics
var (
	PermissionCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildwarden_permission_cache_hits_total",
		Help: "Total number of moderator-role cache hits",
	})

	PermissionCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildwarden_permission_cache_misses_total",
		Help: "Total number of moderator-role cache misses",
	})

	PermissionDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwarden_permission_denials_total",
		Help: "Total number of denied authorizations by reason",
	}, []string{"reason"})
)

// Persistent role metrics
var (
	PersistentRolesStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildwarden_persistent_roles_stored_total",
		Help: "Roles newly added to persistent sets on departure",
	})

	PersistentRolesRestoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildwarden_persistent_roles_restored_total",
		Help: "Roles reapplied to returning members",
	})
)

// Notification metrics
var (
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwarden_notifications_total",
		Help: "Mod-log notifications by status",
	}, []string{"status"})
)
