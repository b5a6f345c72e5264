package handlers

import "expvar"

var (
	metricGamesCreatedTotal = expvar.NewInt("games_created_total")
	metricGamesJoinedTotal  = expvar.NewInt("games_joined_total")
	metricMovesMadeTotal    = expvar.NewInt("moves_made_total")
	metricForfeitsTotal     = expvar.NewInt("forfeits_total")
	metricReconnectsTotal   = expvar.NewInt("reconnects_total")
)
