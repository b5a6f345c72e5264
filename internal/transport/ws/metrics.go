package ws

import "expvar"

var metricActiveConnections = expvar.NewInt("active_connections")
