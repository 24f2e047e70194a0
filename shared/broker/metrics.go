package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var consumedMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "powrelay_broker_consumed_messages_total",
		Help: "Messages fetched by consume loops, by outcome",
	},
	[]string{"outcome"},
)

const (
	outcomeCommitted = "committed"
	outcomeSkipped   = "skipped"
	outcomeRejected  = "rejected"
)
