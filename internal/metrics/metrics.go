// Package metrics exports Prometheus collectors for the CodeHive relay:
// connection counts, room counts, per-type message volume and webhook
// delivery outcomes.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus collectors for the relay.
type Metrics struct {
	ConnectionsGauge  prometheus.Gauge
	ActiveRoomsGauge  prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	InvalidFrames     prometheus.Counter
	WebhooksTotal     *prometheus.CounterVec
	MembersEvicted    prometheus.Counter
	RoomsPrunedTotal  *prometheus.CounterVec
	PersistWriteTotal *prometheus.CounterVec
}

// Get returns the singleton metrics instance, registering collectors on
// first use.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			ConnectionsGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "codehive_connections",
				Help: "Currently connected agents",
			}),
			ActiveRoomsGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "codehive_rooms",
				Help: "Rooms currently registered",
			}),
			MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "codehive_messages_total",
				Help: "Inbound frames by message type",
			}, []string{"type"}),
			InvalidFrames: promauto.NewCounter(prometheus.CounterOpts{
				Name: "codehive_invalid_frames_total",
				Help: "Frames rejected by the codec",
			}),
			WebhooksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "codehive_webhooks_total",
				Help: "Webhook deliveries by outcome",
			}, []string{"outcome"}),
			MembersEvicted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "codehive_members_evicted_total",
				Help: "Members reaped by the heartbeat sweep",
			}),
			RoomsPrunedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "codehive_rooms_pruned_total",
				Help: "Rooms pruned by reason",
			}, []string{"reason"}),
			PersistWriteTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "codehive_persist_writes_total",
				Help: "Persistence snapshot writes by outcome",
			}, []string{"outcome"}),
		}
	})
	return instance
}
