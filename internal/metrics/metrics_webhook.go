package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentsync_webhook_received_total",
			Help: "Total number of webhook deliveries received, by outcome",
		},
		[]string{"outcome"}, // accepted, invalid_signature, unknown_repository
	)

	assetUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentsync_asset_uploads_total",
			Help: "Total number of asset uploads, by outcome",
		},
		[]string{"outcome"}, // uploaded, reused, failed
	)
)

func WebhookReceived(outcome string) {
	webhookReceived.WithLabelValues(outcome).Inc()
}

func AssetUpload(outcome string) {
	assetUploads.WithLabelValues(outcome).Inc()
}
