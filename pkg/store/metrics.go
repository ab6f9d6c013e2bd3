package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreWrites tracks stored documents by backend
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_store_writes_total",
			Help: "Total number of result documents stored",
		},
		[]string{"backend"}, // "redis", "memory"
	)

	// StoreErrors tracks store errors by operation
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_store_errors_total",
			Help: "Total number of store errors",
		},
		[]string{"operation"}, // "store", "get", "delete", "completed", "malformed"
	)

	// StoreBytes tracks the size of written documents
	StoreBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_store_bytes_total",
			Help: "Total bytes of result documents written",
		},
		[]string{"backend"},
	)
)
