package jobstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreWrites tracks saved job records
	StoreWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "export_jobstore_writes_total",
			Help: "Total number of job progress records written",
		},
	)

	// StoreErrors tracks job store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_jobstore_errors_total",
			Help: "Total number of job store operation errors",
		},
		[]string{"operation"}, // "get", "save", "list", "delete"
	)
)
