// Package metrics provides Prometheus counters for the correlation engine.
// Counters live on their own registry so tests and multiple engines in one
// process do not collide; Handler exposes it for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup outcomes recorded by RegistryLookups.
const (
	LookupHit         = "hit"
	LookupMiss        = "miss"
	LookupUnavailable = "unavailable"
)

// Metrics holds every engine counter.
type Metrics struct {
	registry *prometheus.Registry

	EntitiesIngested       *prometheus.CounterVec
	EntitiesRejected       *prometheus.CounterVec
	CrossReferencesCreated prometheus.Counter
	CrossReferencesGrown   prometheus.Counter
	RegistryLookups        *prometheus.CounterVec
	RegistryFlaggedHits    prometheus.Counter
	TimelineEntries        prometheus.Counter
	CaseLinkSuggestions    prometheus.Counter
	PendingMatchesDropped  prometheus.Counter
	FilesProcessed         *prometheus.CounterVec
}

// New creates the counters and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EntitiesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evidence_entities_ingested_total",
			Help: "Entities accepted by the ingest buffer",
		}, []string{"type"}),
		EntitiesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evidence_entities_rejected_total",
			Help: "Entities dropped before reaching the correlation index",
		}, []string{"reason"}), // reason: validation, invalid_state, not_found
		CrossReferencesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evidence_cross_references_created_total",
			Help: "Correlation keys that reached two distinct files",
		}),
		CrossReferencesGrown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evidence_cross_references_grown_total",
			Help: "Files joining an existing cross-reference",
		}),
		RegistryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evidence_registry_lookups_total",
			Help: "Vehicle registry lookups by outcome",
		}, []string{"outcome"}),
		RegistryFlaggedHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evidence_registry_flagged_hits_total",
			Help: "Registry hits on flagged vehicles",
		}),
		TimelineEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evidence_timeline_entries_total",
			Help: "Timeline entries emitted",
		}),
		CaseLinkSuggestions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evidence_case_link_suggestions_total",
			Help: "Case-link suggestions emitted",
		}),
		PendingMatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evidence_pending_matches_dropped_total",
			Help: "Registry hits whose file closed before any location arrived",
		}),
		FilesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evidence_files_processed_total",
			Help: "Evidence files that finished extraction, by final status",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		m.EntitiesIngested,
		m.EntitiesRejected,
		m.CrossReferencesCreated,
		m.CrossReferencesGrown,
		m.RegistryLookups,
		m.RegistryFlaggedHits,
		m.TimelineEntries,
		m.CaseLinkSuggestions,
		m.PendingMatchesDropped,
		m.FilesProcessed,
	)
	return m
}

// Registry returns the Prometheus registry holding the counters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the counters in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
