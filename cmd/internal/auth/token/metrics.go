package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pairsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_token_pairs_issued_total",
		Help: "Access/refresh pairs signed.",
	})

	revocationEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_token_revocation_entries_total",
		Help: "Revocation entries written, by reason.",
	}, []string{"reason"})

	failOpenAllowed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_token_fail_open_allowed_total",
		Help: "Validations allowed without a revocation check during store outages.",
	})
)
