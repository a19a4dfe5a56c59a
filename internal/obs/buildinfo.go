package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// buildInfo is a constant 1 gauge labelled with version and binary name.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sigep_build_info",
			Help: "sigep build information.",
		},
		[]string{"version", "binary"},
	)
)

// InitBuildInfo registers sigep_build_info once and sets the value for this process.
func InitBuildInfo(version, binary string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, binary).Set(1)
}
