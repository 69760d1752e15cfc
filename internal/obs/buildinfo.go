package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// build_info is always 1; the labels carry the data.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rusunawa_build_info",
			Help: "Rusunawa API build information.",
		},
		[]string{"version", "commit", "goversion"},
	)
)

// InitBuildInfo registers rusunawa_build_info once and records the running build.
// Earlier label sets are cleared so only the current build is reported.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
