package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/version"
)

// RegisterBuildInfo выставляет shop_build_info=1 с метками сборки.
func RegisterBuildInfo(registerer prometheus.Registerer, b version.Build) {
	info := register(registerer, "shop_build_info", prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shop_build_info",
		Help: "Build information of the running shop binary.",
	}, []string{"version", "commit", "go_version"}))
	info.WithLabelValues(b.Version, b.Commit, b.GoVersion).Set(1)
}
