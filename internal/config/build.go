package config

// Linker-injected build metadata variables. These are set at compile time via
// -ldflags, for example:
//
//	go build -ldflags "-X carbondelay/internal/config.version=1.2.3 \
//	    -X carbondelay/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X carbondelay/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/carbon-delay
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo constructs a BuildInfo from the linker-injected variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// UserAgent is the User-Agent sent on every outbound request.
func (b BuildInfo) UserAgent() string {
	return "carbon-delay/" + b.Version
}
