package version

import "fmt"

// Overridden at build time with -ldflags "-X dnsscanner/internal/app/version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

type Info struct {
	BuildVersion string `json:"buildVersion"`
	BuiltAt      string `json:"builtAt"`
}

func Get() Info {
	return Info{
		BuildVersion: buildVersion,
		BuiltAt:      builtAt,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (built %s)", i.BuildVersion, i.BuiltAt)
}
