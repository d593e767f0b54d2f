// Package version holds build identity. Version is overridden at link time:
//
//	go build -ldflags "-X github.com/keshon/therapy-bot/internal/version.Version=v1.2.0" ./cmd/discord
package version

const (
	AppName        = "therapy-bot"
	AppDescription = "Accountability companion that nudges you to start and finish your work."
)

var Version = "dev"
