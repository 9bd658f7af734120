package version

// AppName is the product name shown in banners and API responses.
const AppName = "Airlock"

// AppVersion is the release of this server, set at build time with
// -ldflags "-X github.com/airlock-project/airlock/internal/version.AppVersion=...".
var AppVersion = "0.1.0-dev"
