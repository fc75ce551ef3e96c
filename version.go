package tendril

// Version is the release of this module. Builds may override it with
// -ldflags "-X github.com/aretw0/tendril.Version=...".
var Version = "0.4.0"
