package version

// Version is the release version, overridden at build time with
// -ldflags "-X github.com/alvmarrod/repack-ledger/internal/version.Version=..."
var Version = "0.4.0"
