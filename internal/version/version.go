package version

// Current is the release version, overridden at build time with
// -ldflags "-X github.com/shpitdev/docfetch/internal/version.Current=x.y.z".
var Current = "0.3.0"
