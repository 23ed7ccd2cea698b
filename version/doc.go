// Package version reports the platform's build identity.
//
// Version, commit, and build time come from -ldflags when set:
//
//	go build -ldflags "-X github.com/kbukum/plugkit/version.Version=1.0.0"
//
// and otherwise from the VCS metadata the Go toolchain stamps into module
// builds.
package version
