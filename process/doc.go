// Package process runs external binaries on behalf of the platform.
//
// Run executes a command once, capturing output and killing the whole
// process group on context cancellation with a SIGTERM-to-SIGKILL grace.
// Session keeps a long-running child alive with attached stdio pipes; the
// process loader builds its module protocol on top of it. Adapter maps
// service methods onto one-shot commands so a CLI tool can serve as a
// provider, and Runner adds retry and circuit breaking around repeated
// executions of the same binary.
package process
