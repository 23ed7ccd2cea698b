// Package manifest reads and discovers plugin manifests.
//
// A manifest is a JSON document named <plugin>.plugin.json describing one
// plugin: its identity and version, the module files to load, the entry
// point type, declared provider capabilities, dependencies, and the drain
// grace used during deactivation and swaps.
//
// Discover walks a directory tree collecting valid manifests; malformed
// ones are skipped, never fatal. Filters narrow the result by minimum
// version, required capability tags, or contract version. Watcher reports
// debounced manifest file changes for hosts that reload plugins at
// runtime.
package manifest
