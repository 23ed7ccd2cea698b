// Package loader loads plugin modules and instantiates their entry
// points. Two implementations cover the two deployment shapes:
//
// ProcessLoader runs a module as a child process speaking line-delimited
// JSON over stdin/stdout. The child is killable, so releasing the loader
// genuinely reclaims the plugin's code; the cost is that every call
// crosses a process boundary and only marshalable contracts work.
//
// SharedObjectLoader opens Go shared objects in-process. Calls are direct
// and any Go interface works, but the runtime never unloads mapped code:
// release is bookkeeping, and repeated loads accumulate memory.
//
// Both resolve contract names through a contract.Namespace so that a
// shared type has exactly one identity no matter which loader brought its
// user in. NewFactory picks the implementation per plugin from the primary
// module's file extension.
package loader
