// Package capability defines the immutable metadata attached to every
// registered provider: identity, target platform, priority, tags and
// free-form metadata.
//
// Capabilities values never change after construction; the With* methods
// return modified copies, so a value handed to the registry cannot be
// mutated behind its back.
//
// # Usage
//
//	caps := capability.MustNew("cache-redis").
//		WithPriority(capability.PriorityHigh).
//		WithTags("persistent", "shared").
//		WithMeta("ShardKey", "session")
package capability
