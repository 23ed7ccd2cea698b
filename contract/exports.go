package contract

// ExportsSymbol is the package-level symbol a shared-object plugin must
// export for the loader to find its entry points.
const ExportsSymbol = "Exports"

// Exports is the compiled-in manifest of a shared-object plugin:
//
//	var Exports = contract.Exports{
//		ContractVersion: "1.0.0",
//		Entries: map[string]contract.EntryFactory{
//			"CacheEntry": NewCacheEntry,
//		},
//	}
//
// ContractVersion declares the contract version the plugin was built
// against; loaders reject mismatches before any entry is constructed.
// Empty skips the check.
type Exports struct {
	ContractVersion string
	Entries         map[string]EntryFactory
}
