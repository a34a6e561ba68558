// Package catalogue provides the gorm-backed implementation of llm.Catalogue,
// plus a short-TTL Redis read-through cache in front of it. The router, pool
// and adapter factory never import this package directly — they only see
// the llm.Catalogue interface; cmd/gateway is the only place that wires a
// concrete *GormCatalogue (optionally wrapped by *CachedCatalogue) in.
package catalogue
