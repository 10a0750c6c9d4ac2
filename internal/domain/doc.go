// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (question.go, answer.go, vote.go, event.go, etc.) hold the shared
// value types and the contracts the fanout core depends on. No implementation code beyond
// small value helpers. Interfaces live here to keep the adapters free of circular imports.
package domain
