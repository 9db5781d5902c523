// Package triage fetches triage verdicts for incidents and folds them into the
// row state store. It provides the Decision Resolver (Resolve), the
// single-row Client with its cache/toggle semantics, and the sequential batch
// Runner used for "run all" requests.
package triage
