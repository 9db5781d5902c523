// Package incident defines the domain model shared by remedy's workflow packages:
// the flagged transaction (Incident), the triage Verdict and the remediation
// Outcome, plus the read-only Registry the workflows look incidents up in.
package incident
