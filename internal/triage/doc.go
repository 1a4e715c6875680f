// Package triage classifies new support tickets and routes them to a
// moderator. The Orchestrator drives a ticket from CREATED through
// CLASSIFYING and ASSIGNING to ASSIGNED or UNASSIGNED, persisting each step
// as an independent partial update so progress survives later failures.
package triage
