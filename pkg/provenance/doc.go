// Package provenance distributes append-only execution provenance events
// (llm_call, tier_demotion, tool_call) to in-process subscribers and an
// optional JSONL file sink. Delivery is best-effort by contract: publishers
// never block on slow consumers and a full buffer drops the event. The
// ledger, not the provenance log, is the source of truth for run state.
package provenance
