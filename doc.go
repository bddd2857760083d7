// Package mailtap extracts MailChimp account data incrementally and emits it
// as a stream of JSON-line messages suitable for loading into a warehouse.
//
// A run walks four streams in dependency order: audience lists, campaigns,
// then the members of every list and the per-recipient email activity of
// every campaign. Each stream emits its JSON schema once, then one RECORD
// message per item, with STATE messages interleaved so a consumer can
// checkpoint durable progress.
//
// # Architecture
//
// The extraction engine is organized around a few principles:
//
// 1. Resumable by construction: every stream persists enough progress (resume
// offsets, seen-id sets, per-item done markers) that a killed run picks up
// where it left off instead of starting over.
//
// 2. Isolation of failures: streams run one at a time and a failing stream is
// logged and counted, never fatal. One broken campaign cannot poison its
// siblings or the run.
//
// 3. Incremental with lag: completed runs advance a watermark, and time-based
// filters are widened backwards by a configurable lag so late-arriving sends
// and activity are never missed.
//
// 4. Canonical records from either wire: member and activity streams can pull
// from the paginated API or the legacy bulk-export endpoint; export rows are
// renamed, coerced, and reshaped so both paths produce identical records.
//
// # Quick Start
//
// Create a config file with credentials:
//
//	{
//	    "user_name": "me@example.com",
//	    "api_key": "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx-us14",
//	    "start_date": "2020-01-01T00:00:00+00:00"
//	}
//
// Then run an extraction, persisting state between runs:
//
//	mailtap run -c config.json --state state.json --state-out state.json
//
// # Key Packages
//
//	pkg/tap           - Run orchestration: stream order, time budget, failure containment
//	pkg/tap/stream    - Per-stream extraction runners
//	pkg/tap/state     - Durable resumable state with throttled flushing
//	pkg/tap/paginate  - Collection walking with retry and backoff
//	pkg/tap/normalize - Record normalization, coercion, and export-row reshaping
//	pkg/mailchimp     - Remote API and bulk-export clients
//	pkg/sink          - JSON-line message emission and state persistence
//	pkg/config        - Configuration loading and validation
package mailtap
