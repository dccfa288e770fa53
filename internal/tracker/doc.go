// Package tracker reads backend job counters from the job-tracking service.
//
// Client.JobCounters issues GET <endpoint>/jobs/<job-id>/counters and parses
// the Prometheus text exposition it returns (family stage_counter, labels
// group and counter) into a stats.Registry. A 404 or 410 means the tracker
// has already evicted the job and is reported as stats.ErrEvicted.
//
// There are no retries: a failed fetch is returned to the caller, which
// treats it as absent data. Concurrent fetches of the same job id share one
// request. Nothing is cached between calls.
//
// Credentials (API key, bearer token, basic) are set on each request by a
// wrapping transport; mTLS is configured on the transport itself. The client
// timeout comes from config.TrackerConfig.
package tracker
