// Package config loads and watches the flowcounters configuration file.
//
// Top-level types:
//   - Config{Tracker, Report, Runs}: full tree parsed from YAML
//   - TrackerConfig: job-tracking service endpoint, timeout, auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none); secrets are resolved
//     from environment variables by Key(), Token() and Password()
//   - ReportConfig: cron schedule, output format (text|yaml), log level
//   - RunConfig: one pipeline run: name, sources, sinks, stages
//   - StageConfig: id, name, mode (backend|local), job_id for backend
//     stages, a static counter table for local stages, tag bindings
//
// Load(path) reads the YAML file, applies defaults (10s tracker timeout, text
// format, info logging, backend stages) and validates the result, reporting
// every violation at once.
//
// RunConfig.Build turns a run into the stats.Run the aggregator reads.
//
// Watch(ctx, path, onChange) reloads the file on change via fsnotify.
package config
