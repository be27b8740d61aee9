// Package preflight asserts the environment the shell expects before the
// service is started: an existing, writable data directory, the detection
// model file, and a single running instance. It never creates anything
// except the instance lock file.
package preflight
