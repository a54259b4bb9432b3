// Package launch is the second phase of a service bootstrap: it turns
// the resolved port and the entrypoint reference into exactly one
// foreground network-serving process.
//
// Two modes exist. In-process mode serves an application registered in
// a Registry on a listener bound once to 0.0.0.0:<port>. Command mode
// checks that the entrypoint module exists, verifies the port is free and
// runs the recipe's server command as the single child process,
// forwarding SIGINT and SIGTERM and propagating its exit status.
//
// An invalid or occupied port is fatal. There is no retry and no
// fallback port.
package launch
