// Package port resolves and claims the single listen port of a launched
// service.
//
// The Scanner asks the operating system directly whether a port is free
// by trying to bind it. Bind claims the port for the lifetime of the
// process. Neither retries or falls back to another port: an occupied
// or invalid port is fatal for the launch.
package port
