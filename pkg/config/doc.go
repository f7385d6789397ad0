/*
Package config loads the recognized store options: the backend path root,
transaction retry budget, topology lock timeout, and the namespace
identifier used to scope per-node state keys.

Config is plain data with two read-only helpers (Validate and Retries); it
is safe to construct by hand in tests instead of going through Load.
*/
package config
