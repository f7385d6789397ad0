/*
Package log provides structured logging for the object-graph store using
zerolog.

A single global Logger is initialized once via Init and component loggers
are derived from it with WithComponent, WithClass and WithTxnID so that log
lines from the transaction manager, the backend adapter and the observable
cache can be filtered and correlated without threading a logger through
every call.
*/
package log
