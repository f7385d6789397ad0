/*
Package observable implements the cold-source / cached-upstream pattern
live subscribers attach to: Stream is a generic per-key broker, and Cache
holds one Stream per (class, id) and one per class, created lazily on the
first Cache.Object/Cache.Class lookup and removed by EvictObject/EvictClass.

The fan-out itself — per-subscriber buffered channel, non-blocking publish
that drops on a full buffer rather than blocking the publisher — is a
channel-based event broker with one broker instance per cached key.
*/
package observable
