/*
Package session implements session lifecycle orchestration on top of a ports.SessionStore.

It owns the rules every tick follows: open or create the conversation session,
reject it when its TTL elapsed, claim it through the optimistic last_activity
compare-and-set, and persist a checkpoint after every step. No locks are held;
a losing concurrent tick fails fast with domain.OptimisticLockError.
*/
package session
