// Package snapshot persists the client's credential snapshot: the session
// triple plus the serialized user, written as one flat key set (token,
// refreshToken, sessionTokenId, user) in a single underlying key-space. A
// separate slot holds a pending two-factor challenge token so a reload
// mid-challenge never fabricates a signed-in state.
//
// Stores never partially restore: a snapshot missing part of the triple is
// reported corrupt and the caller clears it. FileStore is the default for
// desktop/kiosk clients; RedisStore serves deployments that share one
// key-space; MemoryStore backs tests.
package snapshot
