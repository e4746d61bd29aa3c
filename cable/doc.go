// Package cable is the default push transport for bidsession, speaking the
// Action Cable wire protocol over a websocket. Each subscription owns its own
// connection and read pump; the root package's listener handles everything
// about which events matter and what they mean.
package cable
