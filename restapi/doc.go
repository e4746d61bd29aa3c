// Package restapi is the default HTTP implementation of the bidsession
// AuthAPI collaborator. It owns request plumbing only: URL construction,
// bearer-token injection, request ids, and the mapping of HTTP rejections
// into the typed errors the session core branches on. Session semantics live
// in the root package.
package restapi
