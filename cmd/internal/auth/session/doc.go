// Package session implements Easel's session authorization model.
//
// A session is represented by an immutable Claims value carried in a signed
// cookie token. Claims have two expiries: a hard expiry after which the
// session is unconditionally invalid, and a shorter reissue time after which
// the cached canvas permissions are re-derived from the source of truth.
//
// The Gate decides pass/refresh/reject per request, consulting the Ledger of
// users whose permissions changed server-side since their token was issued.
// This keeps permission revocation propagation O(1) per mutation without
// short-lived tokens or per-request database hits.
package session
