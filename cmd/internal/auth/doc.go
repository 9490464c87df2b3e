// Package auth resolves the user behind a websocket upgrade.
//
// Without a signing secret the relay trusts the user_id query parameter, which is
// how the surrounding platform has always connected. With a secret configured, the
// upgrade must carry an HS256 JWT whose subject is the user id, either in the
// token query parameter or as an Authorization: Bearer header.
package auth
