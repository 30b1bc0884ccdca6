// Package api provides the HTTP REST API and the WebSocket command channel
// for the gateway.
//
// The Hub is the subscriber fan-out: it implements device.Publisher, so every
// accepted write reaches every connected client as
//
//	{"event":"update","dev":"BedroomDimmer","attr":"brightness","val":40}
//
// Clients send {"cmd":"set"|"get"|"list", ...} and receive one reply per
// command. Errors never close the connection.
//
// REST endpoints live under /api/v1 and use the {status, code, message}
// error envelope. When security.jwt.secret is set, the WebSocket upgrade and
// the device routes require an HS256 token carrying a subject, read from the
// access_token cookie, the token query parameter or a bearer header.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
