// Package websocket pushes session notifications to browser clients.
//
// A Hub implements session.Notifier. Every notification the session manager
// raises is encoded as
//
//	{"type":"notification","data":{"severity":"success","message":"..."},"timestamp":"...","trace_id":"..."}
//
// and queued to each connected client. Clients are listen-only; inbound
// frames are read only to process pings and detect disconnects.
package websocket
