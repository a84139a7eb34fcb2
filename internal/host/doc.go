// Package host implements the desktop host daemon.
//
// The host owns the session registry, the completion coordinator and the
// notification dispatcher. Interceptors connect to its Unix socket, register
// their session and stream hooks; CLI clients connect to the same socket to
// list sessions, route commands and run processes inside a session. UI
// windows subscribe to notifications in-process through the bus or over the
// status server's websocket endpoint.
//
// Example:
//
//	app, err := host.NewApp(cfg, logger, host.Options{})
//	if err != nil {
//	    return err
//	}
//	return app.Run(ctx)
package host
