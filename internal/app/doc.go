// Package app wires the card session client together and runs the local
// control server.
//
// # Initialization Flow
//
//	1. Load configuration (defaults, YAML file, CARDAUTH_* environment)
//	2. Resolve paths and create the storage and log directories
//	3. Initialize logging and OpenTelemetry
//	4. Open the session store and build the card API client
//	5. Build the websocket hub and the session manager, then restore any
//	   stored session
//	6. Set up the chi router and the HTTP server
//
// A card API client is only created when the app key and secret are
// usable. Without one the application still starts and every network
// operation reports that the client is not configured.
//
// # Usage
//
//	a, err := app.New(ctx, app.Options{ConfigPath: path})
//	if err != nil {
//	    return err
//	}
//	defer a.Close(ctx)
//	return a.Run(ctx)
//
// Run returns after ctx is cancelled and the server has drained. The
// package never calls os.Exit.
package app
