// Package labsvc is the handler framework shared by the lab services.
//
// A transport (see httpjson) turns each incoming request into a Context and
// hands it to Server.Call, which dispatches it to the Handler registered for
// the request's route.
package labsvc

// Router mounts handlers on a transport.
type Router interface {
	// Handle registers hdl for requests with the given method on path.
	Handle(method, path string, hdl *Handler)
}

// Route returns the handler key for method and path, e.g. "POST /add".
func Route(method, path string) string {
	return method + " " + path
}
