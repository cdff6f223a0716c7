package labsvc

const (
	StatusOK                 = 200
	StatusClientError        = 400
	StatusNotFound           = 404
	StatusServerError        = 500
	StatusServiceUnavailable = 503
)
