package app

import (
	"time"

	labsvc "github.com/xizhibei/go-lab-services"
	"github.com/xizhibei/go-lab-services/adder"
	"github.com/xizhibei/go-lab-services/latency"
	"github.com/xizhibei/go-lab-services/multiplier"
	"github.com/xizhibei/go-lab-services/random"
)

// Service is what one binary serves.
type Service struct {
	Name string
	// Mount registers the routes on r. observe is nil when metrics are off.
	Mount func(r labsvc.Router, observe func(time.Duration))
}

// Adder serves POST /add.
var Adder = Service{
	Name: "adder",
	Mount: func(r labsvc.Router, observe func(time.Duration)) {
		s := adder.New(latency.SystemClock{})
		s.OnDelay = observe
		s.Register(r)
	},
}

// Multiplier serves POST /multiply.
var Multiplier = Service{
	Name: "multiplier",
	Mount: func(r labsvc.Router, _ func(time.Duration)) {
		multiplier.Register(r)
	},
}

// Random serves GET /rand.
var Random = Service{
	Name: "random",
	Mount: func(r labsvc.Router, observe func(time.Duration)) {
		s := random.New(latency.SystemClock{}, random.FreshInt64)
		s.OnDelay = observe
		s.Register(r)
	},
}
