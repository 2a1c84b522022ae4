// Package controller turns declarative route tables into gorilla/mux routes.
//
// A Controller pairs an endpoint with a route table whose keys are
// "<method> <path>" strings:
//
//	widgets, err := controller.Extend(controller.Definition{
//		Name:     "widgets",
//		Endpoint: "/widgets",
//		Model:    model.NewMemory("widget"),
//		Routes: controller.Routes{
//			"get /":    controller.Call("getAll"),
//			"put /:id": controller.Chain(controller.Call("putUpdate"), audit),
//		},
//	})
//
// Every handler is wrapped so that it receives a per-request Context, its
// errors and panics reach the error responder, and its return value is sent as
// JSON when the handler did not respond itself.
package controller

import (
	"fmt"

	"github.com/gorilla/mux"

	"github.com/ship-components/ceres-framework-sub000/pkg/model"
)

// Controller is one routable resource.
type Controller struct {
	Name       string
	Endpoint   string
	Routes     Routes
	Middleware MiddlewareSet
	Model      model.Model
	// Methods are the handlers Call can reference.
	Methods map[string]HandlerFunc
	// Properties are copied into every request Context's Values.
	Properties map[string]interface{}

	Emitter
}

// Definition holds the overrides Extend applies on top of the defaults.
type Definition struct {
	Name     string
	Endpoint string
	// Routes replaces the default CRUD table when non-nil.
	Routes     Routes
	Middleware MiddlewareSet
	Model      model.Model
	// Methods are added to, or replace, the default handlers.
	Methods    map[string]HandlerFunc
	Properties map[string]interface{}
	// Init runs once, after the controller is built.
	Init func(c *Controller) error
}

// Extend builds a controller from the base defaults merged with def.
func Extend(def Definition) (*Controller, error) {
	c := &Controller{
		Name:       def.Name,
		Endpoint:   def.Endpoint,
		Middleware: def.Middleware,
		Model:      def.Model,
		Methods:    DefaultMethods(),
		Properties: make(map[string]interface{}, len(def.Properties)),
	}
	if c.Name == "" {
		c.Name = "controller"
	}

	for name, fn := range def.Methods {
		c.Methods[name] = fn
	}
	for k, v := range def.Properties {
		c.Properties[k] = v
	}

	routes := def.Routes
	if routes == nil {
		routes = DefaultRoutes()
	}
	c.Routes = make(Routes, len(routes))
	for key, r := range routes {
		c.Routes[key] = r
	}

	if def.Init != nil {
		if err := def.Init(c); err != nil {
			return nil, fmt.Errorf("controller %s: init: %w", c.Name, err)
		}
	}
	return c, nil
}

// MustExtend is Extend that panics on error.
func MustExtend(def Definition) *Controller {
	c, err := Extend(def)
	if err != nil {
		panic(err)
	}
	return c
}

// Router compiles the route table into a standalone router.
func (c *Controller) Router(env *Env) (*mux.Router, error) {
	router := mux.NewRouter()
	if _, err := Mount(router, c, env); err != nil {
		return nil, err
	}
	return router, nil
}
