package main

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ship-components/ceres-framework-sub000/pkg/app"
	"github.com/ship-components/ceres-framework-sub000/pkg/controller"
	"github.com/ship-components/ceres-framework-sub000/pkg/middleware"
	"github.com/ship-components/ceres-framework-sub000/pkg/model"
)

const tokenTTL = 24 * time.Hour

// widgetControllers builds the example resources. Widgets are stored in SQL
// when a database is connected and in memory otherwise, behind the cache.
func widgetControllers(a *app.App) ([]*controller.Controller, error) {
	var store model.Model = model.NewMemory("widget")
	if db := a.DB(); db != nil {
		sqlStore, err := model.NewSQL(db, "widgets")
		if err != nil {
			return nil, err
		}
		store = sqlStore
	}

	widgets, err := controller.Extend(controller.Definition{
		Name:       "widgets",
		Endpoint:   "/widgets",
		Model:      a.Cached(store, "widgets"),
		Middleware: controller.UseNamed(middleware.RateLimit),
		Routes: controller.Routes{
			"get /":       controller.Call("getAll"),
			"get /count":  controller.Call("count"),
			"get /:id":    controller.Call("getOne"),
			"post /":      controller.Call("postCreate"),
			"put /:id":    controller.Call("putUpdate"),
			"delete /:id": controller.Call("deleteOne"),
		},
		Methods: map[string]controller.HandlerFunc{
			"count": func(ctx *controller.Context) (interface{}, error) {
				all, err := ctx.Controller.Model.ReadAll(ctx.Request.Context())
				if err != nil {
					return nil, err
				}
				return map[string]int{"count": len(all)}, nil
			},
		},
		Init: func(c *controller.Controller) error {
			log := a.Logger().WithComponent("widgets")
			c.On(controller.EventCreated, func(payload interface{}) {
				log.WithField("widget", payload).Info("widget created")
			})
			c.On(controller.EventDeleted, func(payload interface{}) {
				log.WithField("id", payload).Info("widget deleted")
			})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	sessions, err := controller.Extend(controller.Definition{
		Name:     "sessions",
		Endpoint: "/sessions",
		Routes: controller.Routes{
			"post /": controller.Handle(createSession),
		},
	})
	if err != nil {
		return nil, err
	}

	account, err := controller.Extend(controller.Definition{
		Name:       "account",
		Endpoint:   "/account",
		Middleware: controller.UseNamed(middleware.JWT),
		Routes: controller.Routes{
			"get /": controller.Handle(func(ctx *controller.Context) (interface{}, error) {
				claims, ok := middleware.GetClaims(ctx.Request.Context())
				if !ok {
					ctx.Forbidden("missing token claims")
					return nil, nil
				}
				return map[string]string{"user": claims.UserID, "role": claims.Role}, nil
			}),
		},
	})
	if err != nil {
		return nil, err
	}

	return []*controller.Controller{widgets, sessions, account}, nil
}

type sessionRequest struct {
	User string `json:"user"`
	Role string `json:"role"`
}

func createSession(ctx *controller.Context) (interface{}, error) {
	var req sessionRequest
	if err := ctx.Decode(&req); err != nil {
		return nil, err
	}
	if req.User == "" {
		ctx.BadRequest("user is required")
		return nil, nil
	}
	now := time.Now()
	token, err := middleware.SignToken([]byte(ctx.Config.Secret), middleware.Claims{
		UserID: req.User,
		Role:   req.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	if err != nil {
		return nil, err
	}
	ctx.SendStatus(http.StatusCreated, map[string]string{"token": token})
	return nil, nil
}
