package controller

import (
	"strings"

	cerrors "github.com/ship-components/ceres-framework-sub000/internal/errors"
	"github.com/ship-components/ceres-framework-sub000/pkg/model"
)

// DefaultRoutes is the CRUD table used when a Definition declares no routes.
func DefaultRoutes() Routes {
	return Routes{
		"get /":       Call("getAll"),
		"get /:id":    Call("getOne"),
		"post /":      Call("postCreate"),
		"put /:id":    Call("putUpdate"),
		"delete /:id": Call("deleteOne"),
	}
}

// DefaultMethods returns a fresh copy of the base CRUD handlers.
func DefaultMethods() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"getAll":     getAll,
		"getOne":     getOne,
		"postCreate": postCreate,
		"putUpdate":  putUpdate,
		"deleteOne":  deleteOne,
	}
}

func requireModel(ctx *Context) (model.Model, error) {
	if ctx.Controller.Model == nil {
		return nil, cerrors.New("controller " + ctx.Controller.Name + " has no model")
	}
	return ctx.Controller.Model, nil
}

func getAll(ctx *Context) (interface{}, error) {
	m, err := requireModel(ctx)
	if err != nil {
		return nil, err
	}
	return m.ReadAll(ctx.Request.Context())
}

// getOne reads one record, or several when the id is a comma separated list.
func getOne(ctx *Context) (interface{}, error) {
	m, err := requireModel(ctx)
	if err != nil {
		return nil, err
	}
	id := ctx.Param("id")
	key := model.ID(id)
	if strings.Contains(id, ",") {
		key = model.IDs(strings.Split(id, ",")...)
	}

	records, err := m.Read(ctx.Request.Context(), key)
	if err != nil {
		return nil, err
	}
	if key.Bulk {
		return records, nil
	}
	if len(records) == 0 {
		return nil, cerrors.NotFound(id)
	}
	return records[0], nil
}

func postCreate(ctx *Context) (interface{}, error) {
	m, err := requireModel(ctx)
	if err != nil {
		return nil, err
	}
	body := model.Record{}
	if err := ctx.Decode(&body); err != nil {
		return nil, err
	}
	record, err := m.Create(ctx.Request.Context(), body)
	if err != nil {
		return nil, err
	}
	ctx.Controller.Emit(EventCreated, record)
	return record, nil
}

func putUpdate(ctx *Context) (interface{}, error) {
	m, err := requireModel(ctx)
	if err != nil {
		return nil, err
	}
	body := model.Record{}
	if err := ctx.Decode(&body); err != nil {
		return nil, err
	}
	record, err := m.Update(ctx.Request.Context(), body, ctx.Param("id"))
	if err != nil {
		return nil, err
	}
	ctx.Controller.Emit(EventUpdated, record)
	return record, nil
}

func deleteOne(ctx *Context) (interface{}, error) {
	m, err := requireModel(ctx)
	if err != nil {
		return nil, err
	}
	id := ctx.Param("id")
	if err := m.Del(ctx.Request.Context(), id); err != nil {
		return nil, err
	}
	ctx.Controller.Emit(EventDeleted, id)
	ctx.NoContent()
	return nil, nil
}
