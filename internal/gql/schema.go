// Package gql exposes the tracking service over GraphQL.
package gql

import (
	"context"
	"errors"
	"strconv"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/obs"
	"parceltrack.org/internal/tracking"
)

var errInternal = errors.New("internal error")

// NewSchema builds the schema. Mutations resolve the caller from the request
// context and apply the same rules as the REST routes.
func NewSchema(svc *tracking.Service) (graphql.Schema, error) {
	pkgType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Package",
		Fields: graphql.Fields{
			"trackingNumber":  &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"carrier":         &graphql.Field{Type: graphql.String},
			"status":          &graphql.Field{Type: graphql.String},
			"lastLocationLat": &graphql.Field{Type: graphql.Float},
			"lastLocationLng": &graphql.Field{Type: graphql.Float},
			"lastUpdated":     &graphql.Field{Type: graphql.String},
			"ownerUserId":     &graphql.Field{Type: graphql.ID},
		},
	})

	tnArg := &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)}

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"package": &graphql.Field{
				Type: pkgType,
				Args: graphql.FieldConfigArgument{"trackingNumber": tnArg},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					pkg, err := svc.Get(p.Context, stringArg(p.Args, "trackingNumber"))
					if errors.Is(err, tracking.ErrNotFound) {
						return nil, nil
					}
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return packageMap(pkg), nil
				},
			},
			"packages": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(pkgType))),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					pkgs, err := svc.List(p.Context)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					out := make([]map[string]any, 0, len(pkgs))
					for _, pkg := range pkgs {
						out = append(out, packageMap(pkg))
					}
					return out, nil
				},
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"createPackage": &graphql.Field{
				Type: pkgType,
				Args: graphql.FieldConfigArgument{
					"trackingNumber":  tnArg,
					"carrier":         &graphql.ArgumentConfig{Type: graphql.String},
					"status":          &graphql.ArgumentConfig{Type: graphql.String},
					"lastLocationLat": &graphql.ArgumentConfig{Type: graphql.Float},
					"lastLocationLng": &graphql.ArgumentConfig{Type: graphql.Float},
					"ownerUserId":     &graphql.ArgumentConfig{Type: graphql.ID},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					in := tracking.CreateInput{
						TrackingNumber:  stringArg(p.Args, "trackingNumber"),
						Carrier:         optString(p.Args, "carrier"),
						Status:          optString(p.Args, "status"),
						LastLocationLat: optFloat(p.Args, "lastLocationLat"),
						LastLocationLng: optFloat(p.Args, "lastLocationLng"),
						OwnerUserID:     optString(p.Args, "ownerUserId"),
					}
					pkg, err := svc.Create(p.Context, auth.IdentityFromContext(p.Context), in)
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return packageMap(pkg), nil
				},
			},
			"updateStatus": &graphql.Field{
				Type: pkgType,
				Args: graphql.FieldConfigArgument{
					"trackingNumber":  tnArg,
					"status":          &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"lastLocationLat": &graphql.ArgumentConfig{Type: graphql.Float},
					"lastLocationLng": &graphql.ArgumentConfig{Type: graphql.Float},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					patch := tracking.Patch{
						Status:          optString(p.Args, "status"),
						LastLocationLat: optFloat(p.Args, "lastLocationLat"),
						LastLocationLng: optFloat(p.Args, "lastLocationLng"),
					}
					pkg, err := svc.Update(p.Context, auth.IdentityFromContext(p.Context), stringArg(p.Args, "trackingNumber"), patch)
					if errors.Is(err, tracking.ErrNotFound) {
						return nil, nil
					}
					if err != nil {
						return nil, publicError(p.Context, err)
					}
					return packageMap(pkg), nil
				},
			},
			"deletePackage": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{"trackingNumber": tnArg},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					err := svc.Delete(p.Context, auth.IdentityFromContext(p.Context), stringArg(p.Args, "trackingNumber"))
					switch {
					case err == nil:
						return true, nil
					case errors.Is(err, tracking.ErrNotFound):
						return false, nil
					default:
						return nil, publicError(p.Context, err)
					}
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
}

// packageMap is the resolver view of a package. lastUpdated is Unix ms as a string.
func packageMap(p tracking.Package) map[string]any {
	m := map[string]any{
		"trackingNumber":  p.TrackingNumber,
		"carrier":         p.Carrier,
		"status":          p.Status,
		"lastLocationLat": nil,
		"lastLocationLng": nil,
		"lastUpdated":     strconv.FormatInt(p.LastUpdated.UnixMilli(), 10),
		"ownerUserId":     nil,
	}
	if p.LastLocationLat != nil {
		m["lastLocationLat"] = *p.LastLocationLat
	}
	if p.LastLocationLng != nil {
		m["lastLocationLng"] = *p.LastLocationLng
	}
	if p.OwnerUserID != nil {
		m["ownerUserId"] = *p.OwnerUserID
	}
	return m
}

// publicError hides store failures; rule violations pass through.
func publicError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return errors.New("unauthorized")
	case errors.Is(err, auth.ErrForbidden):
		return errors.New("forbidden")
	case tracking.IsClientError(err):
		return err
	}
	obs.Logger().Error("graphql resolver failed", zap.Error(err))
	return errInternal
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func optString(args map[string]any, key string) *string {
	s, ok := args[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func optFloat(args map[string]any, key string) *float64 {
	switch v := args[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	}
	return nil
}
