package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"gopkg.in/yaml.v3"

	"foundry/internal/config"
	"foundry/internal/domain"
	"foundry/internal/engine"
)

type FoundryParam struct {
	FoundryID string `path:"foundry_id"`
}

func registerFoundries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-foundry",
		Method:        http.MethodPost,
		Path:          "/foundries",
		Summary:       "Create a foundry; the caller becomes its Founder",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateFoundryRequest
	}) (*out[domain.Foundry], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.InitFoundry(ctx, engine.FoundryInitOptions{
			ID:      strings.TrimSpace(input.Body.ID),
			Name:    input.Body.Name,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(f), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-foundries",
		Method:      http.MethodGet,
		Path:        "/foundries",
		Summary:     "List foundries",
	}, func(ctx context.Context, _ *struct{}) (*out[FoundryList], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListFoundries(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(FoundryList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-foundry",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}",
		Summary:     "Get a foundry",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *FoundryParam) (*out[domain.Foundry], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "foundry.read"); err != nil {
			return nil, err
		}
		f, err := e.Repo.GetFoundry(ctx, input.FoundryID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(f), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-foundry-config",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/config",
		Summary:     "Get the foundry policy as YAML",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *FoundryParam) (*out[ConfigDocument], error) {
		if _, err := requirePermission(ctx, e, input.FoundryID, "foundry.read"); err != nil {
			return nil, err
		}
		cfg, err := e.ConfigFor(ctx, input.FoundryID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		raw, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(ConfigDocument{YAML: string(raw)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-foundry-config",
		Method:      http.MethodPut,
		Path:        "/foundries/{foundry_id}/config",
		Summary:     "Replace the foundry policy",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FoundryParam
		Body ConfigDocument
	}) (*out[ConfigDocument], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_config", err.Error(), nil)
		}
		cfg.Foundry.ID = input.FoundryID
		if err := e.ImportConfig(ctx, input.FoundryID, cfg, actorID); err != nil {
			return nil, handleError(ctx, err)
		}
		raw, _ := yaml.Marshal(cfg)
		return reply(ConfigDocument{YAML: string(raw)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-permissions",
		Method:      http.MethodGet,
		Path:        "/foundries/{foundry_id}/me/permissions",
		Summary:     "Permissions granted to the caller in this foundry",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *FoundryParam) (*out[PermissionsResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Repo.GetMember(ctx, e.DB, input.FoundryID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		perms, err := e.Repo.RolePermissions(ctx, input.FoundryID, string(m.Role))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(PermissionsResponse{ProfileID: actorID, Role: m.Role, Permissions: nonNilSlice(perms)}), nil
	})
}
