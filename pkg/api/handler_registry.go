package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/artificer-dev/artificer/pkg/models"
)

// registryToolsHandler handles GET /registry/tools?include_unavailable.
// Lists the merged curated + authored namespace as the agent sees it.
func (s *Server) registryToolsHandler(c *echo.Context) error {
	includeUnavailable, err := parseBoolParam(c, "include_unavailable", false)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	entries := s.registry.List()
	tools := make([]*models.Tool, 0, len(entries))
	for _, entry := range entries {
		tools = append(tools, entry.Tool)
	}

	resp := &RegistryToolsResponse{Tools: tools, Count: len(tools)}
	if includeUnavailable {
		resp.Unavailable = s.registry.Unavailable()
	}
	return c.JSON(http.StatusOK, resp)
}

// registryAvailabilityHandler handles GET /registry/availability.
func (s *Server) registryAvailabilityHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.registry.Availability())
}

// registryContextHandler handles GET /registry/context?category. Returns the
// LLM-ready namespace description.
func (s *Server) registryContextHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &RegistryContextResponse{
		Context: s.registry.ContextText(c.QueryParam("category")),
	})
}

// registryReloadHandler handles POST /registry/reload: rebuild the namespace
// snapshot from the manifest directory, the store, and MCP servers.
func (s *Server) registryReloadHandler(c *echo.Context) error {
	if err := s.registry.Reload(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, &ReloadResponse{
		Success:      true,
		Availability: s.registry.Availability(),
	})
}
