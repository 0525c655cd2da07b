package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/registry"
	"github.com/artificer-dev/artificer/pkg/store"
)

// createToolHandler handles POST /tools.
func (s *Server) createToolHandler(c *echo.Context) error {
	var tool models.Tool
	if err := c.Bind(&tool); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	created, err := s.tools.CreateTool(c.Request().Context(), &tool)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// listToolsHandler handles GET /tools?active_only&exclude_bugged&category.
func (s *Server) listToolsHandler(c *echo.Context) error {
	activeOnly, err := parseBoolParam(c, "active_only", false)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	excludeBugged, err := parseBoolParam(c, "exclude_bugged", false)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	tools, err := s.tools.ListTools(c.Request().Context(), store.ToolFilter{
		ActiveOnly:    activeOnly,
		ExcludeBugged: excludeBugged,
		Category:      c.QueryParam("category"),
	})
	if err != nil {
		return mapServiceError(err)
	}
	if tools == nil {
		tools = []*models.Tool{}
	}
	return c.JSON(http.StatusOK, &ToolListResponse{Tools: tools, Count: len(tools)})
}

// getToolHandler handles GET /tools/:id where :id is a UUID or a tool name.
func (s *Server) getToolHandler(c *echo.Context) error {
	tool, err := s.tools.GetTool(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tool)
}

// updateToolHandler handles PUT /tools/:id. The path ID wins over any ID in
// the body.
func (s *Server) updateToolHandler(c *echo.Context) error {
	var tool models.Tool
	if err := c.Bind(&tool); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tool.ID = c.Param("id")

	updated, err := s.tools.UpdateTool(c.Request().Context(), &tool)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// deleteToolHandler handles DELETE /tools/:id.
func (s *Server) deleteToolHandler(c *echo.Context) error {
	if err := s.tools.DeleteTool(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// executeToolHandler handles POST /tools/:id/execute. The response is always
// the execution envelope; tool-level failures arrive as success=false with
// HTTP 200, only lookup and validation problems map to error statuses.
func (s *Server) executeToolHandler(c *echo.Context) error {
	var req ExecuteToolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	record, err := s.tools.Execute(c.Request().Context(), c.Param("id"), req.Params, registry.ExecuteOptions{
		UseSandbox: req.UseSandbox,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, record)
}

// clearBugsHandler handles POST /tools/:id/clear-bugs.
func (s *Server) clearBugsHandler(c *echo.Context) error {
	tool, err := s.tools.ClearBugs(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tool)
}

// deactivateToolHandler handles POST /tools/:id/deactivate.
func (s *Server) deactivateToolHandler(c *echo.Context) error {
	tool, err := s.tools.DeactivateTool(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tool)
}

// searchToolsHandler handles GET /tools/search/:query?limit&threshold&exclude_bugged.
func (s *Server) searchToolsHandler(c *echo.Context) error {
	query := c.Param("query")
	limit, err := parseIntParam(c, "limit", 5)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	threshold, err := parseFloatParam(c, "threshold", 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	excludeBugged, err := parseBoolParam(c, "exclude_bugged", true)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	scored, err := s.tools.SearchTools(c.Request().Context(), query, limit, threshold, excludeBugged)
	if err != nil {
		return mapServiceError(err)
	}

	results := make([]ScoredToolResponse, len(scored))
	for i, st := range scored {
		results[i] = ScoredToolResponse{Tool: st.Tool, Score: st.Score}
	}
	return c.JSON(http.StatusOK, &SearchToolsResponse{
		Query:   query,
		Results: results,
		Count:   len(results),
	})
}

// listBuggedToolsHandler handles GET /tools/bugged/list.
func (s *Server) listBuggedToolsHandler(c *echo.Context) error {
	tools, err := s.tools.ListBugged(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	if tools == nil {
		tools = []*models.Tool{}
	}
	return c.JSON(http.StatusOK, &ToolListResponse{Tools: tools, Count: len(tools)})
}
