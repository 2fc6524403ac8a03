package api

import (
	"net/http"
	"strconv"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the session routes.
func buildOpenAPIDoc(withMetrics bool) map[string]any {
	sessionParam := []any{map[string]any{
		"name":     "sessionID",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string"},
	}}

	paths := map[string]any{
		"/sessions/{sessionID}/execute": map[string]any{
			"post": operation("execute", "Run code in the session workspace", sessionParam, map[string]any{
				"type":     "object",
				"required": []string{"code"},
				"properties": map[string]any{
					"code":            map[string]any{"type": "string"},
					"user_id":         map[string]any{"type": "string"},
					"timeout_seconds": map[string]any{"type": "integer", "minimum": 0},
				},
			}, http.StatusOK, http.StatusBadRequest, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout),
		},
		"/sessions/{sessionID}/prepare": map[string]any{
			"post": operation("prepare", "Materialize attachments into the session workspace", sessionParam, map[string]any{
				"type": "object",
				"properties": map[string]any{
					"files": map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
				},
			}, http.StatusOK, http.StatusBadRequest, http.StatusNotFound),
		},
		"/sessions/{sessionID}/prompt": map[string]any{
			"post": operation("prompt", "Build the code interpreter prompt for the session", sessionParam, map[string]any{
				"type":       "object",
				"properties": map[string]any{"base": map[string]any{"type": "string"}},
			}, http.StatusOK, http.StatusNotFound),
		},
		"/sessions/{sessionID}/files": map[string]any{
			"get": operation("listFiles", "List files in the session workspace", sessionParam, nil, http.StatusOK, http.StatusBadRequest),
		},
		"/sessions/{sessionID}/workspace": map[string]any{
			"delete": operation("removeWorkspace", "Remove the session workspace", sessionParam, nil, http.StatusNoContent, http.StatusBadRequest),
		},
		"/events": map[string]any{
			"get": operation("events", "Server-sent execution events", nil, nil, http.StatusOK),
		},
	}
	if withMetrics {
		paths["/metrics"] = map[string]any{
			"get": operation("metrics", "Prometheus metrics", nil, nil, http.StatusOK),
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "mntdata",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func operation(id, summary string, params []any, body map[string]any, statuses ...int) map[string]any {
	responses := map[string]any{}
	for _, code := range statuses {
		responses[strconv.Itoa(code)] = map[string]any{"description": http.StatusText(code)}
	}
	op := map[string]any{
		"operationId": id,
		"summary":     summary,
		"responses":   responses,
		"security":    []any{map[string]any{"BearerAuth": []string{}}},
	}
	if params != nil {
		op["parameters"] = params
	}
	if body != nil {
		op["requestBody"] = map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{"schema": body},
			},
		}
	}
	return op
}
