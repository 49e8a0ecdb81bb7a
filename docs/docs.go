// Package docs registers the OpenAPI description served at /swagger when
// SWAGGER_ENABLED is set. Keep it in step with the @Router annotations in
// internal/http/handlers.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "schemes": {{ marshal .Schemes }},
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/me": {"put": {"tags": ["users"], "summary": "Register the caller's digest address", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
        "/projects": {"post": {"tags": ["projects"], "summary": "Create a project", "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}}},
        "/projects/{id}/stats": {"get": {"tags": ["projects"], "summary": "Per-status feature counts", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/projects/{id}/subscription": {
            "put": {"tags": ["projects"], "summary": "Subscribe to a project", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found"}}},
            "delete": {"tags": ["projects"], "summary": "Unsubscribe from a project", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "No Content"}}}
        },
        "/projects/{id}/features": {"post": {"tags": ["features"], "summary": "Propose a feature", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"201": {"description": "Created"}, "404": {"description": "Not Found"}}}},
        "/features/{id}": {"delete": {"tags": ["features"], "summary": "Delete a feature", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/features/{id}/comments": {"post": {"tags": ["features"], "summary": "Comment on a feature", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "Idempotency-Key", "in": "header", "type": "string"}], "responses": {"200": {"description": "Replayed"}, "201": {"description": "Created"}, "429": {"description": "Too Many Requests"}}}},
        "/features/{id}/status": {"put": {"tags": ["features"], "summary": "Change a feature's status", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
        "/features/{id}/votes": {"post": {"tags": ["features"], "summary": "Vote for a feature", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"201": {"description": "Created"}, "409": {"description": "Already voted"}}}},
        "/notifications": {"get": {"tags": ["notifications"], "summary": "List notifications", "parameters": [{"name": "unread", "in": "query", "type": "boolean"}, {"name": "page", "in": "query", "type": "integer"}, {"name": "page_size", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}}},
        "/notifications/unread-count": {"get": {"tags": ["notifications"], "summary": "Unread notification count", "responses": {"200": {"description": "OK"}}}},
        "/notifications/read-all": {"post": {"tags": ["notifications"], "summary": "Mark every notification read", "responses": {"200": {"description": "OK"}}}},
        "/notifications/{id}/read": {"post": {"tags": ["notifications"], "summary": "Mark one notification read", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found"}}}},
        "/notifications/stream": {"get": {"tags": ["notifications"], "summary": "Live unread count (server-sent events)", "produces": ["text/event-stream"], "responses": {"200": {"description": "Event stream"}, "503": {"description": "Shutting down"}}}},
        "/admin/digest-cycles": {"post": {"tags": ["admin"], "summary": "Run a digest cycle", "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}}},
        "/admin/digest-failures": {"get": {"tags": ["admin"], "summary": "List failed digest tasks", "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Feature Board API",
	Description:      "Feature board actions, notifications and live unread counts.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
