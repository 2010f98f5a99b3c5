// Package docs registers the Swagger description of the control API served
// at /api-docs.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/operations/{name}": {
            "post": {
                "summary": "Start an operation in the background",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "enum": ["start", "stop", "remove"], "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "accepted"},
                    "404": {"description": "unknown operation"},
                    "409": {"description": "another operation is in progress"},
                    "422": {"description": "configuration cannot drive any operation"}
                }
            }
        },
        "/api/v1/status": {
            "get": {
                "summary": "Latest container status report",
                "produces": ["application/json"],
                "responses": {"200": {"description": "services, allHealthy, inProgress, operation, lastResult"}}
            }
        },
        "/api/v1/logs": {
            "get": {
                "summary": "Shared operation log since a sequence number",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "integer", "name": "since", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "entries and the next sequence number"},
                    "400": {"description": "invalid since"}
                }
            },
            "delete": {
                "summary": "Clear the shared log",
                "responses": {"204": {"description": "cleared"}}
            }
        },
        "/api/v1/health/deep": {
            "get": {
                "summary": "Probe every stack dependency",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "all probes passed"},
                    "503": {"description": "at least one probe failed"}
                }
            }
        },
        "/health": {
            "get": {
                "summary": "Process liveness",
                "responses": {"200": {"description": "healthy"}}
            }
        },
        "/ready": {
            "get": {
                "summary": "Ready once a start completed successfully",
                "responses": {
                    "200": {"description": "ready"},
                    "503": {"description": "not ready"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:9206",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "nkrypt desktop bootstrapper API",
	Description:      "Starts, stops and removes the local nkrypt container stack and reports its status.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
