// Package docs holds the OpenAPI description served under /swagger.
// Regenerate with: swag init -g cmd/portal-auth/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/admin/audit": {
            "get": {
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Recent auth transitions",
                "parameters": [
                    {"type": "string", "description": "Only events of this user", "name": "user_id", "in": "query"},
                    {"type": "integer", "description": "Maximum number of events (default 50, max 200)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.auditListResponse"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "401": {"description": "Unauthorized", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "403": {"description": "Forbidden", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/v1/auth/refresh": {
            "post": {
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Refresh the session tokens",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.stateResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "502": {"description": "Bad Gateway", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/v1/auth/signin": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Sign in with e-mail and password",
                "parameters": [
                    {"description": "Credentials", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.signInRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.stateResponse"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "401": {"description": "Unauthorized", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "422": {"description": "Unprocessable Entity", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "502": {"description": "Bad Gateway", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/v1/auth/signout": {
            "post": {
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Sign out",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.stateResponse"}}
                }
            }
        },
        "/v1/auth/state": {
            "get": {
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Current auth state",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.stateResponse"}}
                }
            }
        },
        "/v1/auth/state/ws": {
            "get": {
                "tags": ["auth"],
                "summary": "Stream auth state changes",
                "responses": {
                    "101": {"description": "Switching Protocols"}
                }
            }
        },
        "/v1/me": {
            "get": {
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Current user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.meResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        }
    },
    "definitions": {
        "domain.AuthAuditEvent": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "event": {"type": "string"},
                "id": {"type": "string"},
                "occurred_at": {"type": "string"},
                "session_id": {"type": "string"},
                "user_id": {"type": "string"}
            }
        },
        "handler.auditListResponse": {
            "type": "object",
            "properties": {
                "count": {"type": "integer"},
                "events": {"type": "array", "items": {"$ref": "#/definitions/domain.AuthAuditEvent"}}
            }
        },
        "handler.meResponse": {
            "type": "object",
            "properties": {
                "department": {"type": "string"},
                "display_name": {"type": "string"},
                "email": {"type": "string"},
                "id": {"type": "string"},
                "profile": {"$ref": "#/definitions/handler.profileView"},
                "role": {"type": "string"}
            }
        },
        "handler.profileView": {
            "type": "object",
            "properties": {
                "avatar_url": {"type": "string"},
                "display_name": {"type": "string"}
            }
        },
        "handler.signInRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string", "minLength": 6}
            }
        },
        "handler.stateResponse": {
            "type": "object",
            "properties": {
                "authenticated": {"type": "boolean"},
                "department": {"type": "string"},
                "expires_at": {"type": "string"},
                "loading": {"type": "boolean"},
                "profile": {"$ref": "#/definitions/handler.profileView"},
                "role": {"type": "string"},
                "user": {"$ref": "#/definitions/handler.userView"},
                "version": {"type": "integer"}
            }
        },
        "handler.userView": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Portal Auth API",
	Description:      "Authentication context of the staff portal: session, user, role, profile and department.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
