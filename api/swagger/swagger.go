package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "CityGrid API",
        "description": "Zero-trust access control for city infrastructure operations",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Auth", "description": "Login, refresh rotation and emergency overrides"},
        {"name": "Infrastructure", "description": "Guarded traffic, water, power, lighting and emergency operations"},
        {"name": "Security", "description": "Global threat state"},
        {"name": "Audit", "description": "Access audit trail and exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Login",
                "parameters": [{"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {
                    "200": {"description": "Access token; refresh token set as HttpOnly cookie", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Locked, low trust or unverified phone", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate refresh cookie",
                "responses": {
                    "200": {"description": "New access token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid, expired or reused refresh token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Auth"],
                "summary": "Logout",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "Tokens revoked"}}
            }
        },
        "/auth/emergency-override": {
            "post": {
                "tags": ["Auth"],
                "summary": "Request emergency override",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "Override granted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Role may not request overrides"},
                    "409": {"description": "Override already active"},
                    "429": {"description": "Hourly cap reached"}
                }
            }
        },
        "/{module}/assets/{id}/commands": {
            "post": {
                "tags": ["Infrastructure"],
                "summary": "Send asset command",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "module", "required": true, "type": "string", "enum": ["traffic", "water", "power", "lighting", "emergency"]},
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/AssetCommandRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated asset", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Denied by the gatekeeper"},
                    "503": {"description": "Restricted mode or policy unavailable"}
                }
            }
        },
        "/security/threat": {
            "get": {
                "tags": ["Security"],
                "summary": "Current threat score and level",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "Threat state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/admin/audit": {
            "get": {
                "tags": ["Audit"],
                "summary": "List audit entries",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "Audit page", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "AssetCommandRequest": {
            "type": "object",
            "required": ["command"],
            "properties": {
                "command": {"type": "string"},
                "value": {"type": "object"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
