// Package docs holds the OpenAPI description of the query API.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "url": "https://github.com/goran-ethernal/EntityIndexor"
        },
        "license": {
            "name": "Apache 2.0",
            "url": "https://www.apache.org/licenses/LICENSE-2.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/block": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Blocks"],
                "summary": "Latest block",
                "responses": {
                    "200": {"description": "Latest block", "schema": {"$ref": "#/definitions/api.BlockResponse"}}
                }
            }
        },
        "/entities/{type}/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Entities"],
                "summary": "Get an entity",
                "parameters": [
                    {"type": "string", "description": "Entity type", "name": "type", "in": "path", "required": true},
                    {"type": "string", "description": "Entity id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Entity", "schema": {"$ref": "#/definitions/api.EntityResponse"}},
                    "404": {"description": "Unknown type or entity", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/entities/{type}/indexes/{index}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Entities"],
                "summary": "Query a secondary index",
                "parameters": [
                    {"type": "string", "description": "Entity type", "name": "type", "in": "path", "required": true},
                    {"type": "string", "description": "Index name", "name": "index", "in": "path", "required": true},
                    {"type": "string", "description": "Encoded index key to match exactly", "name": "exact_key", "in": "query"},
                    {"type": "string", "description": "First key of the page (inclusive)", "name": "starting_key", "in": "query"},
                    {"type": "integer", "default": 100, "description": "Page size", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "One page of results", "schema": {"$ref": "#/definitions/api.IndexQueryResponse"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Unknown type or index", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.BlockResponse": {
            "type": "object",
            "properties": {"number": {"type": "integer"}, "hash": {"type": "string"}}
        },
        "api.EntityResponse": {
            "type": "object",
            "properties": {"type": {"type": "string"}, "id": {"type": "string"}, "value": {}}
        },
        "api.IndexedEntity": {
            "type": "object",
            "properties": {"id": {"type": "string"}, "index_key": {"type": "string"}, "value": {}}
        },
        "api.IndexQueryResponse": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/api.IndexedEntity"}},
                "next_starting_key": {"type": "string"},
                "has_more": {"type": "boolean"},
                "block": {"$ref": "#/definitions/api.BlockResponse"}
            }
        },
        "api.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "message": {"type": "string"}, "code": {"type": "integer"}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "EntityIndexor API",
	Description:      "REST API for querying entities indexed by EntityIndexor",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
