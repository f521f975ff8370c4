// Package docs registers the OpenAPI description served at /swagger/*any.
// Regenerate with `swag init -g cmd/main.go` after changing handler annotations.
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
        "/health": {
            "get": {"produces": ["application/json"], "tags": ["system"], "summary": "Health check",
                "responses": {"200": {"description": "OK"}}}
        },
        "/auth/sign-up": {
            "post": {"consumes": ["application/json"], "produces": ["application/json"], "tags": ["auth"], "summary": "Sign up",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/credentials"}}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}}
        },
        "/auth/sign-in": {
            "post": {"consumes": ["application/json"], "produces": ["application/json"], "tags": ["auth"], "summary": "Sign in",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/credentials"}}],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}
        },
        "/api/v1/jobs": {
            "get": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["jobs"], "summary": "List active jobs",
                "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/jobs/fill": {
            "post": {"security": [{"BearerAuth": []}], "consumes": ["application/json"], "produces": ["application/json"], "tags": ["jobs"], "summary": "Start fill job",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.FillRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/job.StartResult"}}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}}
        },
        "/api/v1/jobs/mix": {
            "post": {"security": [{"BearerAuth": []}], "consumes": ["application/json"], "produces": ["application/json"], "tags": ["jobs"], "summary": "Start mix job",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.MixRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/job.StartResult"}}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}}
        },
        "/api/v1/jobs/send": {
            "post": {"security": [{"BearerAuth": []}], "consumes": ["application/json"], "produces": ["application/json"], "tags": ["jobs"], "summary": "Start send job",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SendRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/job.StartResult"}}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}}
        },
        "/api/v1/jobs/{type}": {
            "get": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["jobs"], "summary": "Get job status",
                "parameters": [{"enum": ["fill", "mix", "send"], "type": "string", "name": "type", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}}},
            "delete": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["jobs"], "summary": "Stop job",
                "parameters": [{"enum": ["fill", "mix", "send"], "type": "string", "name": "type", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}}}
        },
        "/api/v1/commands": {
            "post": {"security": [{"BearerAuth": []}], "consumes": ["application/json"], "produces": ["application/json"], "tags": ["commands"], "summary": "Submit wire command",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CommandRequest"}}],
                "responses": {"202": {"description": "Accepted"}, "400": {"description": "Bad Request"}, "503": {"description": "Service Unavailable"}}}
        },
        "/api/v1/rig": {
            "get": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["rig"], "summary": "Rig state",
                "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/emergency-stop": {
            "post": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["rig"], "summary": "Emergency stop",
                "responses": {"200": {"description": "OK"}, "500": {"description": "Internal Server Error"}}}
        },
        "/api/v1/history": {
            "get": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["history"], "summary": "Job history",
                "parameters": [
                    {"type": "string", "name": "from", "in": "query"},
                    {"type": "string", "name": "to", "in": "query"},
                    {"enum": ["fill", "mix", "send"], "type": "string", "name": "type", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}
        },
        "/api/v1/calibration/sensors/{probe}": {
            "post": {"security": [{"BearerAuth": []}], "consumes": ["application/json"], "produces": ["application/json"], "tags": ["calibration"], "summary": "Calibrate sensor probe",
                "parameters": [
                    {"enum": ["ph", "ec"], "type": "string", "name": "probe", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SensorCalibrationRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "502": {"description": "Bad Gateway"}}}
        },
        "/api/v1/calibration/flow-meters/{id}": {
            "post": {"security": [{"BearerAuth": []}], "consumes": ["application/json"], "produces": ["application/json"], "tags": ["calibration"], "summary": "Calibrate flow meter",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.FlowCalibrationRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}
        }
    },
    "definitions": {
        "credentials": {"type": "object", "required": ["username", "password"],
            "properties": {"username": {"type": "string"}, "password": {"type": "string"}}},
        "handlers.FillRequest": {"type": "object", "required": ["tank_id", "gallons"],
            "properties": {"tank_id": {"type": "integer", "example": 1}, "gallons": {"type": "integer", "example": 50}}},
        "handlers.MixRequest": {"type": "object", "required": ["tank_id"],
            "properties": {"tank_id": {"type": "integer", "example": 1}}},
        "handlers.SendRequest": {"type": "object", "required": ["tank_id", "room_id", "gallons"],
            "properties": {"tank_id": {"type": "integer", "example": 1}, "room_id": {"type": "integer", "example": 1}, "gallons": {"type": "integer", "example": 25}}},
        "handlers.CommandRequest": {"type": "object", "required": ["command"],
            "properties": {"command": {"type": "string", "example": "Start;Relay;3;ON;end"}}},
        "handlers.SensorCalibrationRequest": {"type": "object", "required": ["point"],
            "properties": {"point": {"type": "string", "example": "mid"}, "value": {"type": "number", "example": 7}}},
        "handlers.FlowCalibrationRequest": {"type": "object", "required": ["pulses_per_gallon"],
            "properties": {"pulses_per_gallon": {"type": "integer", "example": 220}}},
        "job.StartResult": {"type": "object",
            "properties": {"success": {"type": "boolean"}, "message": {"type": "string"}, "job": {"type": "object"}}}
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Nutrient mixer API",
	Description:      "Fill, mix and send jobs, raw rig commands and rig state for the nutrient mixing rig.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
